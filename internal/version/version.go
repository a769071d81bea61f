// Package version holds the adapter's build version, set via ldflags.
package version

// Version is the adapter's build version. Overridden at build time with
//
//	go build -ldflags="-X github.com/SUSE-Enceladus/csp-billing-adapter/internal/version.Version=v1.4.0" ./cmd/adapter
var Version = "dev"

// Get returns the current build version.
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
