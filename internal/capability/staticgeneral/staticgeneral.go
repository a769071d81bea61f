// Package staticgeneral is the adapter's default General capability: a
// no-op SetupAdapter (no external preflight system to call), a fixed
// baseline-defaults map, and the adapter's own build version. Deployments
// with a real setup/defaults service can replace this with another
// General implementation bound through capability.Registry.
package staticgeneral

import (
	"context"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/version"
)

// Client is the default General capability.
type Client struct {
	defaults map[string]interface{}
}

// New returns a Client seeded with the given baseline defaults, which
// LoadDefaults returns unchanged.
func New(defaults map[string]interface{}) *Client {
	return &Client{defaults: defaults}
}

// SetupAdapter is a no-op: this implementation has no external setup
// system to call, but the hook stays in place so a real one can be
// substituted without changing the control loop.
func (c *Client) SetupAdapter(_ context.Context) error {
	return nil
}

// LoadDefaults returns the baseline defaults given at construction.
func (c *Client) LoadDefaults(_ context.Context) (map[string]interface{}, error) {
	return c.defaults, nil
}

// GetVersion returns the adapter's build version.
func (c *Client) GetVersion() string {
	return version.Get()
}
