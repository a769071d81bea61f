// Package capability defines the external plugin capabilities the core
// consumes: Storage (realized directly by internal/storage.Store),
// CSP, Usage and General. Exactly one implementation of each is bound at
// process startup by Registry; duplicates or omissions are a fatal
// configuration error.
package capability

import (
	"context"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// MeterStatus normalizes both legacy string and structured dict CSP
// responses.
type MeterStatus string

const (
	MeterOK     MeterStatus = "ok"
	MeterFailed MeterStatus = "failed"
)

// MeterResult is the normalized outcome of a metering call.
type MeterResult struct {
	Status   MeterStatus
	RecordID string
	Detail   string
}

// CSP is the outbound metered-billing capability.
type CSP interface {
	// MeterBilling submits a dimension vector for the given timestamp.
	// dryRun requests a zero-impact validation call (used by Bootstrap).
	MeterBilling(ctx context.Context, dimensions []storage.DimensionUnits, timestamp time.Time, dryRun bool) (MeterResult, error)

	// GetCSPConfigMetadata returns the opaque per-customer CSP metadata
	// blob stored verbatim in csp-config.customer_csp_data.
	GetCSPConfigMetadata(ctx context.Context) (map[string]interface{}, error)

	// GetAccountInfo returns CSP account/identity information used only
	// for operator diagnostics; the core does not interpret its shape.
	GetAccountInfo(ctx context.Context) (map[string]interface{}, error)
}

// Usage is the inbound application-usage capability.
type Usage interface {
	// GetUsageData returns a usage dict containing at minimum
	// reporting_time and base_product plus one entry per configured
	// metric; the Usage Collector validates the schema.
	GetUsageData(ctx context.Context, now time.Time) (map[string]interface{}, error)
}

// General covers the remaining plugin operations.
type General interface {
	// SetupAdapter is an idempotent preflight hook run at Bootstrap.
	SetupAdapter(ctx context.Context) error
	// LoadDefaults supplies baseline defaults. Bootstrap fetches and logs
	// them; they are not merged into the loaded config.Config.
	LoadDefaults(ctx context.Context) (map[string]interface{}, error)
	// GetVersion returns the adapter build version string.
	GetVersion() string
}
