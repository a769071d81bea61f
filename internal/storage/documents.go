// Package storage implements the Storage Facade: the two
// persisted documents (cache, csp-config) plus an append/rotate archive,
// behind atomic get/set/update operations. Concrete backends (Redis,
// S3, local files) live in sibling packages and are selected at
// bootstrap per the operator's storage.backend configuration.
package storage

import (
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/ulid"
)

// Document names, used as storage keys by every backend.
const (
	DocCache     = "cache"
	DocCSPConfig = "csp-config"
)

// UsageRecord is one sampled usage observation. Counts holds one scalar
// per configured metric; Vectors carries any metric the application
// reports already split per dimension (tiered mode's vector-input
// path), keyed metric name -> dimension id -> count. Documents carry
// both JSON tags (Redis/S3 backends) and YAML tags (local-file backend)
// for the same normative field names.
type UsageRecord struct {
	Counts        map[string]int64            `json:"counts" yaml:"counts"`
	Vectors       map[string]map[string]int64 `json:"dimension_counts,omitempty" yaml:"dimension_counts,omitempty"`
	ReportingTime time.Time                   `json:"reporting_time" yaml:"reporting_time"`
	BaseProduct   string                      `json:"base_product" yaml:"base_product"`
}

// DimensionUnits is one (dimension, units) pair of a bill.
type DimensionUnits struct {
	Dimension string `json:"dimension" yaml:"dimension"`
	Units     int64  `json:"units" yaml:"units"`
}

// LastBill records the most recent successful metering call.
type LastBill struct {
	RecordID     string           `json:"record_id" yaml:"record_id"`
	MeteringTime time.Time        `json:"metering_time" yaml:"metering_time"`
	Dimensions   []DimensionUnits `json:"dimensions" yaml:"dimensions,omitempty"`
}

// IsEmpty reports whether no bill has ever been recorded.
func (b LastBill) IsEmpty() bool {
	return b.RecordID == ""
}

// Cache is the adapter's private, mutable, single-writer recovery
// state. A restart resumes correctly by reading this document back.
// SchemaVersion is stamped on every write; Bootstrap refuses to resume
// from a document written under a different schema version and reseeds
// instead.
type Cache struct {
	SchemaVersion     int           `json:"schema_version" yaml:"schema_version"`
	AdapterStartTime  time.Time     `json:"adapter_start_time" yaml:"adapter_start_time"`
	NextBillTime      time.Time     `json:"next_bill_time" yaml:"next_bill_time"`
	NextReportingTime time.Time     `json:"next_reporting_time" yaml:"next_reporting_time"`
	NextQueryTime     time.Time     `json:"next_query_time" yaml:"next_query_time"`
	UsageRecords      []UsageRecord `json:"usage_records" yaml:"usage_records"`
	LastBill          LastBill      `json:"last_bill" yaml:"last_bill"`
}

// CSPConfig is the adapter's externally readable status document.
// Readers must tolerate a brief inconsistency window: the adapter
// writes this document last in each cycle, after the cache.
type CSPConfig struct {
	Timestamp          time.Time              `json:"timestamp" yaml:"timestamp"`
	Expire             time.Time              `json:"expire" yaml:"expire"`
	BillingAPIAccessOK bool                   `json:"billing_api_access_ok" yaml:"billing_api_access_ok"`
	Errors             []string               `json:"errors" yaml:"errors"`
	LastBilled         time.Time              `json:"last_billed" yaml:"last_billed"`
	Usage              []DimensionUnits       `json:"usage" yaml:"usage"`
	CustomerCSPData    map[string]interface{} `json:"customer_csp_data,omitempty" yaml:"customer_csp_data,omitempty"`
	BaseProduct        string                 `json:"base_product" yaml:"base_product"`
	AdapterVersion     string                 `json:"adapter_version" yaml:"adapter_version"`
}

// ArchiveEntry is one retained historical billed cycle.
type ArchiveEntry struct {
	ID                   ulid.ULID        `json:"id" yaml:"id"`
	BilledAt             time.Time        `json:"billed_at" yaml:"billed_at"`
	Dimensions           []DimensionUnits `json:"dimensions" yaml:"dimensions"`
	UsageRecordsSnapshot []UsageRecord    `json:"usage_records_snapshot" yaml:"usage_records_snapshot"`
}
