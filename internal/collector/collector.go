// Package collector implements the usage collector: it calls the
// external Usage capability, validates the returned mapping
// against the configured metric schema, and retries transient failures
// through pkg/retry.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

// Collector wraps a Usage capability with the adapter's retry and
// schema-validation policy.
type Collector struct {
	usage    capability.Usage
	retryCfg retry.Config
	metrics  []config.MetricConfig
}

// New builds a Collector validating against the given metric list.
func New(usage capability.Usage, retryCfg retry.Config, metrics []config.MetricConfig) *Collector {
	return &Collector{usage: usage, retryCfg: retryCfg, metrics: metrics}
}

// Result is the outcome of one collection attempt.
type Result struct {
	Record storage.UsageRecord
	// Present is false when the attempt exhausted retries or the record
	// failed schema validation; the cycle proceeds without a new sample.
	Present bool
	// LedgerMessage is set when Present is false due to a retryable
	// failure exhausting its attempts; schema-invalid
	// records are dropped silently aside from a warning log, not a
	// ledger entry, since they are a data-quality issue on the
	// application side rather than an adapter-operational one.
	LedgerMessage string
	// InvalidKeys names the keys of a schema-invalid record for the
	// caller's warning log. Keys only, never values, so tenant data
	// stays out of logs.
	InvalidKeys []string
}

// Collect fetches one usage sample for now.
func (c *Collector) Collect(ctx context.Context, now time.Time) Result {
	var raw map[string]interface{}
	err := retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) error {
		var err error
		raw, err = c.usage.GetUsageData(ctx, now)
		return err
	})
	if err != nil {
		return Result{LedgerMessage: fmt.Sprintf("Usage data retrieval failed: %v", err)}
	}

	record, ok := c.validate(raw)
	if !ok {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		return Result{InvalidKeys: keys}
	}
	return Result{Record: record, Present: true}
}

// validate confirms the mapping carries reporting_time, base_product, and
// a numeric entry for every configured metric. Invalid
// records are dropped with a warning logged by the caller, not here,
// since only the caller holds the logger/ledger context for this cycle.
func (c *Collector) validate(raw map[string]interface{}) (storage.UsageRecord, bool) {
	reportingTimeRaw, ok := raw["reporting_time"]
	if !ok {
		return storage.UsageRecord{}, false
	}
	reportingTimeStr, ok := reportingTimeRaw.(string)
	if !ok {
		return storage.UsageRecord{}, false
	}
	reportingTime, err := time.Parse(time.RFC3339, reportingTimeStr)
	if err != nil {
		return storage.UsageRecord{}, false
	}

	baseProduct, ok := raw["base_product"].(string)
	if !ok {
		return storage.UsageRecord{}, false
	}

	counts := make(map[string]int64, len(c.metrics))
	var vectors map[string]map[string]int64
	for _, m := range c.metrics {
		v, ok := raw[m.Name]
		if !ok {
			return storage.UsageRecord{}, false
		}
		// A metric may come back as one scalar, or already split per
		// dimension as an object of dimension id -> count.
		if obj, isObj := v.(map[string]interface{}); isObj {
			vec := make(map[string]int64, len(obj))
			for dim, dv := range obj {
				n, ok := toInt64(dv)
				if !ok || n < 0 {
					return storage.UsageRecord{}, false
				}
				vec[dim] = n
			}
			if vectors == nil {
				vectors = make(map[string]map[string]int64)
			}
			vectors[m.Name] = vec
			continue
		}
		n, ok := toInt64(v)
		if !ok || n < 0 {
			return storage.UsageRecord{}, false
		}
		counts[m.Name] = n
	}

	return storage.UsageRecord{
		Counts:        counts,
		Vectors:       vectors,
		ReportingTime: reportingTime,
		BaseProduct:   baseProduct,
	}, true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
