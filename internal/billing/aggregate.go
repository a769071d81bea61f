// Package billing implements the adapter's core usage-to-bill pipeline:
// aggregating raw usage samples per metric, mapping the aggregate to
// priced dimensions, and submitting the result to the CSP metering
// capability.
package billing

import (
	"fmt"
	"math"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
)

// Aggregate reduces usage_records to a single non-negative integer for
// one metric Records missing the metric key contribute 0.
func Aggregate(records []storage.UsageRecord, metric config.MetricConfig) (int64, error) {
	switch metric.UsageAggregation {
	case config.AggregationMaximum:
		return aggregateMaximum(records, metric.Name), nil
	case config.AggregationAverage:
		return aggregateAverage(records, metric.Name), nil
	case config.AggregationCurrent:
		return aggregateCurrent(records, metric.Name)
	default:
		return 0, apperror.NewUnexpectedError(
			fmt.Sprintf("metric %q: unknown usage_aggregation %q", metric.Name, metric.UsageAggregation), nil)
	}
}

func valueOf(rec storage.UsageRecord, name string) int64 {
	return rec.Counts[name]
}

func aggregateMaximum(records []storage.UsageRecord, name string) int64 {
	var max int64
	for _, r := range records {
		if v := valueOf(r, name); v > max {
			max = v
		}
	}
	return max
}

func aggregateAverage(records []storage.UsageRecord, name string) int64 {
	if len(records) == 0 {
		return 0
	}
	var sum int64
	for _, r := range records {
		sum += valueOf(r, name)
	}
	return int64(math.Ceil(float64(sum) / float64(len(records))))
}

// aggregateCurrent implements the "current" reduction as the last
// sample when at most one sample exists. Handed more than one sample it
// fails closed with an error rather than silently guessing which sample
// is "current"; the control loop surfaces this to the ledger instead of
// billing on an ambiguous aggregate.
func aggregateCurrent(records []storage.UsageRecord, name string) (int64, error) {
	switch len(records) {
	case 0:
		return 0, nil
	case 1:
		return valueOf(records[0], name), nil
	default:
		return 0, apperror.NewUnexpectedError(
			fmt.Sprintf("metric %q: current aggregation is not defined for %d samples in one cycle", name, len(records)), nil)
	}
}
