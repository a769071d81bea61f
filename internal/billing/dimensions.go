package billing

import (
	"errors"
	"fmt"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// ErrNoMatchingDimension is returned by MapDimensions in volume mode when
// V falls inside no configured dimension's [min, max] range (below the
// lowest min, or above the max of a bounded highest dimension). The
// control loop treats this as "skip billing this cycle, state unchanged"
// and appends the ledger message itself.
var ErrNoMatchingDimension = errors.New("no matching dimension for volume billing")

// ErrVectorUnderVolumeMode is returned when the application reports a
// metric already split per dimension (any vector input, whatever its
// number of non-zero entries) but the metric is configured for volume
// billing, which expects a single scalar.
var ErrVectorUnderVolumeMode = errors.New("application reported multiple dimensions under volume billing mode")

// applyMinConsumption lifts a strictly-positive value up to the
// configured min_consumption floor; zero is never lifted.
func applyMinConsumption(v int64, metric config.MetricConfig) int64 {
	if metric.MinConsumption == nil {
		return v
	}
	m := metric.MinConsumption.Count
	if v > 0 && v < m {
		return m
	}
	return v
}

// MapDimensions maps an aggregated scalar V (or, in tiered mode, a
// reported per-dimension vector) to the ordered dimension-units vector
// submitted to the CSP. vector is nil for a scalar-aggregated metric, and
// non-nil when the application itself reports usage already split by
// dimension (tiered mode's vector-input path, which passes through
// unchanged).
func MapDimensions(v int64, metric config.MetricConfig, vector map[string]int64) ([]storage.DimensionUnits, error) {
	if vector != nil {
		if metric.ConsumptionReporting != config.ReportingTiered {
			return nil, fmt.Errorf("metric %q: %w", metric.Name, ErrVectorUnderVolumeMode)
		}
		return passthroughVector(metric, vector), nil
	}

	v = applyMinConsumption(v, metric)

	switch metric.ConsumptionReporting {
	case config.ReportingVolume:
		return mapVolume(v, metric)
	case config.ReportingTiered:
		return mapTieredScalar(v, metric), nil
	default:
		return nil, fmt.Errorf("metric %q: unknown consumption_reporting %q", metric.Name, metric.ConsumptionReporting)
	}
}

func mapVolume(v int64, metric config.MetricConfig) ([]storage.DimensionUnits, error) {
	out := make([]storage.DimensionUnits, len(metric.Dimensions))
	for i, d := range metric.Dimensions {
		out[i] = storage.DimensionUnits{Dimension: d.Dimension, Units: 0}
	}

	if v == 0 {
		return out, nil
	}

	for i, d := range metric.Dimensions {
		min := int64(0)
		if d.Min != nil {
			min = *d.Min
		}
		if v < min {
			continue
		}
		if d.Max == nil || v <= *d.Max {
			out[i].Units = v
			return out, nil
		}
	}

	return nil, ErrNoMatchingDimension
}

// mapTieredScalar partitions V greedily across ordered tiers. Capacity
// is measured from the running previous tier's max (starting at 0), not
// from the dimension's own declared min: with tiers [0-30],[31-40] a
// value of 36 fills the first tier with 30 and spills 6, whereas
// max-min+1 would over-allocate the first tier by one unit whenever its
// min is 0.
func mapTieredScalar(v int64, metric config.MetricConfig) []storage.DimensionUnits {
	out := make([]storage.DimensionUnits, len(metric.Dimensions))
	remaining := v
	var prevMax int64

	for i, d := range metric.Dimensions {
		isLast := i == len(metric.Dimensions)-1
		if d.Max == nil || isLast {
			out[i] = storage.DimensionUnits{Dimension: d.Dimension, Units: remaining}
			remaining = 0
			continue
		}

		capacity := *d.Max - prevMax
		if capacity < 0 {
			capacity = 0
		}
		units := remaining
		if units > capacity {
			units = capacity
		}
		if units < 0 {
			units = 0
		}
		out[i] = storage.DimensionUnits{Dimension: d.Dimension, Units: units}
		remaining -= units
		prevMax = *d.Max
	}

	return out
}

// passthroughVector reports each configured dimension's value exactly as
// received from the application (tiered mode, vector input).
func passthroughVector(metric config.MetricConfig, vector map[string]int64) []storage.DimensionUnits {
	out := make([]storage.DimensionUnits, len(metric.Dimensions))
	for i, d := range metric.Dimensions {
		out[i] = storage.DimensionUnits{Dimension: d.Dimension, Units: vector[d.Dimension]}
	}
	return out
}
