package config

import (
	"fmt"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
)

// Validate checks every configuration invariant. Any failure is
// returned as an *apperror.AppError of KindConfig, naming the offending
// key, and is fatal at startup; it never recurs mid-run because
// configuration is loaded exactly once.
func (c *Config) Validate() error {
	if c.Version == "" {
		return apperror.NewConfigError("version: required field is missing", nil)
	}
	v, err := ParseSemver(c.Version)
	if err != nil {
		return apperror.NewConfigError("version: "+err.Error(), nil)
	}
	ok, err := CompatibleRange(v, c.VersionCompatMin, c.VersionCompatMax)
	if err != nil {
		return apperror.NewConfigError("version_compat: "+err.Error(), nil)
	}
	if !ok {
		return apperror.NewConfigError(
			fmt.Sprintf("version: %s is outside the operator-configured compatibility range [%s, %s]",
				c.Version, c.VersionCompatMin, c.VersionCompatMax), nil)
	}

	switch c.BillingInterval {
	case BillingMonthly, BillingHourly:
	default:
		return apperror.NewConfigError(
			fmt.Sprintf("billing_interval: %q is not one of monthly, hourly", c.BillingInterval), nil)
	}

	if c.QueryIntervalSeconds <= 0 {
		return apperror.NewConfigError("query_interval: must be a positive integer", nil)
	}
	if c.ReportingIntervalSeconds <= 0 {
		return apperror.NewConfigError("reporting_interval: must be a positive integer", nil)
	}
	if c.FixedBillingInterval < 0 {
		return apperror.NewConfigError("fixed_billing_interval: must not be negative", nil)
	}

	billingInterval := c.effectiveBillingInterval()
	if c.QueryInterval() > c.ReportingInterval() {
		return apperror.NewConfigError("query_interval: must be <= reporting_interval", nil)
	}
	if billingInterval > 0 && c.ReportingInterval() > billingInterval {
		return apperror.NewConfigError("reporting_interval: must be <= billing_interval", nil)
	}

	if c.ProductCode == "" {
		return apperror.NewConfigError("product_code: required field is missing", nil)
	}

	if c.ArchiveRetentionMonths <= 0 {
		return apperror.NewConfigError("archive_retention_period: must be a positive integer", nil)
	}

	if len(c.UsageMetrics) == 0 {
		return apperror.NewConfigError("usage_metrics: at least one metric is required", nil)
	}

	seen := make(map[string]bool, len(c.UsageMetrics))
	for i := range c.UsageMetrics {
		m := &c.UsageMetrics[i]
		if m.Name == "" {
			return apperror.NewConfigError(fmt.Sprintf("usage_metrics[%d].name: required field is missing", i), nil)
		}
		if seen[m.Name] {
			return apperror.NewConfigError(fmt.Sprintf("usage_metrics: duplicate metric name %q", m.Name), nil)
		}
		seen[m.Name] = true

		if err := m.validate(); err != nil {
			return apperror.NewConfigError(fmt.Sprintf("usage_metrics[%s]: %v", m.Name, err), nil)
		}
	}

	if c.Storage.Backend != "redis" && c.Storage.Backend != "file" {
		return apperror.NewConfigError(fmt.Sprintf("storage.backend: %q is not one of redis, file", c.Storage.Backend), nil)
	}
	if c.Storage.ArchiveBackend != "s3" && c.Storage.ArchiveBackend != "file" {
		return apperror.NewConfigError(fmt.Sprintf("storage.archive_backend: %q is not one of s3, file", c.Storage.ArchiveBackend), nil)
	}

	return nil
}

// effectiveBillingInterval returns the billing interval as a Duration for
// comparison purposes: a fixed override (v1.2) wins when set, hourly is
// exactly an hour, and monthly has no fixed duration (calendar math
// handles it in package schedule) so it contributes 0 here and is
// excluded from the reporting<=billing comparison above.
func (c *Config) effectiveBillingInterval() time.Duration {
	if c.FixedBillingInterval > 0 {
		return c.FixedBillingInterval
	}
	if c.BillingInterval == BillingHourly {
		return time.Hour
	}
	return 0
}

func (m *MetricConfig) validate() error {
	switch m.UsageAggregation {
	case AggregationMaximum, AggregationAverage, AggregationCurrent:
	default:
		return fmt.Errorf("usage_aggregation: %q is not one of maximum, average, current", m.UsageAggregation)
	}

	switch m.ConsumptionReporting {
	case ReportingVolume, ReportingTiered:
	default:
		return fmt.Errorf("consumption_reporting: %q is not one of volume, tiered", m.ConsumptionReporting)
	}

	if m.MinConsumption != nil && m.MinConsumption.Count < 0 {
		return fmt.Errorf("min_consumption.count: must not be negative")
	}

	if len(m.Dimensions) == 0 {
		return fmt.Errorf("dimensions: at least one dimension is required")
	}

	return validateDimensionOrdering(m.Dimensions)
}

// validateDimensionOrdering enforces the dimension ordering invariant:
// dimensions sorted by ascending tier boundary, each
// dimension's min equal to the previous dimension's max + 1, and only the
// last dimension may be unbounded.
func validateDimensionOrdering(dims []DimensionConfig) error {
	for i, d := range dims {
		if d.Dimension == "" {
			return fmt.Errorf("dimensions[%d].dimension: required field is missing", i)
		}
		if d.Max == nil && i != len(dims)-1 {
			return fmt.Errorf("dimensions[%d]: only the highest dimension may omit max", i)
		}
		if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
			return fmt.Errorf("dimensions[%d]: min must be <= max", i)
		}
		if i == 0 {
			continue
		}
		prev := dims[i-1]
		if prev.Max == nil {
			return fmt.Errorf("dimensions[%d]: dimension follows an unbounded dimension", i)
		}
		wantMin := *prev.Max + 1
		if d.Min == nil || *d.Min != wantMin {
			return fmt.Errorf("dimensions[%d]: min must equal dimensions[%d].max + 1 (%d)", i, i-1, wantMin)
		}
	}
	return nil
}
