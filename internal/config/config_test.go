package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
)

func ptr(n int64) *int64 { return &n }

func validConfig() *config.Config {
	return &config.Config{
		Version:                  "1.0.0",
		VersionCompatMin:         "1.0.0",
		VersionCompatMax:         "1.99.99",
		BillingInterval:          config.BillingHourly,
		QueryIntervalSeconds:     60,
		ReportingIntervalSeconds: 3600,
		ProductCode:              "prod-1",
		ArchiveRetentionMonths:   12,
		UsageMetrics: []config.MetricConfig{
			{
				Name:                 "requests",
				UsageAggregation:     config.AggregationMaximum,
				ConsumptionReporting: config.ReportingVolume,
				Dimensions: []config.DimensionConfig{
					{Dimension: "d1", Min: ptr(0), Max: nil},
				},
			},
		},
		Storage: config.StorageConfig{Backend: "file", ArchiveBackend: "file"},
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingVersion(t *testing.T) {
	cfg := validConfig()
	cfg.Version = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_VersionOutsideCompatRange(t *testing.T) {
	cfg := validConfig()
	cfg.Version = "2.0.0"
	assert.Error(t, cfg.Validate())
}

func TestValidate_VersionWithinCompatRange(t *testing.T) {
	cfg := validConfig()
	cfg.Version = "1.5.0"
	require.NoError(t, cfg.Validate())
}

func TestValidate_BillingIntervalEnum(t *testing.T) {
	cfg := validConfig()
	cfg.BillingInterval = "weekly"
	assert.Error(t, cfg.Validate())
}

func TestValidate_QueryIntervalMustBeLTEReportingInterval(t *testing.T) {
	cfg := validConfig()
	cfg.QueryIntervalSeconds = 7200
	cfg.ReportingIntervalSeconds = 3600
	assert.Error(t, cfg.Validate())
}

func TestValidate_ReportingIntervalMustBeLTEBillingInterval(t *testing.T) {
	cfg := validConfig()
	cfg.BillingInterval = config.BillingHourly
	cfg.QueryIntervalSeconds = 60
	cfg.ReportingIntervalSeconds = 7200 // > 1 hour billing interval
	assert.Error(t, cfg.Validate())
}

func TestValidate_MonthlyBillingSkipsReportingComparison(t *testing.T) {
	cfg := validConfig()
	cfg.BillingInterval = config.BillingMonthly
	cfg.QueryIntervalSeconds = 60
	cfg.ReportingIntervalSeconds = 3600 * 24 * 10 // ten days, well under a month but no fixed duration to compare against
	require.NoError(t, cfg.Validate())
}

func TestValidate_ProductCodeRequired(t *testing.T) {
	cfg := validConfig()
	cfg.ProductCode = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_UsageMetricsNonEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_UsageMetricsUniqueNames(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics = append(cfg.UsageMetrics, cfg.UsageMetrics[0])
	assert.Error(t, cfg.Validate())
}

func TestValidate_DimensionOrdering_ContiguousMinMax(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].Dimensions = []config.DimensionConfig{
		{Dimension: "d1", Min: ptr(0), Max: ptr(30)},
		{Dimension: "d2", Min: ptr(31), Max: ptr(40)},
		{Dimension: "d3", Min: ptr(41), Max: nil},
	}
	require.NoError(t, cfg.Validate())
}

func TestValidate_DimensionOrdering_GapIsRejected(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].Dimensions = []config.DimensionConfig{
		{Dimension: "d1", Min: ptr(0), Max: ptr(30)},
		{Dimension: "d2", Min: ptr(35), Max: nil}, // gap between 30 and 35
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_DimensionOrdering_OnlyLastMayBeUnbounded(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].Dimensions = []config.DimensionConfig{
		{Dimension: "d1", Min: ptr(0), Max: nil},
		{Dimension: "d2", Min: ptr(31), Max: ptr(40)},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_UsageAggregationEnum(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].UsageAggregation = "median"
	assert.Error(t, cfg.Validate())
}

func TestValidate_ConsumptionReportingEnum(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].ConsumptionReporting = "flat"
	assert.Error(t, cfg.Validate())
}

func TestValidate_MinConsumptionNegativeRejected(t *testing.T) {
	cfg := validConfig()
	cfg.UsageMetrics[0].MinConsumption = &config.MinConsumption{Count: -1}
	assert.Error(t, cfg.Validate())
}

func TestValidate_StorageBackendEnum(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "mongodb"
	assert.Error(t, cfg.Validate())
}

func TestValidate_StorageArchiveBackendEnum(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.ArchiveBackend = "ftp"
	assert.Error(t, cfg.Validate())
}

func TestParseSemver_RejectsNonThreePart(t *testing.T) {
	_, err := config.ParseSemver("1.0")
	assert.Error(t, err)
}

func TestParseSemver_AcceptsPrereleaseSuffix(t *testing.T) {
	v, err := config.ParseSemver("1.2.3-rc1")
	require.NoError(t, err)
	assert.Equal(t, config.Semver{Major: 1, Minor: 2, Patch: 3}, v)
}

func TestCompatibleRange_UnboundedWhenEmpty(t *testing.T) {
	v, err := config.ParseSemver("9.9.9")
	require.NoError(t, err)
	ok, err := config.CompatibleRange(v, "", "")
	require.NoError(t, err)
	assert.True(t, ok)
}
