// Package config provides configuration management for the CSP billing
// adapter. Configuration is loaded once, from a single YAML file plus
// environment overrides, validated, and never reloaded. Operators
// change configuration by restarting the adapter.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// defaultConfigFile is the conventional install path; operators override
// it with the CSP_ADAPTER_CONFIG_FILE environment variable.
const defaultConfigFile = "/etc/csp_billing_adapter/config.yaml"

// BillingInterval is the billing cadence
type BillingInterval string

const (
	BillingMonthly BillingInterval = "monthly"
	BillingHourly  BillingInterval = "hourly"
)

// UsageAggregation is the per-metric reduction rule
type UsageAggregation string

const (
	AggregationMaximum UsageAggregation = "maximum"
	AggregationAverage UsageAggregation = "average"
	AggregationCurrent UsageAggregation = "current"
)

// ConsumptionReporting selects the dimension-mapping mode
type ConsumptionReporting string

const (
	ReportingVolume ConsumptionReporting = "volume"
	ReportingTiered ConsumptionReporting = "tiered"
)

// DimensionConfig is one priced tier within a metric
type DimensionConfig struct {
	Dimension string `mapstructure:"dimension"`
	Min       *int64 `mapstructure:"min"`
	Max       *int64 `mapstructure:"max"` // nil = unbounded (only valid on the last dimension)
}

// MinConsumption floors a metric's aggregated value before dimension
// mapping.
type MinConsumption struct {
	Count int64 `mapstructure:"count"`
}

// MetricConfig describes one usage metric and how it maps to dimensions.
// Metrics are kept in a slice rather than a map so the configured
// ordering survives YAML round-trips (Go maps have no stable
// order; viper/mapstructure preserve list order).
type MetricConfig struct {
	Name                 string               `mapstructure:"name"`
	UsageAggregation     UsageAggregation     `mapstructure:"usage_aggregation"`
	ConsumptionReporting ConsumptionReporting `mapstructure:"consumption_reporting"`
	MinConsumption       *MinConsumption      `mapstructure:"min_consumption"`
	Dimensions           []DimensionConfig    `mapstructure:"dimensions"`
}

// StorageConfig selects and configures the Storage Facade backend(s).
type StorageConfig struct {
	// Backend selects the cache/csp-config document store: "redis" or
	// "file". Archive always uses ArchiveBackend (may differ, e.g. hot
	// state in Redis, cold archive in S3).
	Backend        string             `mapstructure:"backend"`
	ArchiveBackend string             `mapstructure:"archive_backend"` // "s3" or "file"
	Redis          RedisStorageConfig `mapstructure:"redis"`
	File           FileStorageConfig  `mapstructure:"file"`
	S3             S3StorageConfig    `mapstructure:"s3"`
}

type RedisStorageConfig struct {
	URL              string        `mapstructure:"url"`
	Password         string        `mapstructure:"password"`
	Database         int           `mapstructure:"database"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type FileStorageConfig struct {
	Directory string `mapstructure:"directory"`
}

type S3StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PathPrefix      string `mapstructure:"path_prefix"`
}

// CSPConfig configures the outbound CSP metering capability.
type CSPConfig struct {
	MeteringURL    string        `mapstructure:"metering_url"`
	AccountInfoURL string        `mapstructure:"account_info_url"`
	// MetadataURL serves the customer_csp_data blob; falls back to
	// AccountInfoURL when unset, since many CSP endpoints serve both.
	MetadataURL string        `mapstructure:"metadata_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// UsageConfig configures the inbound application usage capability.
type UsageConfig struct {
	EndpointURL string        `mapstructure:"endpoint_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig controls the adapter's structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// RetryConfig bounds the retry policy shared by Usage Collector, Biller,
// and cache-store writes.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MetricsServerConfig exposes adapter-internal Prometheus metrics for
// operator scraping.
type MetricsServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Config is the complete, validated, immutable adapter configuration.
type Config struct {
	Version                  string          `mapstructure:"version"`
	VersionCompatMin         string          `mapstructure:"version_compat_min"`
	VersionCompatMax         string          `mapstructure:"version_compat_max"`
	// SchemaVersion is internal bookkeeping distinct from the
	// operator-facing Version semver: it lets the adapter detect a
	// cache document written by an older build and refuse to resume
	// across an incompatible schema change rather than corrupt state.
	SchemaVersion            int             `mapstructure:"schema_version"`
	BillingInterval          BillingInterval `mapstructure:"billing_interval"`
	FixedBillingInterval     time.Duration   `mapstructure:"fixed_billing_interval"` // v1.2 override; zero disables
	QueryIntervalSeconds     int             `mapstructure:"query_interval"`
	ReportingIntervalSeconds int             `mapstructure:"reporting_interval"`
	ReportingAPIIsCumulative bool            `mapstructure:"reporting_api_is_cumulative"`
	ProductCode              string          `mapstructure:"product_code"`
	ArchiveRetentionMonths   int             `mapstructure:"archive_retention_period"`
	UsageMetrics             []MetricConfig  `mapstructure:"usage_metrics"`

	Storage StorageConfig       `mapstructure:"storage"`
	CSP     CSPConfig           `mapstructure:"csp"`
	Usage   UsageConfig         `mapstructure:"usage"`
	Logging LoggingConfig       `mapstructure:"logging"`
	Retry   RetryConfig         `mapstructure:"retry"`
	Metrics MetricsServerConfig `mapstructure:"metrics"`
}

// QueryInterval returns the configured query interval as a Duration.
func (c *Config) QueryInterval() time.Duration {
	return time.Duration(c.QueryIntervalSeconds) * time.Second
}

// ReportingInterval returns the configured reporting interval as a Duration.
func (c *Config) ReportingInterval() time.Duration {
	return time.Duration(c.ReportingIntervalSeconds) * time.Second
}

// Load reads, merges and validates the adapter configuration. The config
// file path defaults to defaultConfigFile and is overridable via
// CSP_ADAPTER_CONFIG_FILE; a missing or invalid file is fatal
func Load() (*Config, error) {
	// Optional .env for local development; ignored if absent.
	_ = godotenv.Load(".env")

	path := os.Getenv("CSP_ADAPTER_CONFIG_FILE")
	if path == "" {
		path = defaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CSP_ADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("query_interval", 60)
	v.SetDefault("reporting_interval", 3600)
	v.SetDefault("archive_retention_period", 12)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.archive_backend", "file")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("csp.timeout", 10*time.Second)
	v.SetDefault("usage.timeout", 10*time.Second)
	v.SetDefault("schema_version", 1)
}
