package adapterloop

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/billing"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/collector"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/ledger"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/metrics"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

type stubCSP struct {
	mock.Mock
}

func (m *stubCSP) MeterBilling(ctx context.Context, dimensions []storage.DimensionUnits, timestamp time.Time, dryRun bool) (capability.MeterResult, error) {
	args := m.Called(ctx, dimensions, timestamp, dryRun)
	return args.Get(0).(capability.MeterResult), args.Error(1)
}

func (m *stubCSP) GetCSPConfigMetadata(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}

func (m *stubCSP) GetAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}

type stubUsage struct {
	mock.Mock
}

func (m *stubUsage) GetUsageData(ctx context.Context, now time.Time) (map[string]interface{}, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type stubArchive struct {
	mock.Mock
}

func (m *stubArchive) AppendArchive(ctx context.Context, entry storage.ArchiveEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *stubArchive) PruneArchive(ctx context.Context, olderThan time.Time) error {
	args := m.Called(ctx, olderThan)
	return args.Error(0)
}

func (m *stubArchive) ListArchive(ctx context.Context) ([]storage.ArchiveEntry, error) {
	return nil, nil
}

type stubStore struct {
	mock.Mock
}

func (m *stubStore) GetCache(ctx context.Context) (storage.Cache, bool, error) {
	return storage.Cache{}, false, nil
}

func (m *stubStore) PutCache(ctx context.Context, doc storage.Cache) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *stubStore) GetCSPConfig(ctx context.Context) (storage.CSPConfig, bool, error) {
	return storage.CSPConfig{}, false, nil
}

func (m *stubStore) PutCSPConfig(ctx context.Context, doc storage.CSPConfig) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func oneMetricConfig() *config.Config {
	return &config.Config{
		BillingInterval:          config.BillingHourly,
		QueryIntervalSeconds:     60,
		ReportingIntervalSeconds: 3600,
		ArchiveRetentionMonths:   12,
		ProductCode:              "prod-1",
		UsageMetrics: []config.MetricConfig{
			{
				Name:                 "requests",
				UsageAggregation:     config.AggregationMaximum,
				ConsumptionReporting: config.ReportingVolume,
				Dimensions: []config.DimensionConfig{
					{Dimension: "d1", Min: int64Ptr(0), Max: nil},
				},
			},
		},
		Retry: config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func int64Ptr(n int64) *int64 { return &n }

func newTestLoop(cfg *config.Config, csp capability.CSP, usage capability.Usage, store storage.Store, archive storage.ArchiveStore) *Loop {
	return &Loop{
		cfg:    cfg,
		reg:    &capability.Registry{Storage: store, Archive: archive, CSP: csp, Usage: usage},
		logger: silentLogger(),
		ledger: ledger.New(),
		biller: billing.NewBiller(csp),
		collector: collector.New(usage, retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay,
		}, cfg.UsageMetrics),
		state: StateIdleWait,
	}
}

func TestDoIdleWait_AdvancesToCollecting(t *testing.T) {
	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.NextQueryTime = time.Now().Add(-time.Minute)

	next := l.doIdleWait(context.Background())

	assert.Equal(t, StateCollecting, next)
}

func TestDoCollecting_RecordAppendedAndAdvancesToPersistingWhenNothingDue(t *testing.T) {
	usage := &stubUsage{}
	now := time.Now()
	usage.On("GetUsageData", mock.Anything, mock.Anything).Return(map[string]interface{}{
		"reporting_time": now.Format(time.RFC3339),
		"base_product":   "prod-1",
		"requests":       float64(7),
	}, nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, usage, &stubStore{}, &stubArchive{})
	l.cache.NextReportingTime = now.Add(time.Hour)
	l.cache.NextBillTime = now.Add(time.Hour)

	next := l.doCollecting(context.Background())

	require.Len(t, l.cache.UsageRecords, 1)
	assert.Equal(t, "prod-1", l.cspConfig.BaseProduct)
	assert.Equal(t, StatePersisting, next)
}

func TestDoCollecting_BillDueRoutesToBilling(t *testing.T) {
	usage := &stubUsage{}
	now := time.Now()
	usage.On("GetUsageData", mock.Anything, mock.Anything).Return(map[string]interface{}{
		"reporting_time": now.Format(time.RFC3339),
		"base_product":   "prod-1",
		"requests":       float64(7),
	}, nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, usage, &stubStore{}, &stubArchive{})
	l.cache.NextReportingTime = now.Add(time.Hour)
	l.cache.NextBillTime = now.Add(-time.Minute)

	next := l.doCollecting(context.Background())

	assert.Equal(t, StateBilling, next)
}

func TestDoCollecting_ReportingHeartbeatBeforeBill(t *testing.T) {
	usage := &stubUsage{}
	now := time.Now()
	usage.On("GetUsageData", mock.Anything, mock.Anything).Return(map[string]interface{}{
		"reporting_time": now.Format(time.RFC3339),
		"base_product":   "prod-1",
		"requests":       float64(7),
	}, nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, usage, &stubStore{}, &stubArchive{})
	l.cache.NextReportingTime = now.Add(-time.Minute)
	l.cache.NextBillTime = now.Add(time.Hour)

	next := l.doCollecting(context.Background())

	assert.Equal(t, StateReporting, next)
}

func TestDoReporting_RoutesToBillingWhenDue(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, true).
		Return(capability.MeterResult{Status: capability.MeterOK}, nil)

	l := newTestLoop(oneMetricConfig(), csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.NextBillTime = time.Now().Add(-time.Second)

	next := l.doReporting(context.Background())

	assert.Equal(t, StateBilling, next)
}

func TestDoReporting_HeartbeatIsDryRunWhenAPINotCumulative(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, true).
		Return(capability.MeterResult{Status: capability.MeterOK}, nil)

	l := newTestLoop(oneMetricConfig(), csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{Counts: map[string]int64{"requests": 9}}}
	l.cache.NextBillTime = time.Now().Add(time.Hour)

	next := l.doReporting(context.Background())

	assert.Equal(t, StatePersisting, next)
	// The heartbeat never clears the window's records.
	assert.Len(t, l.cache.UsageRecords, 1)
	csp.AssertCalled(t, "MeterBilling", mock.Anything, mock.Anything, mock.Anything, true)
}

func TestDoReporting_HeartbeatIsRealReportWhenAPICumulative(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, false).
		Return(capability.MeterResult{Status: capability.MeterOK, RecordID: "hb-1"}, nil)

	cfg := oneMetricConfig()
	cfg.ReportingAPIIsCumulative = true
	l := newTestLoop(cfg, csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{Counts: map[string]int64{"requests": 9}}}
	l.cache.NextBillTime = time.Now().Add(time.Hour)

	next := l.doReporting(context.Background())

	assert.Equal(t, StatePersisting, next)
	assert.Len(t, l.cache.UsageRecords, 1)
	csp.AssertCalled(t, "MeterBilling", mock.Anything, mock.Anything, mock.Anything, false)
}

func TestDoReporting_FailureMarksBillingAPIAccessNotOK(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, true).
		Return(capability.MeterResult{Status: capability.MeterFailed, Detail: "throttled"}, nil)

	l := newTestLoop(oneMetricConfig(), csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cspConfig.BillingAPIAccessOK = true
	l.cache.NextBillTime = time.Now().Add(time.Hour)

	next := l.doReporting(context.Background())

	assert.Equal(t, StatePersisting, next)
	assert.False(t, l.cspConfig.BillingAPIAccessOK)
	assert.False(t, l.ledger.Empty())
}

func TestDoBilling_SuccessAdvancesToArchiving(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, false).
		Return(capability.MeterResult{Status: capability.MeterOK, RecordID: "rec-1"}, nil)

	l := newTestLoop(oneMetricConfig(), csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{Counts: map[string]int64{"requests": 20}}}

	next := l.doBilling(context.Background())

	assert.Equal(t, StateArchiving, next)
	assert.True(t, l.cspConfig.BillingAPIAccessOK)
	assert.Empty(t, l.cache.UsageRecords)
	assert.Equal(t, "rec-1", l.cache.LastBill.RecordID)
}

func TestDoBilling_FailureStaysCycleAtPersisting(t *testing.T) {
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, false).
		Return(capability.MeterResult{Status: capability.MeterFailed, Detail: "quota exceeded"}, nil)

	l := newTestLoop(oneMetricConfig(), csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{Counts: map[string]int64{"requests": 20}}}

	next := l.doBilling(context.Background())

	assert.Equal(t, StatePersisting, next)
	assert.False(t, l.cspConfig.BillingAPIAccessOK)
	assert.False(t, l.ledger.Empty())
}

func TestDoBilling_VectorInput_TieredPassthrough(t *testing.T) {
	cfg := oneMetricConfig()
	cfg.UsageMetrics[0].ConsumptionReporting = config.ReportingTiered

	var submitted []storage.DimensionUnits
	csp := &stubCSP{}
	csp.On("MeterBilling", mock.Anything, mock.Anything, mock.Anything, false).
		Run(func(args mock.Arguments) {
			submitted = args.Get(1).([]storage.DimensionUnits)
		}).
		Return(capability.MeterResult{Status: capability.MeterOK, RecordID: "rec-2"}, nil)

	l := newTestLoop(cfg, csp, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{
		Vectors: map[string]map[string]int64{"requests": {"d1": 42}},
	}}

	next := l.doBilling(context.Background())

	assert.Equal(t, StateArchiving, next)
	require.Len(t, submitted, 1)
	assert.Equal(t, int64(42), submitted[0].Units)
}

func TestDoBilling_VectorInputUnderVolumeMode_SkipsCycle(t *testing.T) {
	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, &stubStore{}, &stubArchive{})
	l.cache.UsageRecords = []storage.UsageRecord{{
		Vectors: map[string]map[string]int64{"requests": {"d1": 10, "d2": 5}},
	}}

	next := l.doBilling(context.Background())

	assert.Equal(t, StatePersisting, next)
	assert.False(t, l.ledger.Empty())
	// Records are retained for the next attempt; state unchanged.
	assert.Len(t, l.cache.UsageRecords, 1)
}

func TestDoBilling_AggregationErrorSkipsCycle(t *testing.T) {
	cfg := oneMetricConfig()
	cfg.UsageMetrics[0].UsageAggregation = config.AggregationCurrent

	l := newTestLoop(cfg, &stubCSP{}, &stubUsage{}, &stubStore{}, &stubArchive{})
	// Two samples makes "current" aggregation fail closed.
	l.cache.UsageRecords = []storage.UsageRecord{
		{Counts: map[string]int64{"requests": 1}},
		{Counts: map[string]int64{"requests": 2}},
	}

	next := l.doBilling(context.Background())

	assert.Equal(t, StatePersisting, next)
}

func TestDoArchiving_AppendsAndPrunesThenPersists(t *testing.T) {
	archive := &stubArchive{}
	archive.On("AppendArchive", mock.Anything, mock.Anything).Return(nil)
	archive.On("PruneArchive", mock.Anything, mock.Anything).Return(nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, &stubStore{}, archive)
	l.cache.LastBill = storage.LastBill{RecordID: "rec-1", MeteringTime: time.Now()}

	next := l.doArchiving(context.Background())

	assert.Equal(t, StatePersisting, next)
	archive.AssertCalled(t, "AppendArchive", mock.Anything, mock.Anything)
	archive.AssertCalled(t, "PruneArchive", mock.Anything, mock.Anything)
}

func TestDoPersisting_WritesBothDocumentsAndReturnsIdleWait(t *testing.T) {
	store := &stubStore{}
	store.On("PutCache", mock.Anything, mock.Anything).Return(nil)
	store.On("PutCSPConfig", mock.Anything, mock.Anything).Return(nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, store, &stubArchive{})
	l.cache.NextQueryTime = time.Now().Add(-time.Second) // avoid a real sleep in the test

	next := l.doPersisting(context.Background())

	assert.Equal(t, StateIdleWait, next)
	store.AssertCalled(t, "PutCache", mock.Anything, mock.Anything)
	store.AssertCalled(t, "PutCSPConfig", mock.Anything, mock.Anything)
	assert.True(t, l.ledger.Empty())
}

func TestDoPersisting_DegradedSignalReachesHealthGauge(t *testing.T) {
	store := &stubStore{}
	store.On("PutCache", mock.Anything, mock.Anything).Return(nil)
	store.On("PutCSPConfig", mock.Anything, mock.Anything).Return(nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, store, &stubArchive{})
	l.cache.NextQueryTime = time.Now().Add(-time.Second)
	l.ledger.Add(context.Background(), silentLogger(), "Metering call failed: unreachable", false)
	l.cspConfig.BillingAPIAccessOK = false

	l.doPersisting(context.Background())

	assert.Equal(t, float64(metrics.HealthDegraded), testutil.ToFloat64(metrics.HealthState))

	// A clean follow-up cycle returns the gauge to healthy.
	l.cspConfig.BillingAPIAccessOK = true
	l.doPersisting(context.Background())
	assert.Equal(t, float64(metrics.HealthHealthy), testutil.ToFloat64(metrics.HealthState))
}

func TestStep_PanicRecoversToCrashed(t *testing.T) {
	store := &stubStore{}
	store.On("PutCache", mock.Anything, mock.Anything).Return(nil)
	store.On("PutCSPConfig", mock.Anything, mock.Anything).Return(nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, store, &stubArchive{})
	l.collector = nil // forces a nil-pointer panic inside doCollecting

	next := l.step(context.Background(), StateCollecting)

	assert.Equal(t, StateCrashed, next)
	assert.False(t, l.ledger.Empty())
	store.AssertCalled(t, "PutCache", mock.Anything, mock.Anything)
}

func TestRun_CrashedStateReturnsError(t *testing.T) {
	store := &stubStore{}
	store.On("PutCache", mock.Anything, mock.Anything).Return(nil)
	store.On("PutCSPConfig", mock.Anything, mock.Anything).Return(nil)

	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, store, &stubArchive{})
	l.state = "BOGUS_STATE_FOR_TEST"

	err := l.Run(context.Background())

	assert.Error(t, err)
}

func TestRun_CancelledContextReturnsNilCleanly(t *testing.T) {
	l := newTestLoop(oneMetricConfig(), &stubCSP{}, &stubUsage{}, &stubStore{}, &stubArchive{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)

	assert.NoError(t, err)
}
