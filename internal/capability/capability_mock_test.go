package capability_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
)

// Shared mocks for capability interfaces: one mock.Mock-embedding type
// per interface.

type MockCSP struct {
	mock.Mock
}

func (m *MockCSP) MeterBilling(ctx context.Context, dimensions []storage.DimensionUnits, timestamp time.Time, dryRun bool) (capability.MeterResult, error) {
	args := m.Called(ctx, dimensions, timestamp, dryRun)
	return args.Get(0).(capability.MeterResult), args.Error(1)
}

func (m *MockCSP) GetCSPConfigMetadata(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockCSP) GetAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type MockUsage struct {
	mock.Mock
}

func (m *MockUsage) GetUsageData(ctx context.Context, now time.Time) (map[string]interface{}, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type MockGeneral struct {
	mock.Mock
}

func (m *MockGeneral) SetupAdapter(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGeneral) LoadDefaults(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockGeneral) GetVersion() string {
	args := m.Called()
	return args.String(0)
}

type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) GetCache(ctx context.Context) (storage.Cache, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(storage.Cache), args.Bool(1), args.Error(2)
}

func (m *MockCacheStore) PutCache(ctx context.Context, doc storage.Cache) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockCacheStore) GetCSPConfig(ctx context.Context) (storage.CSPConfig, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(storage.CSPConfig), args.Bool(1), args.Error(2)
}

func (m *MockCacheStore) PutCSPConfig(ctx context.Context, doc storage.CSPConfig) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

type MockArchiveStore struct {
	mock.Mock
}

func (m *MockArchiveStore) AppendArchive(ctx context.Context, entry storage.ArchiveEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockArchiveStore) PruneArchive(ctx context.Context, olderThan time.Time) error {
	args := m.Called(ctx, olderThan)
	return args.Error(0)
}

func (m *MockArchiveStore) ListArchive(ctx context.Context) ([]storage.ArchiveEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.ArchiveEntry), args.Error(1)
}
