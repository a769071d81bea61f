// Package adapterloop implements Bootstrap
// and the Control Loop that drives the adapter's state
// machine to completion.
package adapterloop

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/billing"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/collector"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/ledger"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/schedule"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

// Bootstrap performs the BOOT transition: validate the registry,
// issue a synthetic dry-run meter call, seed the cache's timestamps, and
// sleep one full query_interval before the loop begins observing
// next_query_time. A failure anywhere here is fatal and the adapter must
// not start serving cycles.
//
// The dry-run meter call, the General capability's preflight hooks and
// the CSP metadata fetch are independent boot-time reads, so they run
// concurrently via errgroup.
func Bootstrap(ctx context.Context, cfg *config.Config, reg *capability.Registry, logger *slog.Logger, sleep func(time.Duration)) (*Loop, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	biller := billing.NewBiller(reg.CSP)

	var defaults map[string]interface{}
	var customerCSPData map[string]interface{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zeroVector := make([]storage.DimensionUnits, 0, len(cfg.UsageMetrics))
		for _, m := range cfg.UsageMetrics {
			for _, d := range m.Dimensions {
				zeroVector = append(zeroVector, storage.DimensionUnits{Dimension: d.Dimension, Units: 0})
			}
		}
		return biller.DryRunBill(gctx, zeroVector, schedule.Now())
	})
	g.Go(func() error {
		var err error
		defaults, err = reg.General.LoadDefaults(gctx)
		return err
	})
	g.Go(func() error {
		return reg.General.SetupAdapter(gctx)
	})
	g.Go(func() error {
		var err error
		customerCSPData, err = reg.CSP.GetCSPConfigMetadata(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "adapter defaults loaded", slog.Any("defaults", defaults))

	now := schedule.Now()

	cache := resumeOrSeedCache(ctx, cfg, reg, logger, now)

	cspConfig := storage.CSPConfig{
		Timestamp:          now,
		Expire:             schedule.Expire(now, cfg),
		BillingAPIAccessOK: true,
		CustomerCSPData:    customerCSPData,
		AdapterVersion:     reg.General.GetVersion(),
	}
	if prev, ok, err := reg.Storage.GetCSPConfig(ctx); err == nil && ok {
		// Carry forward what the last run reported so a reader never
		// sees billing history vanish across a restart; the usage and
		// last_billed fields belong to the last successful bill, not to
		// this process lifetime.
		cspConfig.LastBilled = prev.LastBilled
		cspConfig.Usage = prev.Usage
		cspConfig.BaseProduct = prev.BaseProduct
	}

	l := &Loop{
		cfg:       cfg,
		reg:       reg,
		logger:    logger,
		ledger:    ledger.New(),
		biller:    biller,
		collector: collector.New(reg.Usage, retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}, cfg.UsageMetrics),
		cache:     cache,
		cspConfig: cspConfig,
		state:     StateIdleWait,
	}

	logger.InfoContext(ctx, "bootstrap complete, sleeping one query interval before first tick",
		slog.Duration("query_interval", cfg.QueryInterval()))
	sleep(cfg.QueryInterval())

	return l, nil
}

// resumeOrSeedCache restores the persisted cache document so a restarted
// adapter picks up its billing window where it left off (unsubmitted
// usage records included), seeding fresh timestamps only when no usable
// document exists. A cache written under a different schema version is
// refused: resuming across an incompatible schema change risks
// corrupting state, so the adapter reseeds and logs the discard.
func resumeOrSeedCache(ctx context.Context, cfg *config.Config, reg *capability.Registry, logger *slog.Logger, now time.Time) storage.Cache {
	prev, ok, err := reg.Storage.GetCache(ctx)
	if err != nil {
		logger.WarnContext(ctx, "reading persisted cache failed, seeding fresh state", slog.Any("error", err))
	}

	if ok && err == nil {
		if prev.SchemaVersion != cfg.SchemaVersion {
			logger.WarnContext(ctx, "persisted cache has an incompatible schema version, seeding fresh state",
				slog.Int("persisted", prev.SchemaVersion),
				slog.Int("expected", cfg.SchemaVersion))
		} else {
			prev.NextQueryTime = schedule.NextQueryDeadline(now, cfg)
			if !prev.NextBillTime.After(now) {
				// The bill the previous run was counting down to is
				// overdue; the first cycle after the boot sleep will
				// submit it.
				prev.NextBillTime = now
			}
			if !prev.NextReportingTime.After(now) {
				prev.NextReportingTime = now
			}
			logger.InfoContext(ctx, "resuming from persisted cache",
				slog.Int("usage_record_count", len(prev.UsageRecords)),
				slog.Time("next_bill_time", prev.NextBillTime))
			return prev
		}
	}

	return storage.Cache{
		SchemaVersion:     cfg.SchemaVersion,
		AdapterStartTime:  now,
		NextQueryTime:     schedule.NextQueryDeadline(now, cfg),
		NextReportingTime: schedule.NextReportDeadline(now, cfg),
		NextBillTime:      schedule.NextBillDeadline(now, cfg),
	}
}

