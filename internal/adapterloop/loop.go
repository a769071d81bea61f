package adapterloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/billing"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/collector"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/ledger"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/metrics"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/schedule"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/ulid"
)

// State is one node of the control loop's state machine.
type State string

const (
	StateBoot       State = "BOOT"
	StateIdleWait   State = "IDLE_WAIT"
	StateCollecting State = "COLLECTING"
	StateReporting  State = "REPORTING"
	StateBilling    State = "BILLING"
	StateArchiving  State = "ARCHIVING"
	StatePersisting State = "PERSISTING"
	StateCrashed    State = "CRASHED"
)

// Loop is the single foreground state machine driving the adapter. It
// runs on the caller's own goroutine with no separate ticker: the
// sleep-remainder discipline must live in the same call stack that just
// persisted state, so main only ever watches os.Signal on a second
// goroutine to cancel ctx.
type Loop struct {
	cfg       *config.Config
	reg       *capability.Registry
	logger    *slog.Logger
	ledger    *ledger.Ledger
	biller    *billing.Biller
	collector *collector.Collector

	cache     storage.Cache
	cspConfig storage.CSPConfig

	state State

	// snapshot carries the pre-clear usage_records across the BILLING ->
	// ARCHIVING transition within one tick, for the archive entry.
	snapshot []storage.UsageRecord
}

// CacheSnapshot returns a copy of the loop's in-memory cache document.
// The loop itself is the only writer; this is read-only inspection for
// diagnostics.
func (l *Loop) CacheSnapshot() storage.Cache {
	snap := l.cache
	snap.UsageRecords = append([]storage.UsageRecord(nil), l.cache.UsageRecords...)
	return snap
}

// Run drives the state machine until ctx is cancelled, returning nil on
// clean cancellation or an *apperror.AppError on a CRASHED transition.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		l.state = l.step(ctx, l.state)
		if l.state == StateCrashed {
			return apperror.NewUnexpectedError("control loop crashed", nil)
		}
	}
}

// step advances the state machine by one transition, recovering from
// any panic into the CRASHED path.
func (l *Loop) step(ctx context.Context, state State) (next State) {
	defer func() {
		if r := recover(); r != nil {
			l.ledger.Add(ctx, l.logger, fmt.Sprintf("Unexpected error: %v", r), true)
			l.bestEffortPersist(ctx)
			next = StateCrashed
		}
	}()

	switch state {
	case StateIdleWait:
		return l.doIdleWait(ctx)
	case StateCollecting:
		return l.doCollecting(ctx)
	case StateReporting:
		return l.doReporting(ctx)
	case StateBilling:
		return l.doBilling(ctx)
	case StateArchiving:
		return l.doArchiving(ctx)
	case StatePersisting:
		return l.doPersisting(ctx)
	default:
		return StateCrashed
	}
}

func (l *Loop) doIdleWait(ctx context.Context) State {
	now := schedule.Now()
	if now.Before(l.cache.NextQueryTime) {
		// Boot's post-sleep wake should already satisfy this; a residual
		// gap here covers clock drift, not the primary sleep discipline.
		sleepCtx(ctx, l.cache.NextQueryTime.Sub(now))
	}
	return StateCollecting
}

// sleepCtx sleeps for d but wakes immediately on ctx cancellation, so a
// process signal during the tail sleep exits promptly rather than
// waiting out a full query interval.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (l *Loop) doCollecting(ctx context.Context) State {
	now := schedule.Now()

	result := l.collector.Collect(ctx, now)
	switch {
	case result.LedgerMessage != "":
		l.ledger.Add(ctx, l.logger, result.LedgerMessage, false)
	case result.Present:
		l.cache.UsageRecords = append(l.cache.UsageRecords, result.Record)
		l.cspConfig.BaseProduct = result.Record.BaseProduct
	default:
		// Schema-invalid record: dropped with a warning only,
		// not a ledger entry.
		l.logger.WarnContext(ctx, "dropping schema-invalid usage record", slog.Any("keys", result.InvalidKeys))
	}

	l.cache.NextQueryTime = schedule.NextQueryDeadline(now, l.cfg)

	if !now.Before(l.cache.NextReportingTime) && l.cache.NextReportingTime.Before(l.cache.NextBillTime) {
		return StateReporting
	}
	if !now.Before(l.cache.NextBillTime) {
		return StateBilling
	}
	return StatePersisting
}

// doReporting submits the heartbeat report. When the CSP's reporting API is
// cumulative, the intermediate report carries the window's current
// aggregate and the final bill overwrites it; when it is not, a
// non-zero intermediate report would be added to the final bill, so the
// heartbeat goes out as a dry-run carrying the same vector, which still
// proves billing API access without charging the customer twice.
func (l *Loop) doReporting(ctx context.Context) State {
	now := schedule.Now()

	dims, err := l.aggregateAndMap(ctx)
	if err == nil {
		result, berr := l.biller.Bill(ctx, dims, now, !l.cfg.ReportingAPIIsCumulative)
		switch {
		case berr != nil:
			l.ledger.Add(ctx, l.logger, fmt.Sprintf("Reporting call failed: %v", berr), false)
			l.cspConfig.BillingAPIAccessOK = false
		case result.Failed:
			l.ledger.Add(ctx, l.logger, fmt.Sprintf("Reporting call rejected: %s", result.Detail), false)
			l.cspConfig.BillingAPIAccessOK = false
		default:
			l.logger.InfoContext(ctx, "reported current aggregate",
				slog.Int("usage_record_count", len(l.cache.UsageRecords)),
				slog.Bool("cumulative", l.cfg.ReportingAPIIsCumulative))
		}
	}
	l.cache.NextReportingTime = schedule.NextReportDeadline(now, l.cfg)

	if !now.Before(l.cache.NextBillTime) {
		return StateBilling
	}
	return StatePersisting
}

func (l *Loop) doBilling(ctx context.Context) State {
	now := schedule.Now()

	dims, err := l.aggregateAndMap(ctx)
	if err != nil {
		// Dimension mapper errors skip billing this cycle with
		// state unchanged, rather than attempting a call with a vector
		// we know is invalid.
		return StatePersisting
	}

	l.snapshot = append([]storage.UsageRecord(nil), l.cache.UsageRecords...)

	result, err := l.biller.Bill(ctx, dims, now, false)
	if err != nil {
		l.ledger.Add(ctx, l.logger, fmt.Sprintf("Metering call failed: %v", err), false)
		l.cspConfig.BillingAPIAccessOK = false
		metrics.BillFailuresTotal.Inc()
		return StatePersisting
	}
	if result.Failed {
		l.ledger.Add(ctx, l.logger, fmt.Sprintf("Metering call rejected: %s", result.Detail), false)
		l.cspConfig.BillingAPIAccessOK = false
		metrics.BillFailuresTotal.Inc()
		return StatePersisting
	}

	l.cache.LastBill = storage.LastBill{
		RecordID:     result.RecordID,
		MeteringTime: result.MeteringTime,
		Dimensions:   result.Dimensions,
	}
	l.cspConfig.LastBilled = now
	l.cspConfig.Usage = result.Dimensions
	l.cspConfig.BillingAPIAccessOK = true
	l.cache.UsageRecords = nil
	l.cache.NextBillTime = schedule.NextBillDeadline(now, l.cfg)
	l.cache.NextReportingTime = schedule.NextReportDeadline(now, l.cfg)

	return StateArchiving
}

// aggregateAndMap runs the Aggregator and Dimension Mapper for every
// configured metric and concatenates the resulting dimension vectors.
// Volume-mode metrics that have no matching dimension, or that receive a
// vector input they cannot accept, add a ledger entry and abort the
// whole cycle's billing attempt.
func (l *Loop) aggregateAndMap(ctx context.Context) ([]storage.DimensionUnits, error) {
	var out []storage.DimensionUnits

	for _, m := range l.cfg.UsageMetrics {
		if vec := latestVector(l.cache.UsageRecords, m.Name); vec != nil {
			// The application reported this metric already split per
			// dimension; tiered mode passes it through, volume mode
			// rejects it (a single scalar is expected there).
			dims, err := billing.MapDimensions(0, m, vec)
			if err != nil {
				l.ledger.Add(ctx, l.logger, err.Error(), false)
				return nil, err
			}
			out = append(out, dims...)
			continue
		}

		v, err := billing.Aggregate(l.cache.UsageRecords, m)
		if err != nil {
			l.ledger.Add(ctx, l.logger, fmt.Sprintf("Aggregation failed for metric %q: %v", m.Name, err), false)
			return nil, err
		}

		dims, err := billing.MapDimensions(v, m, nil)
		if err != nil {
			l.ledger.Add(ctx, l.logger, err.Error(), false)
			return nil, err
		}
		out = append(out, dims...)
	}

	return out, nil
}

// latestVector returns the most recent record's per-dimension split for
// the metric, or nil when every record reported it as a scalar. The
// adapter forwards the split as received, so only the freshest sample matters.
func latestVector(records []storage.UsageRecord, metric string) map[string]int64 {
	for i := len(records) - 1; i >= 0; i-- {
		if vec, ok := records[i].Vectors[metric]; ok {
			return vec
		}
	}
	return nil
}

func (l *Loop) doArchiving(ctx context.Context) State {
	entry := storage.ArchiveEntry{
		ID:                   ulid.New(),
		BilledAt:             l.cache.LastBill.MeteringTime,
		Dimensions:           l.cache.LastBill.Dimensions,
		UsageRecordsSnapshot: l.snapshot,
	}
	l.snapshot = nil

	if err := l.reg.Archive.AppendArchive(ctx, entry); err != nil {
		l.ledger.Add(ctx, l.logger, fmt.Sprintf("Archiving bill record failed: %v", err), false)
	}

	cutoff := schedule.Now().AddDate(0, -l.cfg.ArchiveRetentionMonths, 0)
	if err := l.reg.Archive.PruneArchive(ctx, cutoff); err != nil {
		l.ledger.Add(ctx, l.logger, fmt.Sprintf("Pruning archive failed: %v", err), false)
	}

	return StatePersisting
}

func (l *Loop) doPersisting(ctx context.Context) State {
	now := schedule.Now()

	retryCfg := retry.Config{
		MaxAttempts: l.cfg.Retry.MaxAttempts,
		BaseDelay:   l.cfg.Retry.BaseDelay,
		MaxDelay:    l.cfg.Retry.MaxDelay,
	}
	if err := retry.Do(ctx, retryCfg, nil, func(ctx context.Context) error {
		return l.reg.Storage.PutCache(ctx, l.cache)
	}); err != nil {
		// Cache persistence failure is recoverable: in-memory state
		// continues, and the failure is logged into the ledger and
		// csp-config.
		l.ledger.Add(ctx, l.logger, fmt.Sprintf("Cache persistence failed: %v", err), false)
	}

	l.cspConfig.Timestamp = now
	l.cspConfig.Expire = schedule.Expire(now, l.cfg)
	l.cspConfig.Errors = l.ledger.Entries()
	metrics.LedgerErrors.Set(float64(len(l.cspConfig.Errors)))
	metrics.ObserveExpire(l.cspConfig.Expire)
	metrics.CyclesTotal.Inc()

	switch {
	case ledger.Degraded(l.ledger.Empty(), l.cspConfig.BillingAPIAccessOK):
		metrics.HealthState.Set(metrics.HealthDegraded)
		l.logger.WarnContext(ctx, "adapter degraded: billing API access down",
			slog.Int("error_count", len(l.cspConfig.Errors)))
	case ledger.Warning(l.ledger.Empty(), l.cspConfig.BillingAPIAccessOK):
		metrics.HealthState.Set(metrics.HealthWarning)
		l.logger.WarnContext(ctx, "adapter in warning state",
			slog.Int("error_count", len(l.cspConfig.Errors)))
	default:
		metrics.HealthState.Set(metrics.HealthHealthy)
	}

	if err := l.reg.Storage.PutCSPConfig(ctx, l.cspConfig); err != nil {
		// A csp-config write failure cannot be surfaced via csp-config
		// (the write that would carry it is the one that failed); log
		// only.
		l.logger.ErrorContext(ctx, "csp-config persistence failed", slog.Any("error", err))
	}

	l.ledger.Reset()

	sleepCtx(ctx, l.cache.NextQueryTime.Sub(schedule.Now()))

	return StateIdleWait
}

// bestEffortPersist is the final write attempt on the CRASHED path; its
// own errors are swallowed since the process is already terminating.
func (l *Loop) bestEffortPersist(ctx context.Context) {
	now := schedule.Now()
	l.cspConfig.Timestamp = now
	l.cspConfig.Expire = schedule.Expire(now, l.cfg)
	l.cspConfig.Errors = l.ledger.Entries()
	_ = l.reg.Storage.PutCache(ctx, l.cache)
	_ = l.reg.Storage.PutCSPConfig(ctx, l.cspConfig)
}
