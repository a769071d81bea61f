// Package schedule provides the adapter's clock: a UTC "now" and pure
// deadline functions for the next query, bill, and report ticks.
package schedule

import (
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
)

// ExpireSlack pads csp-config's expire timestamp beyond the next query
// deadline, so one slow cycle doesn't read as a dead adapter.
const ExpireSlack = 30 * time.Second

// Now returns the current time in UTC, the form every stored timestamp
// in cache and csp-config uses (RFC 3339 on the wire via time.Time's
// default JSON marshaling).
func Now() time.Time {
	return time.Now().UTC()
}

// NextQueryDeadline returns the next time the Usage Collector should run.
func NextQueryDeadline(now time.Time, cfg *config.Config) time.Time {
	return now.Add(cfg.QueryInterval())
}

// NextReportDeadline returns the next time a heartbeat report is due.
func NextReportDeadline(now time.Time, cfg *config.Config) time.Time {
	return now.Add(cfg.ReportingInterval())
}

// NextBillDeadline returns the next time a bill is due, honoring the
// configured billing interval: monthly advances to the same
// day-of-month next month (clamped to month end), hourly adds one hour,
// and a configured fixed interval (v1.2) adds that duration directly.
func NextBillDeadline(now time.Time, cfg *config.Config) time.Time {
	if cfg.FixedBillingInterval > 0 {
		return now.Add(cfg.FixedBillingInterval)
	}

	switch cfg.BillingInterval {
	case config.BillingHourly:
		return now.Add(time.Hour)
	case config.BillingMonthly:
		return addCalendarMonth(now)
	default:
		return now.Add(time.Hour)
	}
}

// Expire computes csp-config's "expire" field: the time after which a
// reader should infer the adapter has stopped ticking.
func Expire(now time.Time, cfg *config.Config) time.Time {
	return now.Add(cfg.QueryInterval()).Add(ExpireSlack)
}

// addCalendarMonth advances t to the same day-of-month one month later,
// clamping to the end of the target month when the day overflows it
// (e.g. Jan 31 -> Feb 28/29, not Mar 2/3). A fixed 30-day delta would
// drift against real month boundaries.
func addCalendarMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	loc := t.Location()

	targetMonth := month + 1
	targetYear := year
	if targetMonth > time.December {
		targetMonth = time.January
		targetYear++
	}

	lastDay := lastDayOfMonth(targetYear, targetMonth)
	if day > lastDay {
		day = lastDay
	}

	return time.Date(targetYear, targetMonth, day, hour, minute, sec, t.Nanosecond(), loc)
}

func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}
