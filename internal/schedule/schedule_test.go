package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
)

func TestNextBillDeadline_Monthly_EndOfMonthClamp(t *testing.T) {
	cfg := &config.Config{BillingInterval: config.BillingMonthly}

	jan31 := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)
	got := NextBillDeadline(jan31, cfg)

	assert.Equal(t, time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC), got)
}

func TestNextBillDeadline_Monthly_LeapYear(t *testing.T) {
	cfg := &config.Config{BillingInterval: config.BillingMonthly}

	jan31 := time.Date(2028, time.January, 31, 0, 0, 0, 0, time.UTC)
	got := NextBillDeadline(jan31, cfg)

	assert.Equal(t, time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC), got)
}

func TestNextBillDeadline_Monthly_NormalDay(t *testing.T) {
	cfg := &config.Config{BillingInterval: config.BillingMonthly}

	mar15 := time.Date(2026, time.March, 15, 9, 30, 0, 0, time.UTC)
	got := NextBillDeadline(mar15, cfg)

	assert.Equal(t, time.Date(2026, time.April, 15, 9, 30, 0, 0, time.UTC), got)
}

func TestNextBillDeadline_Monthly_DecemberWraps(t *testing.T) {
	cfg := &config.Config{BillingInterval: config.BillingMonthly}

	dec31 := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)
	got := NextBillDeadline(dec31, cfg)

	assert.Equal(t, time.Date(2027, time.January, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestNextBillDeadline_Hourly(t *testing.T) {
	cfg := &config.Config{BillingInterval: config.BillingHourly}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.Equal(t, now.Add(time.Hour), NextBillDeadline(now, cfg))
}

func TestNextBillDeadline_FixedOverride(t *testing.T) {
	cfg := &config.Config{
		BillingInterval:      config.BillingMonthly,
		FixedBillingInterval: 15 * time.Minute,
	}
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.Equal(t, now.Add(15*time.Minute), NextBillDeadline(now, cfg))
}

func TestExpire_AddsQueryIntervalAndSlack(t *testing.T) {
	cfg := &config.Config{QueryIntervalSeconds: 60}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := Expire(now, cfg)

	assert.Equal(t, now.Add(60*time.Second).Add(ExpireSlack), got)
}
