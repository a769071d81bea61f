// Package retry implements the adapter's bounded exponential-backoff
// retry policy. Attempts, base delay, cap and an overall deadline are
// configurable per call site (jitter is always full jitter) so the usage
// collector, biller and cache
// writes can each stay comfortably under the query interval.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds one retry policy invocation.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// Deadline bounds the whole operation (all attempts combined); zero
	// means no deadline beyond ctx's own.
	Deadline time.Duration
}

// DefaultConfig returns sane defaults: 3 attempts, 200ms base, 5s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ErrExhausted wraps the last error after all attempts are spent.
type ErrExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrExhausted) Error() string {
	return e.Last.Error()
}

func (e *ErrExhausted) Unwrap() error { return e.Last }

// Classifier decides whether an error returned by fn is worth retrying.
// A nil Classifier retries every non-nil error.
type Classifier func(error) bool

// Do runs fn up to cfg.MaxAttempts times with full-jitter exponential
// backoff between attempts, stopping early if ctx is cancelled, the
// optional deadline elapses, or classify reports the error isn't
// retryable. On exhaustion it returns *ErrExhausted wrapping the last
// error; retries themselves are silent (no log here; call sites log
// only the final failure).
func Do(ctx context.Context, cfg Config, classify Classifier, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &ErrExhausted{Attempts: attempt, Last: lastErr}
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify != nil && !classify(err) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &ErrExhausted{Attempts: attempt + 1, Last: lastErr}
		}
	}

	return &ErrExhausted{Attempts: cfg.MaxAttempts, Last: lastErr}
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt-1)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// full jitter: uniform in [0, delay]
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}
