package crank

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bitfsorg/feerouter-go/errs"
)

// RetryConfig bounds how often a failed step is retried.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Retryable reports whether err may succeed on a fresh attempt that reloads
// stream state first.
func Retryable(err error) bool {
	switch errs.ActionFor(err) {
	case errs.RetryNow, errs.Refetch:
		return true
	}
	return false
}

// TransferRetryable reports whether a failed transfer execution may be
// retried. Executor errors without a kind are taken as transient.
func TransferRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errs.KindOf(err) == nil || Retryable(err)
}

// retry runs fn until it succeeds, fails with an error retryable rejects or
// runs out of attempts. Backoff waits on clock.
func retry(ctx context.Context, clock clockwork.Clock, cfg RetryConfig, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= max(cfg.MaxAttempts, 1); attempt++ {
		if attempt > 1 {
			if d := backoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1); d > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-clock.After(d):
				}
			}
		}
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("crank: failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// backoff is base * 2^attempt capped at limit, scaled by a 0.5 to 1.0 jitter.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(min(attempt, 30))
	if d > limit || d <= 0 {
		d = limit
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}
