// Package retry holds the backoff schedules used across the engines and a
// generic retry loop built on them.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns the wait before the given 1-indexed attempt.
type Backoff func(base time.Duration, attempt int) time.Duration

// Linear waits base × attempt.
func Linear(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// Exponential waits base × 2^attempt.
func Exponential(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * time.Duration(uint64(1)<<uint(attempt))
}

// Quadratic waits base × attempt².
func Quadratic(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt*attempt)
}

// Sleep waits d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay is the base passed to Backoff.
	BaseDelay time.Duration
	// Backoff computes the wait after a failed attempt. Defaults to Quadratic.
	Backoff Backoff
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times.
//
// Wait schedule with BaseDelay=1s and the default backoff:
//
//	attempt 1 fails → wait 1s  (1² × 1s)
//	attempt 2 fails → wait 4s  (2² × 1s)
//	attempt 3 fails → wait 9s  (3² × 1s)
//
// Returns nil on first success, or the last error after all attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Quadratic
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		if err := Sleep(ctx, cfg.Backoff(cfg.BaseDelay, attempt)); err != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, err)
		}
	}
	return lastErr
}
