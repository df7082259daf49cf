package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// BackoffFunc returns the delay to wait after the given failed attempt
// (1-based) before the next one.
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff waits base * attempt.
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// ExponentialBackoff waits initial * multiplier^(attempt-1) with +/- jitter,
// capped at max.
func ExponentialBackoff(initial, max time.Duration, multiplier, jitterFraction float64) BackoffFunc {
	return func(attempt int) time.Duration {
		backoff := float64(initial) * math.Pow(multiplier, float64(attempt-1))
		backoff += backoff * jitterFraction * (2*rand.Float64() - 1)
		if backoff > float64(max) {
			backoff = float64(max)
		}
		if backoff < 0 {
			backoff = float64(initial)
		}
		return time.Duration(backoff)
	}
}

type RetryConfig struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 0.1),
		Sleep:       SleepContext,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Retry runs fn up to cfg.MaxAttempts times, waiting cfg.Backoff(attempt)
// between attempts. The error of the last attempt is wrapped in the result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	defaults := defaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaults.Backoff
	}
	if cfg.Sleep == nil {
		cfg.Sleep = defaults.Sleep
	}
	logger := slog.Default().With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("%s: %w", name, lastErr)
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := cfg.Backoff(attempt)
		logger.Warn("operation failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", lastErr, "next_delay", delay)
		if err := cfg.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted during backoff: %w", err)
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}
