package providers

import (
	"context"
	"math"
	"time"
)

// RetryConfig controls the per-call retry loop
type RetryConfig struct {
	// MaxRetries is the total number of attempts, at least 1
	MaxRetries int

	// InitialDelay is the wait after the first failed attempt
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts
	MaxDelay time.Duration

	// ExponentialBase multiplies the delay after each failed attempt
	ExponentialBase float64
}

// DefaultRetryConfig returns a sensible default configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Backoff returns the wait after the given 0-based failed attempt
func (c RetryConfig) Backoff(attempt int) time.Duration {
	base := c.ExponentialBase
	if base < 1 {
		base = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(base, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

func (c RetryConfig) attempts() int {
	if c.MaxRetries < 1 {
		return 1
	}
	return c.MaxRetries
}

// AttemptFunc observes the outcome of a single attempt
type AttemptFunc func(attempt int, elapsed time.Duration, err error)

// Retry runs fn until it succeeds, returns a non-retryable error, the parent
// context is done, or cfg.MaxRetries attempts have failed. Each attempt runs
// under its own timeout when timeout is positive. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, timeout time.Duration, fn func(ctx context.Context) (T, error), onAttempt AttemptFunc) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		start := time.Now()
		result, err := fn(attemptCtx)
		elapsed := time.Since(start)
		if err == nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		cancel()

		if onAttempt != nil {
			onAttempt(attempt, elapsed, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}
