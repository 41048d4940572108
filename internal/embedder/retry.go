package embedder

import (
	"context"
	"time"
)

// RetryConfig is an exponential backoff policy for vectorization calls
type RetryConfig struct {
	MaxRetries int // Total attempts; below 1 means a single attempt
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig tries three times, waiting 100ms then 200ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// delay is the wait after the n-th failed attempt, counting from 1
func (c RetryConfig) delay(n int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// retry calls fn until it succeeds, fails with an error IsRetryable
// rejects, the attempts run out or ctx ends. The last error is returned.
func retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxRetries, 1)

	for attempt := 1; ; attempt++ {
		result, err := fn()
		switch {
		case err == nil:
			return result, nil
		case attempt >= attempts, ctx.Err() != nil, !IsRetryable(err):
			return zero, err
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}
