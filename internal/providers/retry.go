package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter reads a Retry-After header value in seconds. Malformed or
// absent values return zero.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryConfig shapes the exponential backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard provider retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff. Only connection-phase errors
// reach here; once a stream is open its failures are not retried. A 429 or
// 5xx HTTPError retries, anything else fails fast. Retry-After wins over
// the computed backoff when longer.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			// Jitter spreads concurrent retries apart.
			delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay)))

			var httpErr *HTTPError
			if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > delay {
				delay = httpErr.RetryAfter
			}

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}
