package platform

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const (
	defaultReadAttempts = 3
	defaultRetryBase    = 200 * time.Millisecond
	maxRetryDelay       = 5 * time.Second
)

// ReadWithRetry runs a read-only platform call, retrying transient failures
// with exponential backoff. Only reads go through here: an ambiguous write
// retry could double-apply a change, so writes surface their first failure.
func ReadWithRetry[T any](ctx context.Context, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= defaultReadAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == defaultReadAttempts {
			return zero, err
		}

		delay := retryDelay(attempt)
		logger.WarnContext(ctx, "transient platform read failure, retrying",
			slog.Int("attempt", attempt),
			slog.String("backoff", delay.String()),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// retryDelay returns exponential backoff capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(float64(defaultRetryBase) * math.Pow(2, float64(attempt-1)))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
