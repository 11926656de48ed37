package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Overridable so tests don't pay real wall-clock backoff delays.
var (
	retryMaxAttempts  = 3
	retryInitialDelay = 2 * time.Second
	retryFactor       = 2
)

// retryNetwork wraps an idempotent REST call with the exponential-backoff
// policy from spec §4.9: initial 2s, ×2 each attempt, capped at 3 attempts.
// A final failure is returned to the caller, which skips this tick rather
// than crashing the loop.
func retryNetwork[T any](ctx context.Context, logger *slog.Logger, op string, call func() (T, error)) (T, error) {
	delay := retryInitialDelay
	var zero T
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == retryMaxAttempts {
			break
		}
		logger.Warn("retrying network call", "op", op, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(retryFactor)
	}

	return zero, lastErr
}
