package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// WithRetry runs op, retrying with exponential backoff (1s -> 30s cap) as
// long as op returns an error wrapping ErrProviderRetriable, mirroring the
// teacher's WSFeed.Run reconnect backoff. A ErrProviderFatal, or any error
// that is not explicitly retriable, is returned immediately.
func WithRetry(ctx context.Context, logger *slog.Logger, maxAttempts int, op func(ctx context.Context) error) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrProviderRetriable) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		logger.Warn("provider call failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}
