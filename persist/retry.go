package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/sym"
)

const (
	// ConnectAttempts bounds connection retries at pipeline start.
	ConnectAttempts = 5
	// connectBaseDelay is the first retry delay; it doubles per attempt.
	connectBaseDelay = 200 * time.Millisecond
)

// ConnectWithRetry attempts adapter.Connect up to ConnectAttempts times
// with exponential backoff. The returned error wraps
// ErrPersistenceUnavailable once the attempt budget is exhausted.
func ConnectWithRetry(ctx context.Context, adapter Adapter, log *zap.SugaredLogger) error {
	delay := connectBaseDelay
	var lastErr error

	for attempt := 1; attempt <= ConnectAttempts; attempt++ {
		lastErr = adapter.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == ConnectAttempts {
			break
		}
		log.Warnw("Persistence connect failed, retrying",
			"symbol", sym.DB,
			"attempt", attempt,
			"delay", delay.String(),
			"error", lastErr,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrPersistenceUnavailable, "connect canceled: %v", ctx.Err())
		}
		delay *= 2
	}

	if errors.Is(lastErr, errors.ErrPersistenceUnavailable) {
		return lastErr
	}
	return errors.Wrapf(errors.ErrPersistenceUnavailable, "after %d attempts: %v", ConnectAttempts, lastErr)
}
