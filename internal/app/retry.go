package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/voice"
)

// startWithRetry starts a session, retrying connect failures with
// exponential backoff. The delay starts at retry.backoff and doubles after
// each attempt up to retry.max_backoff. Any other failure, including
// permission and auth errors, is returned immediately.
func (a *App) startWithRetry(ctx context.Context) (*voice.Session, error) {
	maxAttempts := max(a.cfg.Retry.MaxAttempts, 1)
	currentBackoff := a.cfg.Retry.Backoff

	for attempt := 1; ; attempt++ {
		sess, err := a.startSession(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("voice session started after retry", "attempt", attempt)
			}
			return sess, nil
		}
		if !retryable(err) || attempt >= maxAttempts {
			return nil, err
		}

		slog.Warn("voice session start failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", currentBackoff,
			"err", err,
		)
		if err := a.sleep(ctx, currentBackoff); err != nil {
			return nil, err
		}

		currentBackoff *= 2
		if currentBackoff > a.cfg.Retry.MaxBackoff {
			currentBackoff = a.cfg.Retry.MaxBackoff
		}
	}
}

func retryable(err error) bool {
	var se *voice.StartError
	return errors.As(err, &se) && se.Kind == voice.KindConnectFailure
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
