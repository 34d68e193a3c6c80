// Package startup подключает внешние хранилища с повторами, чтобы процесс
// не падал, пока Postgres или Redis ещё поднимаются.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/duochat/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает connect, пока тот не вернёт nil или не истечёт maxWait.
// Пауза между попытками удваивается от initial до maxBackoff.
func retry(ctx context.Context, what string, maxWait, initial time.Duration, connect func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initial
	for {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
