package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
)

const maxBackoff = 30 * time.Second

// sleep подменяется в тестах.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry вызывает attempt, пока он не вернёт nil, с удвоением паузы от 2s до 30s.
// Сдаётся после maxWait или при отмене ctx и возвращает последнюю ошибку.
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for n := 1; ; n++ {
		err := attempt(ctx)
		if err == nil {
			if n > 1 {
				logger.Infof("%s: connected after %d attempts", what, n)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		if serr := sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("%s: %w (last error: %v)", what, serr, err)
		}
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
