package archiver

import (
	"bytes"
	"context"
	"time"

	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/store"
)

// retryPut uploads data under name, retrying transient store errors with
// exponential backoff.
// A canceled context aborts immediately so SIGINT cancellation stays prompt.
func retryPut(ctx context.Context, backend store.Backend, name string, data []byte) error {
	const maxAttempts = 5
	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := backend.Put(ctx, name, bytes.NewReader(data))
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return errs.NewPath(errs.Store, "archiver.retryPut", name, lastErr)
}
