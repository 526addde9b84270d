package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryInitialInterval is the first wait between attempts.
var retryInitialInterval = 250 * time.Millisecond

// Retry runs op up to retries+1 times with exponential backoff. Only
// timeouts and calls that never received a response are retried; any other
// error, and cancellation of ctx, end the loop at once.
func Retry(ctx context.Context, retries int, op func(context.Context) (string, error)) (string, error) {
	if retries <= 0 {
		return op(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	var lastErr error
	attempt := func() (string, error) {
		text, err := op(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !retryable(err) {
				return "", backoff.Permanent(err)
			}
		}
		return text, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying provider call", "error", err, "wait", wait)
	}
	text, err := backoff.RetryNotifyWithData(attempt, b, notify)
	if err != nil && lastErr != nil {
		// Report the call's failure rather than the backoff's own context error.
		return "", lastErr
	}
	return text, err
}
