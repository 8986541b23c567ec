package ws

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RunWithReconnect keeps c connected until ctx is done. After a connection
// fails it waits according to b and connects again; the client replays its
// subscriptions itself. The backoff is reset after every successful connect.
// A ConfigurationError stops the loop immediately.
func RunWithReconnect(ctx context.Context, c *Client, b backoff.BackOff, log *zap.SugaredLogger) error {
	operation := func() error {
		if err := c.Connect(ctx); err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		b.Reset()
		done := c.Done()

		select {
		case <-ctx.Done():
			_ = c.Close("shutdown")
			return nil
		case <-done:
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "session", Err: errors.New(c.CloseReason())}
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			log.Warnw("Feed connection lost, retrying", "error", err, "retry_in", d)
		})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
