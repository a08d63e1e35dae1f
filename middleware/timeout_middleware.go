package middleware

import (
	"context"
	"errors"
	"time"
)

// ErrHandlerTimeout is returned when a handler exceeds its dispatch budget.
// The caller's own invoke deadline usually fires first; this guard exists for
// endpoints configured with generous invoke timeouts.
var ErrHandlerTimeout = errors.New("handler timed out")

type handlerResult struct {
	data any
	err  error
}

// Timeout bounds handler execution. The handler goroutine is not killed on
// expiry — it runs to completion and its result is dropped, mirroring how a
// late response frame is discarded by the correlation table.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, args []any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan handlerResult, 1)
			go func() {
				data, err := next(ctx, method, args)
				done <- handlerResult{data, err}
			}()

			select {
			case r := <-done:
				return r.data, r.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
