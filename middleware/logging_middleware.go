package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging records every dispatched call with its duration and outcome.
func Logging(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, args []any) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, args)
			if err != nil {
				log.Warn("call failed", "method", method, "duration", time.Since(start), "error", err)
			} else {
				log.Debug("call served", "method", method, "duration", time.Since(start))
			}
			return result, err
		}
	}
}
