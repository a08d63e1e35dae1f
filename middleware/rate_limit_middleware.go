package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned to the peer when the token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit applies a token-bucket limit across all methods of an endpoint.
func RateLimit(perSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, method string, args []any) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, method, args)
		}
	}
}
