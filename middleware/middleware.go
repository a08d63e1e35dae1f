// Package middleware wraps the endpoint's dispatch path.
package middleware

import "context"

// Handler processes one incoming call.
type Handler func(ctx context.Context, method string, args []any) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain composes middlewares into one, onion style: the first middleware
// passed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
