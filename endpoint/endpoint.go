// Package endpoint is the request/response multiplexer usable over any
// two-way frame channel.
//
// One side calls Invoke(method, args) and gets a future; the other side's
// endpoint looks the method up in its handler table, executes it, and sends
// back a response carrying the same identifier. The correlation table matches
// the response to the caller among many concurrent in-flight calls.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sqlbridge/message"
	"sqlbridge/middleware"
	"sqlbridge/pending"
)

// DefaultTimeout is the per-call deadline applied when the endpoint is not
// configured otherwise.
const DefaultTimeout = 30 * time.Second

// ErrUnknownMethod is the terminal cause for calls to methods with no
// registered handler.
var ErrUnknownMethod = errors.New("unknown method")

// UnknownMethodError renders the fixed caller-facing text.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "Unknown method: " + e.Method
}

func (e *UnknownMethodError) Is(target error) bool {
	return target == ErrUnknownMethod
}

// Sender is the transport seam: it must deliver one frame to the peer.
type Sender interface {
	Send(*message.Frame) error
}

// HandlerFunc serves one incoming call.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

// Endpoint exposes Invoke to local callers and a handler table to the peer.
// Each endpoint owns its correlation table; multiple endpoints coexist in one
// process, e.g. under test.
type Endpoint struct {
	sender Sender
	table  *pending.Table
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	mws      []middleware.Middleware
	dispatch middleware.Handler
	timeout  time.Duration
}

func New(sender Sender, log *slog.Logger) *Endpoint {
	e := &Endpoint{
		sender:   sender,
		table:    pending.NewTable(),
		log:      log,
		handlers: make(map[string]HandlerFunc),
		timeout:  DefaultTimeout,
	}
	e.dispatch = e.call
	return e
}

// SetTimeout overrides the default per-call deadline for this endpoint.
func (e *Endpoint) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// Use appends a middleware to the dispatch chain. Register middlewares before
// frames start flowing.
func (e *Endpoint) Use(mw middleware.Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mws = append(e.mws, mw)
	e.dispatch = middleware.Chain(e.mws...)(e.call)
}

// Handle associates a method name with a handler.
func (e *Endpoint) Handle(method string, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = fn
}

// Invoke calls a method on the peer and blocks until the response, the
// per-call deadline, or ctx, whichever comes first.
func (e *Endpoint) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	e.mu.RLock()
	timeout := e.timeout
	e.mu.RUnlock()
	return e.Go(method, args, timeout).Wait(ctx)
}

// Go starts a call and returns the caller's future. A send failure fails the
// future immediately; sends are never retried at this layer.
func (e *Endpoint) Go(method string, args []any, timeout time.Duration) *pending.Call {
	call := e.table.Register(method, timeout)
	req := message.NewRequest(call.ID, method, args)
	if err := e.sender.Send(req); err != nil {
		e.table.Reject(call.ID, err)
	}
	return call
}

// Notify sends a request frame that expects no reply.
func (e *Endpoint) Notify(method string, args ...any) error {
	return e.sender.Send(message.NewRequest(message.NotificationID, method, args))
}

// OnFrame routes one incoming frame: requests to the handler table, responses
// to the correlation table. It never panics outward; handler failures become
// failure responses and exactly one reply is sent per positive-id request.
func (e *Endpoint) OnFrame(f *message.Frame) {
	switch f.Kind {
	case message.KindInvoke:
		go e.serve(f)
	case message.KindResponse:
		if f.Success {
			e.table.Resolve(f.ID, f.Data)
		} else {
			e.table.Reject(f.ID, errors.New(f.Error))
		}
	default:
		e.log.Warn("dropping frame of unknown kind", "kind", f.Kind, "id", f.ID)
	}
}

// FailPending rejects every in-flight call. The transport's close handler
// calls this so a dead peer never leaves a caller hanging.
func (e *Endpoint) FailPending(err error) {
	e.table.FailAll(err)
}

// Pending reports how many calls are in flight.
func (e *Endpoint) Pending() int {
	return e.table.Len()
}

func (e *Endpoint) serve(f *message.Frame) {
	data, err := e.safeDispatch(f.Method, f.Args)

	if f.ID <= message.NotificationID {
		if err != nil {
			e.log.Warn("notification handler failed", "method", f.Method, "error", err)
		}
		return
	}

	var reply *message.Frame
	if err != nil {
		reply = message.NewFault(f.ID, err.Error())
	} else {
		reply = message.NewResult(f.ID, data)
	}
	if sendErr := e.sender.Send(reply); sendErr != nil {
		e.log.Error("failed to send reply", "method", f.Method, "id", f.ID, "error", sendErr)
	}
}

// safeDispatch runs the middleware chain and converts panics into ordinary
// handler failures so a broken handler can never take the endpoint down.
func (e *Endpoint) safeDispatch(method string, args []any) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			e.log.Error("recovered handler panic", "method", method, "panic", r)
		}
	}()
	e.mu.RLock()
	dispatch := e.dispatch
	e.mu.RUnlock()
	return dispatch(context.Background(), method, args)
}

func (e *Endpoint) call(ctx context.Context, method string, args []any) (any, error) {
	e.mu.RLock()
	fn, ok := e.handlers[method]
	e.mu.RUnlock()
	if !ok {
		return nil, &UnknownMethodError{Method: method}
	}
	return fn(ctx, args)
}
