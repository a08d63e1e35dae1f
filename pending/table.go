// Package pending tracks in-flight calls by identifier, resolves or rejects
// them when a reply arrives, and expires them on deadline.
//
// Each pending call makes exactly one terminal transition:
//
//	Sent -> {Resolved, Rejected, TimedOut}
//
// Resolve, Reject, the deadline timer, and FailAll all race for that
// transition; whichever removes the entry from the table first wins and the
// losers are silent no-ops. A single table-wide mutex is the serialization
// point, since completions arrive from multiple goroutines.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is the terminal cause for calls whose deadline fired before a
// response arrived.
var ErrTimeout = errors.New("call timed out")

// TimeoutError carries the method name so the caller-facing text reads
// "<method> timed out".
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return e.Method + " timed out"
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Call is the caller's future for one outbound request. It completes exactly
// once; the result fields are published before done is closed, so readers on
// the other side of Done observe them safely.
type Call struct {
	ID     int64
	Method string

	done chan struct{}
	data any
	err  error
}

// Done is closed when the call reaches a terminal state.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call completes.
func (c *Call) Result() (any, error) {
	<-c.done
	return c.data, c.err
}

// Wait blocks until the call completes or ctx is cancelled. The deadline
// timer still fires for an abandoned call, so the table entry is reclaimed
// either way.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) complete(data any, err error) {
	c.data = data
	c.err = err
	close(c.done)
}

type entry struct {
	call  *Call
	timer *time.Timer
}

// Table owns the map of pending calls and the id generator. Construct one per
// endpoint; nothing here is process-global, so independent endpoints coexist
// in one process.
type Table struct {
	mu    sync.Mutex
	calls map[int64]*entry
	seq   int64
}

func NewTable() *Table {
	return &Table{calls: make(map[int64]*entry)}
}

// Register allocates an identifier, stores the pending entry, and arms the
// deadline. The id combines a monotonic counter with low bits of the current
// time — collision avoidance across endpoint restarts, nothing cryptographic.
// A timeout of zero leaves the call without a deadline.
func (t *Table) Register(method string, timeout time.Duration) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	id := t.seq<<16 | time.Now().UnixMilli()&0xffff
	c := &Call{ID: id, Method: method, done: make(chan struct{})}
	e := &entry{call: c}
	t.calls[id] = e
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() { t.expire(id) })
	}
	return c
}

// take removes and returns the entry for id, or nil if no terminal transition
// remains to be made.
func (t *Table) take(id int64) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}

// Resolve fulfills the pending call for id. A duplicate, late, or unknown id
// is discarded silently.
func (t *Table) Resolve(id int64, data any) {
	if e := t.take(id); e != nil {
		e.call.complete(data, nil)
	}
}

// Reject fails the pending call for id. Unknown ids are discarded silently.
func (t *Table) Reject(id int64, err error) {
	if e := t.take(id); e != nil {
		e.call.complete(nil, err)
	}
}

func (t *Table) expire(id int64) {
	if e := t.take(id); e != nil {
		e.call.complete(nil, &TimeoutError{Method: e.call.Method})
	}
}

// FailAll rejects every outstanding call with err. Called when the transport
// closes so no caller waits forever.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.calls))
	for _, e := range t.calls {
		entries = append(entries, e)
	}
	t.calls = make(map[int64]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.call.complete(nil, err)
	}
}

// Len reports the number of calls still in flight.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
