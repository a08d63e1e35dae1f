package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool manages a bounded set of reusable worker subprocesses.
//
// A buffered channel serves as the idle queue — concurrency-safe FIFO with
// built-in blocking when every worker is checked out. Workers are spawned
// lazily: the pool starts empty and grows on demand up to its capacity.
type Pool struct {
	mu      sync.Mutex
	idle    chan *Engine
	opts    Options
	max     int
	started int
	closed  bool
}

var ErrPoolClosed = errors.New("bridge: pool is closed")

func NewPool(opts Options, max int) *Pool {
	return &Pool{
		idle: make(chan *Engine, max),
		opts: opts,
		max:  max,
	}
}

// Get checks a worker out of the pool, spawning one if the pool is empty and
// below capacity, and blocking when all workers are in use.
func (p *Pool) Get(ctx context.Context) (*Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case e, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return e, nil
	default:
	}

	p.mu.Lock()
	if p.started < p.max {
		p.started++
		p.mu.Unlock()
		e, err := Start(ctx, p.opts)
		if err != nil {
			p.mu.Lock()
			p.started--
			p.mu.Unlock()
			return nil, err
		}
		return e, nil
	}
	p.mu.Unlock()

	// At capacity: wait for a worker to come back.
	select {
	case e, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a worker to the pool. A worker whose liveness probe fails is
// shut down and its slot freed instead.
func (p *Pool) Put(ctx context.Context, e *Engine) {
	if _, err := e.Ping(ctx); err != nil {
		e.Shutdown()
		p.mu.Lock()
		p.started--
		p.mu.Unlock()
		return
	}

	// The closed check and the send happen under one mutex hold: Close sets
	// closed and closes the idle queue under the same mutex, so a return can
	// never race into a closed channel. The send is buffered and guarded by
	// default, so nothing blocks while the lock is held.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		e.Shutdown()
		return
	}
	select {
	case p.idle <- e:
		p.mu.Unlock()
	default:
		// Returned more workers than capacity; drop the extra.
		p.mu.Unlock()
		e.Shutdown()
	}
}

// Close shuts down every idle worker and refuses further checkouts. Workers
// currently checked out are shut down as they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("bridge: pool already closed")
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	for e := range p.idle {
		e.Shutdown()
	}
	return nil
}
