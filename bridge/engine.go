// Package bridge is the host side of the native engine bridge: it spawns the
// SQL worker subprocess, speaks the length-prefixed frame protocol over its
// stdio pipes, and exposes the worker's fixed method catalog as typed Go
// calls.
//
// stdout/stdin carry protocol frames exclusively; the worker's stderr is
// drained into the host logger and has no protocol meaning.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"sqlbridge/codec"
	"sqlbridge/endpoint"
	"sqlbridge/message"
	"sqlbridge/stdio"
)

// ErrNotReady reports a worker that never completed the startup handshake.
var ErrNotReady = errors.New("bridge: worker never reported ready")

// Options configures a worker subprocess.
type Options struct {
	// Command is the worker binary; Args are passed through.
	Command string
	Args    []string

	// Codec selects the payload serialization; binary is the default.
	Codec codec.Type

	// InvokeTimeout is the per-call deadline (default 30s).
	InvokeTimeout time.Duration

	// ReadyTimeout bounds the startup handshake (default 10s). The worker
	// must announce itself before the host issues the first real call; this
	// bounds a class of startup races without a fixed delay.
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// WorkerInfo is the identity the worker announces in its ready message.
type WorkerInfo struct {
	Name       string
	Version    string
	InstanceID string
}

// Result summarizes a mutating statement.
type Result struct {
	Changes      int64
	LastInsertID int64
}

// ResultSet is a read-producing statement's output. Columns is empty when
// the query matched zero rows.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Column describes one column of a user table.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Default    any
}

// Table describes one user table.
type Table struct {
	Name    string
	Columns []Column
}

// transport is what the engine needs from its frame carrier. Both the
// subprocess pipe transport and the in-process channel pair satisfy it.
type transport interface {
	endpoint.Sender
	OnFrame(stdio.FrameHandler)
	OnClose(stdio.CloseHandler)
	Start()
	Close()
}

// Engine is a handle on one running worker subprocess.
type Engine struct {
	cmd *exec.Cmd
	tr  transport
	ep  *endpoint.Endpoint
	log *slog.Logger

	readyCh   chan struct{}
	readyOnce sync.Once

	// closedCh is closed once the transport is down and the child reaped;
	// closeErr is published before the close.
	closedCh chan struct{}
	closeErr error

	mu   sync.Mutex
	info WorkerInfo
}

// Start launches the worker and completes the startup handshake.
func Start(ctx context.Context, opts Options) (*Engine, error) {
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = endpoint.DefaultTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stderr pipe: %w", err)
	}

	e := &Engine{
		cmd:      cmd,
		log:      opts.Logger,
		readyCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	e.tr = stdio.New(stdout, stdin, codec.Get(opts.Codec), opts.Logger)
	e.ep = endpoint.New(e.tr, opts.Logger)
	e.ep.SetTimeout(opts.InvokeTimeout)
	e.ep.Handle("ready", e.onReady)

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)

	e.tr.OnFrame(e.ep.OnFrame)
	e.tr.OnClose(func(cause error) {
		e.ep.FailPending(cause)
		// Wait closes the pipes, so the stderr drain must finish first or the
		// worker's last diagnostics are lost. Then reap the child so a dead
		// worker never lingers as a zombie.
		stderrDone.Wait()
		if err := cmd.Wait(); err != nil {
			e.log.Debug("worker exited", "error", err)
		}
		e.closeErr = cause
		close(e.closedCh)
	})

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: start worker: %w", err)
	}
	go func() {
		defer stderrDone.Done()
		e.drainStderr(stderr)
	}()
	e.tr.Start()

	select {
	case <-e.readyCh:
		return e, nil
	case <-e.closedCh:
		// The worker died before the handshake; report the real cause now
		// instead of sitting out the ready deadline.
		return nil, fmt.Errorf("bridge: worker exited before ready: %w", e.closeErr)
	case <-time.After(opts.ReadyTimeout):
		e.tr.Close()
		return nil, ErrNotReady
	case <-ctx.Done():
		e.tr.Close()
		return nil, ctx.Err()
	}
}

func (e *Engine) onReady(_ context.Context, args []any) (any, error) {
	info := WorkerInfo{}
	if len(args) > 0 {
		info.Name, _ = args[0].(string)
	}
	if len(args) > 1 {
		info.Version, _ = args[1].(string)
	}
	if len(args) > 2 {
		info.InstanceID, _ = args[2].(string)
	}
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()

	e.readyOnce.Do(func() { close(e.readyCh) })
	e.log.Info("worker ready", "name", info.Name, "version", info.Version, "instance", info.InstanceID)
	return nil, nil
}

func (e *Engine) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e.log.Debug("worker stderr", "line", scanner.Text())
	}
}

// Info returns the identity from the ready handshake.
func (e *Engine) Info() WorkerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Shutdown closes the worker's pipes and waits for it to exit. The worker
// treats stdin EOF as the signal to leave.
func (e *Engine) Shutdown() {
	e.tr.Close()
}

// Open opens (or creates) the database file at path on the worker, tearing
// down any previously open session first.
func (e *Engine) Open(ctx context.Context, path string, readOnly bool) error {
	_, err := e.ep.Invoke(ctx, "open", path, readOnly)
	return err
}

// OpenMemory opens a fresh in-memory database.
func (e *Engine) OpenMemory(ctx context.Context) error {
	_, err := e.ep.Invoke(ctx, "openMemory")
	return err
}

// Close closes the worker's engine handle without stopping the worker.
func (e *Engine) Close(ctx context.Context) error {
	_, err := e.ep.Invoke(ctx, "close")
	return err
}

// Exec runs SQL with no bound parameters and returns the affected-row count.
func (e *Engine) Exec(ctx context.Context, query string) (int64, error) {
	result, err := e.ep.Invoke(ctx, "exec", query)
	if err != nil {
		return 0, err
	}
	n, ok := message.AsInt64(result)
	if !ok {
		return 0, fmt.Errorf("bridge: exec returned %T, expected integer", result)
	}
	return n, nil
}

// Query runs a statement. Read-producing statements return a ResultSet;
// mutating statements return a nil ResultSet and the change count.
func (e *Engine) Query(ctx context.Context, query string, params ...any) (*ResultSet, int64, error) {
	result, err := e.ep.Invoke(ctx, "query", query, params)
	if err != nil {
		return nil, 0, err
	}
	if n, ok := message.AsInt64(result); ok {
		return nil, n, nil
	}
	rs, err := parseResultSet(result)
	if err != nil {
		return nil, 0, err
	}
	return rs, int64(len(rs.Rows)), nil
}

// Run executes a mutating statement and returns its change summary.
func (e *Engine) Run(ctx context.Context, query string, params ...any) (Result, error) {
	result, err := e.ep.Invoke(ctx, "run", query, params)
	if err != nil {
		return Result{}, err
	}
	return parseResult(result)
}

// Prepare creates a statement handle on the worker.
func (e *Engine) Prepare(ctx context.Context, query string) (int64, error) {
	result, err := e.ep.Invoke(ctx, "prepare", query)
	if err != nil {
		return 0, err
	}
	id, ok := message.AsInt64(result)
	if !ok {
		return 0, fmt.Errorf("bridge: prepare returned %T, expected integer", result)
	}
	return id, nil
}

// StmtRun executes a prepared statement with fresh bindings.
func (e *Engine) StmtRun(ctx context.Context, stmtID int64, params ...any) (Result, error) {
	result, err := e.ep.Invoke(ctx, "stmtRun", stmtID, params)
	if err != nil {
		return Result{}, err
	}
	return parseResult(result)
}

// StmtAll queries a prepared statement with fresh bindings.
func (e *Engine) StmtAll(ctx context.Context, stmtID int64, params ...any) (*ResultSet, error) {
	result, err := e.ep.Invoke(ctx, "stmtAll", stmtID, params)
	if err != nil {
		return nil, err
	}
	return parseResultSet(result)
}

// StmtFinalize destroys a statement handle.
func (e *Engine) StmtFinalize(ctx context.Context, stmtID int64) error {
	_, err := e.ep.Invoke(ctx, "stmtFinalize", stmtID)
	return err
}

// GetSchema enumerates user tables and their columns.
func (e *Engine) GetSchema(ctx context.Context) ([]Table, error) {
	result, err := e.ep.Invoke(ctx, "getSchema")
	if err != nil {
		return nil, err
	}
	return parseSchema(result)
}

// Export returns a consistent point-in-time snapshot of the database image.
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	result, err := e.ep.Invoke(ctx, "export")
	if err != nil {
		return nil, err
	}
	snapshot, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("bridge: export returned %T, expected blob", result)
	}
	return snapshot, nil
}

// Ping probes worker liveness and returns the worker's clock reading.
func (e *Engine) Ping(ctx context.Context) (time.Time, error) {
	result, err := e.ep.Invoke(ctx, "ping")
	if err != nil {
		return time.Time{}, err
	}
	ms, ok := message.AsInt64(result)
	if !ok {
		return time.Time{}, fmt.Errorf("bridge: ping returned %T, expected integer", result)
	}
	return time.UnixMilli(ms), nil
}
