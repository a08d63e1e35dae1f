package session_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlbridge/endpoint"
	"sqlbridge/session"
	"sqlbridge/stdio"
)

// harness wires a session-backed worker endpoint to a host endpoint over an
// in-process channel pair and returns the host side.
func harness(t *testing.T) *endpoint.Endpoint {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	hostTr, workerTr := stdio.Pair()
	host := endpoint.New(hostTr, log)
	worker := endpoint.New(workerTr, log)

	sess := session.New(log)
	sess.Register(worker)

	hostTr.OnFrame(host.OnFrame)
	hostTr.OnClose(func(err error) { host.FailPending(err) })
	workerTr.OnFrame(worker.OnFrame)
	workerTr.OnClose(func(err error) { worker.FailPending(err) })
	hostTr.Start()
	workerTr.Start()

	t.Cleanup(func() {
		hostTr.Close()
		workerTr.Close()
		sess.Shutdown()
	})
	return host
}

func mustInvoke(t *testing.T, host *endpoint.Endpoint, method string, args ...any) any {
	t.Helper()
	result, err := host.Invoke(context.Background(), method, args...)
	require.NoError(t, err, "method %s", method)
	return result
}

func TestOpenMemoryAndBasicCalls(t *testing.T) {
	host := harness(t)
	ctx := context.Background()

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")

	// run returns both the change count and the generated row id.
	result := mustInvoke(t, host, "run", "INSERT INTO t (name) VALUES (?)", []any{"alice"})
	summary, ok := result.(map[string]any)
	require.True(t, ok, "run result is %T", result)
	assert.Equal(t, int64(1), summary["changes"])
	assert.Equal(t, int64(1), summary["lastInsertRowid"])

	mustInvoke(t, host, "run", "INSERT INTO t (name) VALUES (?)", []any{"bob"})

	// A SELECT comes back as columns plus positional rows.
	result = mustInvoke(t, host, "query", "SELECT id, name FROM t ORDER BY id")
	rs, ok := result.(map[string]any)
	require.True(t, ok, "query result is %T", result)
	assert.Equal(t, []any{"id", "name"}, rs["columns"])
	assert.Equal(t, []any{
		[]any{int64(1), "alice"},
		[]any{int64(2), "bob"},
	}, rs["rows"])

	// A mutating statement routed through query returns a change count.
	result = mustInvoke(t, host, "query", "DELETE FROM t WHERE id = ?", []any{int64(1)})
	assert.Equal(t, int64(1), result)

	// Calls after a failed call keep working.
	_, err := host.Invoke(ctx, "exec", "NOT VALID SQL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[exec]")
	result = mustInvoke(t, host, "query", "SELECT count(*) FROM t")
	rs = result.(map[string]any)
	assert.Equal(t, []any{[]any{int64(1)}}, rs["rows"])
}

func TestQueryZeroRowsHasEmptyColumns(t *testing.T) {
	host := harness(t)

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER)")

	result := mustInvoke(t, host, "query", "SELECT id FROM t")
	rs := result.(map[string]any)
	assert.Empty(t, rs["columns"])
	assert.Empty(t, rs["rows"])
}

func TestPreparedStatementLifecycle(t *testing.T) {
	host := harness(t)
	ctx := context.Background()

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	mustInvoke(t, host, "run", "INSERT INTO t (id, v) VALUES (5, 'five')")

	stmtID := mustInvoke(t, host, "prepare", "SELECT * FROM t WHERE id = ?")
	require.IsType(t, int64(0), stmtID)

	// Running the same prepared statement twice with the same binding must
	// return the same row set: the statement is reset before rebinding.
	first := mustInvoke(t, host, "stmtAll", stmtID, []any{int64(5)})
	second := mustInvoke(t, host, "stmtAll", stmtID, []any{int64(5)})
	assert.Equal(t, first, second)
	rs := first.(map[string]any)
	assert.Equal(t, []any{[]any{int64(5), "five"}}, rs["rows"])

	// stmtRun through a second handle, then finalize both.
	insID := mustInvoke(t, host, "prepare", "INSERT INTO t (v) VALUES (?)")
	summary := mustInvoke(t, host, "stmtRun", insID, []any{"six"}).(map[string]any)
	assert.Equal(t, int64(1), summary["changes"])

	mustInvoke(t, host, "stmtFinalize", stmtID)
	mustInvoke(t, host, "stmtFinalize", insID)

	// A finalized handle is gone, and saying so must not kill the session.
	_, err := host.Invoke(ctx, "stmtAll", stmtID, []any{int64(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[stmtAll] statement not found")

	_, err = host.Invoke(ctx, "stmtFinalize", stmtID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement not found")

	result := mustInvoke(t, host, "query", "SELECT count(*) FROM t")
	assert.Equal(t, []any{[]any{int64(2)}}, result.(map[string]any)["rows"])
}

// Re-opening implicitly finalizes every statement handle from the previous
// session.
func TestReopenClearsStatementHandles(t *testing.T) {
	host := harness(t)
	ctx := context.Background()

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER)")
	stmtID := mustInvoke(t, host, "prepare", "SELECT id FROM t")

	mustInvoke(t, host, "openMemory")

	_, err := host.Invoke(ctx, "stmtAll", stmtID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement not found")
}

func TestCallsWithoutOpenFail(t *testing.T) {
	host := harness(t)
	ctx := context.Background()

	for _, method := range []string{"exec", "query", "run", "prepare"} {
		_, err := host.Invoke(ctx, method, "SELECT 1")
		require.Error(t, err, method)
		assert.Contains(t, err.Error(), "no database open", method)
	}
}

func TestOpenFileAndReadOnly(t *testing.T) {
	host := harness(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.db")

	mustInvoke(t, host, "open", path, false)
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER)")
	mustInvoke(t, host, "run", "INSERT INTO t VALUES (1)")
	mustInvoke(t, host, "close")

	mustInvoke(t, host, "open", path, true)
	result := mustInvoke(t, host, "query", "SELECT id FROM t")
	assert.Equal(t, []any{[]any{int64(1)}}, result.(map[string]any)["rows"])

	_, err := host.Invoke(ctx, "run", "INSERT INTO t VALUES (2)")
	require.Error(t, err, "write on a read-only handle must fail")
}

func TestGetSchema(t *testing.T) {
	host := harness(t)

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", `CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		age INTEGER DEFAULT 21
	)`)
	mustInvoke(t, host, "exec", "CREATE TABLE empty_one (x BLOB)")

	result := mustInvoke(t, host, "getSchema")
	tables, ok := result.([]any)
	require.True(t, ok, "schema is %T", result)
	require.Len(t, tables, 2)

	// Sorted by name: empty_one, users.
	users := tables[1].(map[string]any)
	assert.Equal(t, "users", users["name"])
	cols := users["columns"].([]any)
	require.Len(t, cols, 3)

	id := cols[0].(map[string]any)
	assert.Equal(t, "id", id["name"])
	assert.Equal(t, "INTEGER", id["type"])
	assert.Equal(t, true, id["primaryKey"])

	name := cols[1].(map[string]any)
	assert.Equal(t, true, name["notNull"])

	age := cols[2].(map[string]any)
	assert.Equal(t, "21", age["default"])
}

func TestBlobFidelityThroughEngine(t *testing.T) {
	host := harness(t)

	blob := make([]byte, 256)
	for i := range blob {
		blob[i] = byte(i)
	}

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE b (data BLOB)")
	mustInvoke(t, host, "run", "INSERT INTO b VALUES (?)", []any{blob})

	result := mustInvoke(t, host, "query", "SELECT data FROM b")
	rows := result.(map[string]any)["rows"].([]any)
	require.Len(t, rows, 1)
	got, ok := rows[0].([]any)[0].([]byte)
	require.True(t, ok, "blob came back as %T", rows[0].([]any)[0])
	assert.True(t, bytes.Equal(blob, got), "blob corrupted through engine round-trip")
}

func TestExport(t *testing.T) {
	host := harness(t)

	mustInvoke(t, host, "openMemory")
	mustInvoke(t, host, "exec", "CREATE TABLE t (id INTEGER)")
	mustInvoke(t, host, "run", "INSERT INTO t VALUES (42)")

	result := mustInvoke(t, host, "export")
	snapshot, ok := result.([]byte)
	require.True(t, ok, "export is %T", result)
	assert.True(t, bytes.HasPrefix(snapshot, []byte("SQLite format 3\x00")),
		"export is not a SQLite database image")
}

func TestPing(t *testing.T) {
	host := harness(t)

	result := mustInvoke(t, host, "ping")
	ts, ok := result.(int64)
	require.True(t, ok, "ping is %T", result)
	assert.Greater(t, ts, int64(0))
}
