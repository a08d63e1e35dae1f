// Package session owns the subprocess side's SQL engine handle and the table
// of prepared-statement handles exposed through the RPC endpoint's method
// table.
//
// At most one engine handle is open per session. Opening a new database
// implicitly finalizes every outstanding statement handle and closes the
// previous engine handle; teardown errors are swallowed, never propagated.
// Statements are referenced by integer identifier across the boundary — the
// handle itself never crosses it — and a reference to a finalized or
// never-created id fails with a not-found error rather than crashing the
// session.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"sqlbridge/endpoint"
)

var (
	// ErrStatementNotFound reports a reference to a finalized or
	// never-created statement id.
	ErrStatementNotFound = errors.New("statement not found")

	// ErrNoDatabase reports a call that needs an open engine handle.
	ErrNoDatabase = errors.New("no database open")
)

// Session is the subprocess-side state machine. All methods are safe for
// concurrent dispatch; a single mutex guards the engine handle and the
// statement table.
type Session struct {
	mu       sync.Mutex
	db       *sqlx.DB
	stmts    map[int64]*sql.Stmt
	nextStmt int64
	log      *slog.Logger
}

func New(log *slog.Logger) *Session {
	return &Session{
		stmts: make(map[int64]*sql.Stmt),
		log:   log,
	}
}

// Register installs the fixed method catalog on ep. Every handler is wrapped
// so a failure comes back as "[<method>] <message>" and the session keeps
// serving after a failed call.
func (s *Session) Register(ep *endpoint.Endpoint) {
	handlers := map[string]endpoint.HandlerFunc{
		"open":         s.handleOpen,
		"openMemory":   s.handleOpenMemory,
		"close":        s.handleClose,
		"exec":         s.handleExec,
		"query":        s.handleQuery,
		"run":          s.handleRun,
		"prepare":      s.handlePrepare,
		"stmtRun":      s.handleStmtRun,
		"stmtAll":      s.handleStmtAll,
		"stmtFinalize": s.handleStmtFinalize,
		"getSchema":    s.handleGetSchema,
		"export":       s.handleExport,
		"ping":         s.handlePing,
	}
	for name, fn := range handlers {
		ep.Handle(name, tagged(name, fn))
	}
}

func tagged(name string, fn endpoint.HandlerFunc) endpoint.HandlerFunc {
	return func(ctx context.Context, args []any) (any, error) {
		result, err := fn(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", name, err)
		}
		return result, nil
	}
}

// Shutdown releases the engine handle and all statement handles.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
}

// teardown closes everything, swallowing errors: it runs on re-open paths
// where a half-broken previous session must not block the new one.
// Caller holds s.mu.
func (s *Session) teardown() {
	for id, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			s.log.Debug("statement close failed during teardown", "stmtId", id, "error", err)
		}
	}
	s.stmts = make(map[int64]*sql.Stmt)
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Debug("engine close failed during teardown", "error", err)
		}
		s.db = nil
	}
}

func (s *Session) handleOpen(ctx context.Context, args []any) (any, error) {
	path, err := argString(args, 0, "path")
	if err != nil {
		return nil, err
	}
	readOnly := false
	if len(args) > 1 {
		if readOnly, err = argBool(args, 1, "readOnly"); err != nil {
			return nil, err
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if readOnly {
		dsn += "&mode=ro"
	}
	return nil, s.open(ctx, dsn)
}

func (s *Session) handleOpenMemory(ctx context.Context, _ []any) (any, error) {
	return nil, s.open(ctx, "file::memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
}

func (s *Session) open(ctx context.Context, dsn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// One connection keeps the session on a single engine handle: in-memory
	// databases and prepared statements do not span connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *Session) handleClose(context.Context, []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
	return nil, nil
}

func (s *Session) handleExec(ctx context.Context, args []any) (any, error) {
	query, err := argString(args, 0, "sql")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	changes, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Session) handleQuery(ctx context.Context, args []any) (any, error) {
	query, err := argString(args, 0, "sql")
	if err != nil {
		return nil, err
	}
	params, err := argParams(args, 1)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}

	if isReadQuery(query) {
		rows, err := s.db.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		return collectRows(rows)
	}

	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	changes, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Session) handleRun(ctx context.Context, args []any) (any, error) {
	query, err := argString(args, 0, "sql")
	if err != nil {
		return nil, err
	}
	params, err := argParams(args, 1)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return changeSummary(result)
}

func (s *Session) handlePrepare(ctx context.Context, args []any) (any, error) {
	query, err := argString(args, 0, "sql")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.nextStmt++
	id := s.nextStmt
	s.stmts[id] = stmt
	return id, nil
}

func (s *Session) handleStmtRun(ctx context.Context, args []any) (any, error) {
	id, params, err := stmtArgs(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.stmts[id]
	if !ok {
		return nil, ErrStatementNotFound
	}
	// database/sql resets the statement on every execution, so prior bound
	// values and cursor position never leak into this run.
	result, err := stmt.ExecContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	return changeSummary(result)
}

func (s *Session) handleStmtAll(ctx context.Context, args []any) (any, error) {
	id, params, err := stmtArgs(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.stmts[id]
	if !ok {
		return nil, ErrStatementNotFound
	}
	rows, err := stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (s *Session) handleStmtFinalize(_ context.Context, args []any) (any, error) {
	id, err := argInt(args, 0, "statementId")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.stmts[id]
	if !ok {
		return nil, ErrStatementNotFound
	}
	delete(s.stmts, id)
	return nil, stmt.Close()
}

func (s *Session) handleExport(ctx context.Context, _ []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}

	// VACUUM INTO wants a path that does not exist yet, so build one instead
	// of pre-creating a temp file.
	target := filepath.Join(os.TempDir(),
		fmt.Sprintf("sqlbridge-export-%d-%d.db", os.Getpid(), time.Now().UnixNano()))
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(target); err != nil {
			s.log.Warn("could not remove export artifact", "path", target, "error", err)
		}
	}()

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Session) handlePing(context.Context, []any) (any, error) {
	return time.Now().UnixMilli(), nil
}

// isReadQuery classifies a statement as read-producing by sniffing its first
// keyword. This is heuristic by design — a mutating statement hidden behind a
// leading comment or a writing CTE is misclassified — but the engine exposes
// no cheaper classification primitive, so the limitation is documented rather
// than papered over with a SQL parser.
func isReadQuery(query string) bool {
	fields := strings.Fields(strings.TrimSpace(query))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "PRAGMA", "EXPLAIN", "WITH":
		return true
	}
	return false
}

func changeSummary(result sql.Result) (any, error) {
	changes, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	lastID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return map[string]any{"changes": changes, "lastInsertRowid": lastID}, nil
}

// collectRows drains rows into the wire shape {columns, rows}. Column names
// are taken when the first row arrives; a zero-row result reports empty
// columns — a known limitation of the contract, not worked around with
// schema introspection.
func collectRows(rows *sql.Rows) (any, error) {
	defer rows.Close()

	columns := []any{}
	out := []any{}
	var names []string
	for rows.Next() {
		if names == nil {
			var err error
			if names, err = rows.Columns(); err != nil {
				return nil, err
			}
			for _, n := range names {
				columns = append(columns, n)
			}
		}
		holders := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range holders {
			ptrs[i] = &holders[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(names))
		for i, v := range holders {
			row[i] = normalizeCell(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"columns": columns, "rows": out}, nil
}

// normalizeCell maps driver values into the codec's value domain.
func normalizeCell(v any) any {
	switch x := v.(type) {
	case []byte:
		blob := make([]byte, len(x))
		copy(blob, x)
		return blob
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func stmtArgs(args []any) (int64, []any, error) {
	id, err := argInt(args, 0, "statementId")
	if err != nil {
		return 0, nil, err
	}
	params, err := argParams(args, 1)
	if err != nil {
		return 0, nil, err
	}
	return id, params, nil
}

func argString(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %q is %T, expected string", name, args[i])
	}
	return s, nil
}

func argBool(args []any, i int, name string) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return false, nil
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("argument %q is %T, expected bool", name, args[i])
	}
	return b, nil
}

func argInt(args []any, i int, name string) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	switch x := args[i].(type) {
	case int64:
		return x, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
	}
	return 0, fmt.Errorf("argument %q is %T, expected integer", name, args[i])
}

// argParams extracts the optional positional bind-parameter list.
func argParams(args []any, i int) ([]any, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	params, ok := args[i].([]any)
	if !ok {
		return nil, fmt.Errorf("bind parameters are %T, expected a list", args[i])
	}
	return params, nil
}
