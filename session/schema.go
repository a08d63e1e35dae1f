package session

import (
	"context"
	"database/sql"
	"strings"
)

// columnInfo matches the shape of PRAGMA table_info rows.
type columnInfo struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

func (s *Session) handleGetSchema(ctx context.Context, _ []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNoDatabase
	}

	var names []string
	err := s.db.SelectContext(ctx, &names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}

	tables := []any{}
	for _, name := range names {
		var cols []columnInfo
		if err := s.db.SelectContext(ctx, &cols, "PRAGMA table_info("+quoteIdent(name)+")"); err != nil {
			return nil, err
		}
		outCols := []any{}
		for _, c := range cols {
			var dflt any
			if c.Default.Valid {
				dflt = c.Default.String
			}
			outCols = append(outCols, map[string]any{
				"name":       c.Name,
				"type":       c.Type,
				"notNull":    c.NotNull != 0,
				"primaryKey": c.PK != 0,
				"default":    dflt,
			})
		}
		tables = append(tables, map[string]any{"name": name, "columns": outCols})
	}
	return tables, nil
}

// quoteIdent quotes a SQL identifier; PRAGMA table_info cannot take a bind
// parameter.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
