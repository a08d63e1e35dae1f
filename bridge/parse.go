package bridge

import (
	"fmt"

	"sqlbridge/message"
)

func parseResult(v any) (Result, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("bridge: change summary is %T, expected a map", v)
	}
	changes, ok := message.AsInt64(m["changes"])
	if !ok {
		return Result{}, fmt.Errorf("bridge: change summary has no integer changes field")
	}
	lastID, ok := message.AsInt64(m["lastInsertRowid"])
	if !ok {
		return Result{}, fmt.Errorf("bridge: change summary has no integer lastInsertRowid field")
	}
	return Result{Changes: changes, LastInsertID: lastID}, nil
}

func parseResultSet(v any) (*ResultSet, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bridge: result set is %T, expected a map", v)
	}
	rawCols, ok := m["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("bridge: result set has no columns list")
	}
	rawRows, ok := m["rows"].([]any)
	if !ok {
		return nil, fmt.Errorf("bridge: result set has no rows list")
	}

	rs := &ResultSet{
		Columns: make([]string, 0, len(rawCols)),
		Rows:    make([][]any, 0, len(rawRows)),
	}
	for _, c := range rawCols {
		name, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("bridge: column name is %T, expected string", c)
		}
		rs.Columns = append(rs.Columns, name)
	}
	for _, r := range rawRows {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("bridge: row is %T, expected a list", r)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

func parseSchema(v any) ([]Table, error) {
	rawTables, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("bridge: schema is %T, expected a list", v)
	}
	tables := make([]Table, 0, len(rawTables))
	for _, rt := range rawTables {
		tm, ok := rt.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bridge: schema table is %T, expected a map", rt)
		}
		name, _ := tm["name"].(string)
		rawCols, _ := tm["columns"].([]any)
		cols := make([]Column, 0, len(rawCols))
		for _, rc := range rawCols {
			cm, ok := rc.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("bridge: schema column is %T, expected a map", rc)
			}
			col := Column{Default: cm["default"]}
			col.Name, _ = cm["name"].(string)
			col.Type, _ = cm["type"].(string)
			col.NotNull, _ = cm["notNull"].(bool)
			col.PrimaryKey, _ = cm["primaryKey"].(bool)
			cols = append(cols, col)
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}
