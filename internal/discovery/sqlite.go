package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // database/sql driver registration (pure Go, no cgo)
)

// sqliteConn is the Connector for agent databases that are a single SQLite
// file. Schema introspection goes through PRAGMA statements rather than
// information_schema, which SQLite doesn't have.
type sqliteConn struct {
	db *sql.DB
}

// OpenSQLite opens a short-lived connection to a SQLite file at path.
func OpenSQLite(ctx context.Context, path string) (Connector, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("discovery: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers; one conn avoids lock contention
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("discovery: ping sqlite: %w", err)
	}
	return &sqliteConn{db: db}, nil
}

func (c *sqliteConn) Dialect() string { return "sqlite" }

func (c *sqliteConn) Close() error { return c.db.Close() }

// DiscoverColumns lists user tables via sqlite_master, then PRAGMA
// table_info per table for columns/types/nullability. SQLite has a single
// implicit schema, reported as "main".
func (c *sqliteConn) DiscoverColumns(ctx context.Context) ([]Column, error) {
	tableRows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("discovery: sqlite list tables: %w", err)
	}
	var tables []string
	for tableRows.Next() {
		var t string
		if err := tableRows.Scan(&t); err != nil {
			tableRows.Close()
			return nil, fmt.Errorf("discovery: scan sqlite table name: %w", err)
		}
		tables = append(tables, t)
	}
	if err := tableRows.Err(); err != nil {
		tableRows.Close()
		return nil, err
	}
	tableRows.Close()

	var out []Column
	for _, table := range tables {
		rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
		if err != nil {
			return nil, fmt.Errorf("discovery: sqlite table_info(%s): %w", table, err)
		}
		for rows.Next() {
			var cid int
			var name, ctype string
			var notNull int
			var dfltValue any
			var pk int
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
				rows.Close()
				return nil, fmt.Errorf("discovery: scan sqlite column: %w", err)
			}
			out = append(out, Column{
				SchemaName: "main",
				TableName:  table,
				ColumnName: name,
				DataType:   strings.ToLower(ctype),
				IsNullable: notNull == 0,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func (c *sqliteConn) SampleRows(ctx context.Context, _, table string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit)
	return queryToMaps(ctx, c.db, query)
}

func (c *sqliteConn) Execute(ctx context.Context, sqlText string, timeout time.Duration, rowCap int) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	result, err := scanExecResult(rows, rowCap)
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// Explain uses EXPLAIN QUERY PLAN: SQLite's bare EXPLAIN emits opcodes, not
// a validity check, but both fail identically on a malformed statement, and
// QUERY PLAN is cheaper since it doesn't compile to bytecode for inspection.
func (c *sqliteConn) Explain(ctx context.Context, sqlText string) error {
	rows, err := c.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+sqlText)
	if err != nil {
		return classifySQLiteError(err)
	}
	return rows.Close()
}

func classifySQLiteError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		return &ExecError{Class: ExecSyntaxError, Err: err}
	case strings.Contains(msg, "no such table"):
		return &ExecError{Class: ExecUndefinedTable, Err: err}
	case strings.Contains(msg, "no such column"):
		return &ExecError{Class: ExecUndefinedColumn, Err: err}
	default:
		return &ExecError{Class: ExecOther, Err: err}
	}
}
