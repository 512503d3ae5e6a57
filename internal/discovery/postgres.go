package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // database/sql driver registration
)

// postgresConn is the Connector for agent databases reachable over the
// Postgres wire protocol. It uses database/sql + lib/pq rather than the
// platform's pgx pool: agent DB connections are short-lived
// and never pooled globally, so a pgxpool is the wrong tool here.
type postgresConn struct {
	db *sql.DB
}

// OpenPostgres opens a short-lived connection to an agent's Postgres DB.
func OpenPostgres(ctx context.Context, dbURL string) (Connector, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("discovery: ping postgres: %w", err)
	}
	return &postgresConn{db: db}, nil
}

func (c *postgresConn) Dialect() string { return "postgres" }

func (c *postgresConn) Close() error { return c.db.Close() }

func (c *postgresConn) DiscoverColumns(ctx context.Context) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_schema, table_name, column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		 ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("discovery: postgres list columns: %w", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c2 Column
		var nullable string
		if err := rows.Scan(&c2.SchemaName, &c2.TableName, &c2.ColumnName, &c2.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("discovery: scan postgres column: %w", err)
		}
		c2.IsNullable = nullable == "YES"
		out = append(out, c2)
	}
	return out, rows.Err()
}

func (c *postgresConn) SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, qualifiedIdent(schema, table), limit)
	return queryToMaps(ctx, c.db, query)
}

func (c *postgresConn) Execute(ctx context.Context, sqlText string, timeout time.Duration, rowCap int) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	defer rows.Close()

	result, err := scanExecResult(rows, rowCap)
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func (c *postgresConn) Explain(ctx context.Context, sqlText string) error {
	_, err := c.db.ExecContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

// classifyPostgresError maps a lib/pq error to the classified taxonomy the
// structural validator depends on.
func classifyPostgresError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		return &ExecError{Class: ExecSyntaxError, Err: err}
	case strings.Contains(msg, "does not exist") && (strings.Contains(msg, "relation") || strings.Contains(msg, "table")):
		return &ExecError{Class: ExecUndefinedTable, Err: err}
	case strings.Contains(msg, "does not exist") && strings.Contains(msg, "column"):
		return &ExecError{Class: ExecUndefinedColumn, Err: err}
	default:
		return &ExecError{Class: ExecOther, Err: err}
	}
}
