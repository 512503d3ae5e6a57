// Package discovery introspects an agent's own database and executes
// ground-truth/evaluation SQL against it. It is polymorphic over the
// capability set {list tables, list columns with types/nullability, sample
// rows, execute SQL}, with concrete variants for Postgres, MySQL, SQLite,
// and Mongo.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Column is one flat row of discovery output.
type Column struct {
	SchemaName string
	TableName  string
	ColumnName string
	DataType   string
	IsNullable bool
}

// ExecError classifies a DB-reported error for the structural validator.
type ExecErrorClass string

const (
	ExecSyntaxError      ExecErrorClass = "SYNTAX_ERROR"
	ExecUndefinedTable   ExecErrorClass = "UNDEFINED_TABLE"
	ExecUndefinedColumn  ExecErrorClass = "UNDEFINED_COLUMN"
	ExecOther            ExecErrorClass = "OTHER"
)

// ExecError wraps a DB error with its classified category.
type ExecError struct {
	Class ExecErrorClass
	Err   error
}

func (e *ExecError) Error() string { return fmt.Sprintf("discovery: %s: %v", e.Class, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

// ExecResult is the normalized outcome of executing a SQL statement.
type ExecResult struct {
	Columns         []string
	Rows            [][]any // capped at rowCap
	RowCount        int     // total rows returned (before capping), when known
	ExecutionTimeMs int64
}

// Connector is the capability contract schema discovery, ground-truth
// generation, the structural validator, and the result comparator all
// depend on for one agent's external database.
type Connector interface {
	// Dialect names the underlying database kind, e.g. "postgres".
	Dialect() string
	// DiscoverColumns returns the flat column list, excluding system schemas.
	DiscoverColumns(ctx context.Context) ([]Column, error)
	// SampleRows returns up to limit rows of schema.table for value diversity.
	SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error)
	// Execute runs sql under the given statement timeout, capping returned
	// rows at rowCap (0 = no cap).
	Execute(ctx context.Context, sql string, timeout time.Duration, rowCap int) (*ExecResult, error)
	// Explain validates sql without executing it for effect, classifying any
	// error. A nil return means the statement is structurally valid.
	Explain(ctx context.Context, sql string) error
	Close() error
}

// Open dispatches to a concrete Connector based on the dbURL scheme.
func Open(ctx context.Context, dbURL string) (Connector, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: parse db url: %w", err)
	}

	switch {
	case strings.HasPrefix(u.Scheme, "postgres"):
		return OpenPostgres(ctx, dbURL)
	case strings.HasPrefix(u.Scheme, "mysql"):
		return OpenMySQL(ctx, dbURL)
	case strings.HasPrefix(u.Scheme, "sqlite"):
		return OpenSQLite(ctx, strings.TrimPrefix(dbURL, u.Scheme+"://"))
	case strings.HasPrefix(u.Scheme, "mongodb"):
		return OpenMongo(ctx, dbURL)
	default:
		return nil, fmt.Errorf("discovery: unsupported db scheme %q", u.Scheme)
	}
}
