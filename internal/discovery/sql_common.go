package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// quoteIdent double-quotes a single SQL identifier, doubling any embedded
// quote characters — the ANSI-SQL escaping rule shared by Postgres, MySQL
// (in ANSI_QUOTES mode) and SQLite. MySQL's own backtick quoting is handled
// separately in mysql.go since it never accepts double quotes for idents.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// qualifiedIdent renders schema.table (or just table, when schema is empty)
// with each part quoted independently.
func qualifiedIdent(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

// queryToMaps runs query on db and materializes each result row as a
// column-name -> value map, used by SampleRows across the relational
// connectors.
func queryToMaps(ctx context.Context, db *sql.DB, query string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("discovery: sample rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("discovery: sample rows columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("discovery: sample rows scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// scanExecResult materializes an already-open *sql.Rows into an ExecResult,
// capping returned rows at rowCap (0 = unlimited) while still counting the
// true row_count when the driver streams further rows.
func scanExecResult(rows *sql.Rows, rowCap int) (*ExecResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("discovery: exec result columns: %w", err)
	}

	result := &ExecResult{Columns: cols}
	for rows.Next() {
		if rowCap <= 0 || len(result.Rows) < rowCap {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, fmt.Errorf("discovery: exec result scan: %w", err)
			}
			row := make([]any, len(cols))
			for i, v := range vals {
				row[i] = normalizeValue(v)
			}
			result.Rows = append(result.Rows, row)
		}
		result.RowCount++
	}
	return result, rows.Err()
}

// normalizeValue converts driver-specific scan types ([]byte, time.Time) to
// JSON/comparator-friendly forms: strings and RFC3339 timestamps, the same
// normalization the ground-truth generator applies when capturing expected
// output.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
