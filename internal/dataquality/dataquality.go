// Package dataquality runs the database-validation step enqueued alongside
// ground-truth generation after schema discovery: a set of non-authoritative,
// informational checks over an agent's own tables (NULL ratio, duplicate
// rows), persisted as model.DataQualityIssue rows. Findings never affect
// agent status or evaluation scoring.
//
// Checks are expressed against the shared discovery.Connector contract
// rather than a per-dialect raw driver handle, so anything needing
// catalog/index introspection (primary-key presence, index listing) is out
// of reach here without widening Connector itself.
package dataquality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/model"
)

const (
	// nullPercentageThreshold mirrors base_validator.py's "report if >20%
	// NULL values" rule.
	nullPercentageThreshold = 20.0
	// largeTableRowThreshold mirrors base_validator.py's ">100K rows"
	// large-table rule.
	largeTableRowThreshold = 100000
	// maxDuplicateCheckColumns mirrors mongodb_validator.py's "use first 5
	// columns for duplicate detection" cap, applied across all dialects so
	// the GROUP BY / aggregation pipeline stays cheap on wide tables.
	maxDuplicateCheckColumns = 5
	// execTimeout bounds each check's statement execution, matching the
	// ground-truth generator's own best-effort execution budget.
	execTimeout = 5 * time.Second
	// mongoSampleSize is how many documents are pulled per collection for
	// the sample-based approximation Execute-less dialects require.
	mongoSampleSize = 200
)

// Table is one table's worth of discovered columns, grouped by the caller
// (agentlifecycle, from its DiscoveredColumn rows) before Run is called.
type Table struct {
	Schema  string
	Table   string
	Columns []string
}

// TablesFromColumns groups a flat discovery.Column list into Table values,
// the same shape agentlifecycle already has lying around right after
// persisting DiscoveredColumn rows.
func TablesFromColumns(cols []discovery.Column) []Table {
	type key struct{ schema, table string }
	order := make([]key, 0)
	byTable := make(map[key][]string)
	for _, c := range cols {
		k := key{c.SchemaName, c.TableName}
		if _, ok := byTable[k]; !ok {
			order = append(order, k)
		}
		byTable[k] = append(byTable[k], c.ColumnName)
	}
	out := make([]Table, 0, len(order))
	for _, k := range order {
		out = append(out, Table{Schema: k.schema, Table: k.table, Columns: byTable[k]})
	}
	return out
}

// Validator runs best-effort data-quality checks over one agent's discovered
// tables.
type Validator struct{}

// New builds a Validator. It is stateless; all per-run state lives in Run's
// arguments.
func New() *Validator { return &Validator{} }

// Run checks every table in tables against conn, returning one
// model.DataQualityIssue per finding. Each table's checks are independent
// and best-effort: a failed check (unsupported by the dialect, a transient
// connection error) is skipped rather than aborting the run, mirroring the
// original validator's per-check try/except isolation.
func (v *Validator) Run(ctx context.Context, conn discovery.Connector, agentID uuid.UUID, tables []Table) []model.DataQualityIssue {
	var issues []model.DataQualityIssue
	for _, t := range tables {
		if conn.Dialect() == "mongo" {
			issues = append(issues, v.checkTableSampled(ctx, conn, agentID, t)...)
			continue
		}
		issues = append(issues, v.checkTableSQL(ctx, conn, agentID, t)...)
	}
	return issues
}

func issue(agentID uuid.UUID, issueType, detail string) model.DataQualityIssue {
	return model.DataQualityIssue{AgentID: agentID, IssueType: issueType, Detail: detail}
}

// checkTableSQL runs the row-count, NULL-ratio, and duplicate-row checks
// through arbitrary generic SQL text via conn.Execute, which works
// identically across the Postgres/MySQL/SQLite connectors.
func (v *Validator) checkTableSQL(ctx context.Context, conn discovery.Connector, agentID uuid.UUID, t Table) []model.DataQualityIssue {
	var issues []model.DataQualityIssue
	qualified := qualifiedIdent(conn.Dialect(), t.Schema, t.Table)

	rowCount, ok := v.rowCount(ctx, conn, qualified)
	if ok && rowCount > largeTableRowThreshold {
		issues = append(issues, issue(agentID, "large_table",
			fmt.Sprintf("table %s has %d rows; verify it is indexed for the access patterns ground truth exercises", tableLabel(t), rowCount)))
	}

	for _, col := range t.Columns {
		total, nulls, ok := v.nullCount(ctx, conn, qualified, col)
		if !ok || total == 0 {
			continue
		}
		pct := float64(nulls) / float64(total) * 100
		if pct > nullPercentageThreshold {
			issues = append(issues, issue(agentID, "high_null_percentage",
				fmt.Sprintf("column %s.%s is %.1f%% NULL (%d/%d rows)", tableLabel(t), col, pct, nulls, total)))
		}
	}

	if dup, ok := v.duplicateCount(ctx, conn, qualified, t.Columns); ok && dup > 0 {
		issues = append(issues, issue(agentID, "duplicate_rows",
			fmt.Sprintf("%d duplicate row groups found in %s", dup, tableLabel(t))))
	}

	return issues
}

func (v *Validator) rowCount(ctx context.Context, conn discovery.Connector, qualified string) (int64, bool) {
	n, ok := v.scalarInt(ctx, conn, fmt.Sprintf("SELECT COUNT(*) FROM %s", qualified))
	return n, ok
}

func (v *Validator) nullCount(ctx context.Context, conn discovery.Connector, qualified, col string) (total, nulls int64, ok bool) {
	colIdent := quoteColumn(conn.Dialect(), col)
	q := fmt.Sprintf("SELECT COUNT(*), SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) FROM %s", colIdent, qualified)
	res, err := conn.Execute(ctx, q, execTimeout, 1)
	if err != nil || len(res.Rows) == 0 {
		return 0, 0, false
	}
	row := res.Rows[0]
	if len(row) < 2 {
		return 0, 0, false
	}
	t, tok := asInt64(row[0])
	n, nok := asInt64(row[1])
	if !tok || !nok {
		return 0, 0, false
	}
	return t, n, true
}

func (v *Validator) duplicateCount(ctx context.Context, conn discovery.Connector, qualified string, columns []string) (int64, bool) {
	cols := columns
	if len(cols) > maxDuplicateCheckColumns {
		cols = cols[:maxDuplicateCheckColumns]
	}
	if len(cols) == 0 {
		return 0, false
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteColumn(conn.Dialect(), c)
	}
	colList := strings.Join(quoted, ", ")
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) dq_dupes",
		colList, qualified, colList)
	return v.scalarInt(ctx, conn, q)
}

func (v *Validator) scalarInt(ctx context.Context, conn discovery.Connector, q string) (int64, bool) {
	res, err := conn.Execute(ctx, q, execTimeout, 1)
	if err != nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, false
	}
	return asInt64(res.Rows[0][0])
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}

// checkTableSampled approximates the NULL-ratio and duplicate-row checks for
// document stores, whose Connector.Execute has no SQL dialect to run (see
// discovery.mongoConn). It mirrors mongodb_validator.py's semantics (missing
// or null field counts, grouping by up to 5 non-id fields) but over a bounded
// sample rather than a server-side aggregation, since Connector only exposes
// SampleRows for this dialect.
func (v *Validator) checkTableSampled(ctx context.Context, conn discovery.Connector, agentID uuid.UUID, t Table) []model.DataQualityIssue {
	docs, err := conn.SampleRows(ctx, t.Schema, t.Table, mongoSampleSize)
	if err != nil || len(docs) == 0 {
		return nil
	}

	var issues []model.DataQualityIssue
	total := len(docs)
	for _, col := range t.Columns {
		if col == "_id" {
			continue
		}
		nulls := 0
		for _, d := range docs {
			val, present := d[col]
			if !present || val == nil {
				nulls++
			}
		}
		pct := float64(nulls) / float64(total) * 100
		if pct > nullPercentageThreshold {
			issues = append(issues, issue(agentID, "high_null_percentage",
				fmt.Sprintf("field %s.%s is %.1f%% missing/null across a %d-document sample", tableLabel(t), col, pct, total)))
		}
	}

	dupCols := make([]string, 0, maxDuplicateCheckColumns)
	for _, c := range t.Columns {
		if c == "_id" {
			continue
		}
		dupCols = append(dupCols, c)
		if len(dupCols) == maxDuplicateCheckColumns {
			break
		}
	}
	if len(dupCols) > 0 {
		seen := make(map[string]int, total)
		for _, d := range docs {
			var key strings.Builder
			for _, c := range dupCols {
				fmt.Fprintf(&key, "%v\x1f", d[c])
			}
			seen[key.String()]++
		}
		dupGroups := 0
		for _, n := range seen {
			if n > 1 {
				dupGroups++
			}
		}
		if dupGroups > 0 {
			issues = append(issues, issue(agentID, "duplicate_rows",
				fmt.Sprintf("%d duplicate document groups found in a %d-document sample of %s", dupGroups, total, tableLabel(t))))
		}
	}

	return issues
}

func tableLabel(t Table) string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// qualifiedIdent renders a dialect-appropriately quoted schema.table (or
// just table, when schema is empty) reference for use in generic SQL text.
func qualifiedIdent(dialect, schema, table string) string {
	if schema == "" {
		return quoteColumn(dialect, table)
	}
	return quoteColumn(dialect, schema) + "." + quoteColumn(dialect, table)
}

// quoteColumn quotes a single identifier per dialect: MySQL never accepts
// double quotes for identifiers (ANSI_QUOTES is not assumed on), while
// Postgres and SQLite both do.
func quoteColumn(dialect, ident string) string {
	if dialect == "mysql" {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
