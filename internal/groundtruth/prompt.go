package groundtruth

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
)

// tableKey is a schema-qualified table name.
type tableKey struct {
	Schema string
	Table  string
}

func (k tableKey) String() string {
	if k.Schema == "" {
		return k.Table
	}
	return k.Schema + "." + k.Table
}

// SchemaTable is one table's grouped column list, the nested shape the
// generator prompts with.
type SchemaTable struct {
	Schema  string
	Table   string
	Columns []discovery.Column
}

// GroupBySchema turns the flat discovery output into schema/table groups,
// ordered deterministically so repeated prompts for an unchanged schema are
// byte-identical.
func GroupBySchema(cols []discovery.Column) []SchemaTable {
	byKey := make(map[tableKey][]discovery.Column)
	for _, c := range cols {
		k := tableKey{Schema: c.SchemaName, Table: c.TableName}
		byKey[k] = append(byKey[k], c)
	}

	keys := make([]tableKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]SchemaTable, 0, len(keys))
	for _, k := range keys {
		out = append(out, SchemaTable{Schema: k.Schema, Table: k.Table, Columns: byKey[k]})
	}
	return out
}

// fkColumnRe matches a column named like a snake_case foreign key
// reference, e.g. "customer_id"; camelCase names such as "customerId" do
// not match.
var fkColumnRe = regexp.MustCompile(`(?i)^([a-z][a-z0-9]*(?:_[a-z0-9]+)*)_id$`)

// Relationship is one inferred reference from one table to another.
type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
}

// InferRelationships guesses foreign-key-like references by naming
// convention: a column "<x>_id" is assumed to reference a table named "x"
// or "xs", whichever exists among the known tables. This applies uniformly
// to relational and document schemas, since the discovery layer's flat
// Column type carries no real FK metadata to introspect for relational
// sources.
//
// Cycles are tolerated: relationships are only listed for prompt context,
// never traversed.
func InferRelationships(tables []SchemaTable) []Relationship {
	names := make(map[string]string, len(tables)) // lowercase singular/plural -> actual table name
	for _, t := range tables {
		lower := strings.ToLower(t.Table)
		names[lower] = t.Table
		names[singularize(lower)] = t.Table
		names[pluralize(lower)] = t.Table
	}

	var rels []Relationship
	for _, t := range tables {
		for _, c := range t.Columns {
			m := fkColumnRe.FindStringSubmatch(c.ColumnName)
			if m == nil {
				continue
			}
			candidate := strings.ToLower(m[1])
			target, ok := names[candidate]
			if !ok {
				target, ok = names[pluralize(candidate)]
			}
			if !ok || strings.EqualFold(target, t.Table) {
				continue // no resolvable target, or a self-reference we don't care to surface
			}
			rels = append(rels, Relationship{FromTable: t.Table, FromColumn: c.ColumnName, ToTable: target})
		}
	}
	return rels
}

func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return strings.TrimSuffix(s, "ies") + "y"
	}
	if strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func pluralize(s string) string {
	if strings.HasSuffix(s, "y") && !strings.HasSuffix(s, "ey") {
		return strings.TrimSuffix(s, "y") + "ies"
	}
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// Samples maps a table key string to up to 5 sampled rows.
type Samples map[string][]map[string]any

// PromptRequest is everything BuildPrompt needs; kept as a plain struct so
// the function has no side effects and no dependency on a live connector.
type PromptRequest struct {
	AgentName     string
	Tables        []SchemaTable
	Relationships []Relationship
	Samples       Samples
	Count         int // how many (natural_language, sql) pairs to request in this batch
}

// BuildPrompt assembles the system and user prompt text for one ground-truth
// generation batch. It is a pure function, separated from the LLM call, so
// it is unit-testable without a live provider.
func BuildPrompt(req PromptRequest) (system, user string) {
	system = `You are generating realistic (natural_language, sql) training pairs for a text-to-SQL
observability platform, from a database schema. Produce diverse questions: simple lookups,
aggregations, joins across the given relationships, and filters. Every SQL statement must be
valid for the given schema and must be a read-only SELECT.
Respond with strict JSON only, no markdown fences, no commentary: a JSON array of objects,
each shaped exactly {"natural_language": "...", "sql": "..."}.`

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n\nSchema:\n", req.AgentName)
	for _, t := range req.Tables {
		fmt.Fprintf(&b, "- %s.%s (", t.Schema, t.Table)
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			nullable := ""
			if c.IsNullable {
				nullable = ", nullable"
			}
			cols = append(cols, fmt.Sprintf("%s %s%s", c.ColumnName, c.DataType, nullable))
		}
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(")\n")
	}

	if len(req.Relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, r := range req.Relationships {
			fmt.Fprintf(&b, "- %s.%s -> %s\n", r.FromTable, r.FromColumn, r.ToTable)
		}
	}

	if len(req.Samples) > 0 {
		b.WriteString("\nSample rows:\n")
		for _, t := range req.Tables {
			key := t.Schema + "." + t.Table
			rows := req.Samples[key]
			if len(rows) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", key, formatSampleRows(rows))
		}
	}

	fmt.Fprintf(&b, "\nGenerate exactly %d distinct (natural_language, sql) pairs as a JSON array.\n", req.Count)
	user = b.String()
	return system, user
}

func formatSampleRows(rows []map[string]any) string {
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, k+"="+valueString(row[k]))
		}
		parts = append(parts, "{"+strings.Join(fields, ", ")+"}")
	}
	return strings.Join(parts, ", ")
}

func valueString(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// batchSizes splits a full-run generation into batches of up to 25
// (full run: 4 x 25 = 100).
func batchSizes(total int) []int {
	const perBatch = 25
	var out []int
	remaining := total
	for remaining > 0 {
		n := perBatch
		if remaining < n {
			n = remaining
		}
		out = append(out, n)
		remaining -= n
	}
	return out
}
