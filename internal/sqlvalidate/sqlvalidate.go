// Package sqlvalidate is the structural validator: it runs a
// real-DB EXPLAIN against candidate SQL and cross-checks table/column
// references against a cached per-agent schema.
package sqlvalidate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
)

// Result is the structural validator's verdict for one SQL string.
type Result struct {
	Valid                  bool
	Score                  float64 // 0.0, 0.5, or 1.0
	ErrorType              discovery.ExecErrorClass
	ErrorMessage           string // raw DB error text, set alongside a classifiable ErrorType
	RequiresClassification bool
}

// schemaEntry is one cached (schema, table) -> column-name set.
type schemaEntry struct {
	tables  map[string]bool            // "schema.table" -> true
	columns map[string]map[string]bool // "schema.table" -> column set
	// unqualifiedTables maps a bare table name to the schema-qualified keys
	// that share it, so an unqualified FROM clause can be resolved iff
	// exactly one candidate exists.
	unqualifiedTables map[string][]string
}

// Validator caches one schema snapshot per agent, rebuilt on Invalidate.
type Validator struct {
	mu     sync.RWMutex
	cache  map[uuid.UUID]schemaEntry
	opener func(ctx context.Context, dbURL string) (discovery.Connector, error)
}

// New builds a Validator. opener defaults to discovery.Open; tests may
// substitute a fake via NewWithOpener.
func New() *Validator {
	return NewWithOpener(discovery.Open)
}

// NewWithOpener builds a Validator against a caller-supplied opener,
// letting tests outside this package exercise Validate against a fake
// Connector instead of a live database.
func NewWithOpener(opener func(ctx context.Context, dbURL string) (discovery.Connector, error)) *Validator {
	return &Validator{cache: make(map[uuid.UUID]schemaEntry), opener: opener}
}

// Invalidate drops the cached schema for an agent so the next Validate call
// rebuilds it. Called after schema discovery.
func (v *Validator) Invalidate(agentID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, agentID)
}

func (v *Validator) buildCache(columns []discovery.Column) schemaEntry {
	entry := schemaEntry{
		tables:            make(map[string]bool),
		columns:           make(map[string]map[string]bool),
		unqualifiedTables: make(map[string][]string),
	}
	for _, c := range columns {
		key := strings.ToLower(c.SchemaName) + "." + strings.ToLower(c.TableName)
		entry.tables[key] = true
		if entry.columns[key] == nil {
			entry.columns[key] = make(map[string]bool)
		}
		entry.columns[key][strings.ToLower(c.ColumnName)] = true
		bare := strings.ToLower(c.TableName)
		found := false
		for _, k := range entry.unqualifiedTables[bare] {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			entry.unqualifiedTables[bare] = append(entry.unqualifiedTables[bare], key)
		}
	}
	return entry
}

func (v *Validator) schemaFor(ctx context.Context, agentID uuid.UUID, dbURL string) (schemaEntry, error) {
	v.mu.RLock()
	entry, ok := v.cache[agentID]
	v.mu.RUnlock()
	if ok {
		return entry, nil
	}

	conn, err := v.opener(ctx, dbURL)
	if err != nil {
		return schemaEntry{}, fmt.Errorf("sqlvalidate: open agent db: %w", err)
	}
	defer func() { _ = conn.Close() }()

	cols, err := conn.DiscoverColumns(ctx)
	if err != nil {
		return schemaEntry{}, fmt.Errorf("sqlvalidate: discover columns: %w", err)
	}

	entry = v.buildCache(cols)
	v.mu.Lock()
	v.cache[agentID] = entry
	v.mu.Unlock()
	return entry, nil
}

var (
	fromJoinRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][\w.]*)\s*(?:(?:AS\s+)?([a-zA-Z_]\w*))?`)
	columnRefRe = regexp.MustCompile(`\b([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)\b`)
)

// Validate runs EXPLAIN against the agent DB via conn, then cross-checks
// referenced tables/columns against the cached schema. conn is supplied by
// the caller (evaluator) since it already holds an open connection for the
// same evaluation.
func (v *Validator) Validate(ctx context.Context, agentID uuid.UUID, dbURL string, conn discovery.Connector, sqlText string) (Result, error) {
	if err := conn.Explain(ctx, sqlText); err != nil {
		if execErr, ok := err.(*discovery.ExecError); ok {
			classifiable := execErr.Class == discovery.ExecSyntaxError ||
				execErr.Class == discovery.ExecUndefinedTable ||
				execErr.Class == discovery.ExecUndefinedColumn
			return Result{Valid: false, Score: 0, ErrorType: execErr.Class, ErrorMessage: execErr.Err.Error(), RequiresClassification: classifiable}, nil
		}
		// Non-classified failure (e.g. permission error): score 0, not classifiable.
		return Result{Valid: false, Score: 0, ErrorMessage: err.Error(), RequiresClassification: false}, nil
	}

	schema, err := v.schemaFor(ctx, agentID, dbURL)
	if err != nil {
		return Result{}, err
	}

	aliasToTable := make(map[string]string)
	var referencedTables []string
	for _, m := range fromJoinRe.FindAllStringSubmatch(sqlText, -1) {
		ref := m[1]
		alias := m[2]
		referencedTables = append(referencedTables, ref)
		if alias != "" {
			aliasToTable[strings.ToLower(alias)] = ref
		}
	}

	for _, ref := range referencedTables {
		if !resolveTable(schema, ref) {
			return Result{Valid: true, Score: 0.5, RequiresClassification: false}, nil
		}
	}

	for _, m := range columnRefRe.FindAllStringSubmatch(sqlText, -1) {
		qualifier, col := strings.ToLower(m[1]), strings.ToLower(m[2])
		tableRef, ok := aliasToTable[qualifier]
		if !ok {
			tableRef = qualifier // bare table-qualified reference, no alias
		}
		key, resolved := resolveTableKey(schema, tableRef)
		if !resolved {
			continue // unresolved table already caught above via FROM/JOIN scan
		}
		if cols, ok := schema.columns[key]; ok && !cols[col] {
			return Result{Valid: true, Score: 0.5, RequiresClassification: false}, nil
		}
	}

	return Result{Valid: true, Score: 1.0, RequiresClassification: false}, nil
}

func resolveTable(schema schemaEntry, ref string) bool {
	_, ok := resolveTableKey(schema, ref)
	return ok
}

func resolveTableKey(schema schemaEntry, ref string) (string, bool) {
	ref = strings.ToLower(ref)
	if strings.Contains(ref, ".") {
		if schema.tables[ref] {
			return ref, true
		}
		return "", false
	}
	candidates := schema.unqualifiedTables[ref]
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}
