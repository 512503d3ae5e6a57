package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// UpsertErrorRecord inserts a new error row, or — if one already exists for
// the (query_id, category, subcategory) triple — increments frequency_count
// and refreshes last_seen.
func (db *DB) UpsertErrorRecord(ctx context.Context, e model.ErrorRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.errors (query_id, error_category, subcategory, severity, error_message, suggested_fix, first_seen, last_seen, frequency_count)
		 VALUES ($1,$2,$3,$4,$5,$6,now(),now(),1)
		 ON CONFLICT (query_id, error_category, subcategory) DO UPDATE SET
		   frequency_count = monitoring.errors.frequency_count + 1, last_seen = now(),
		   severity = EXCLUDED.severity, error_message = EXCLUDED.error_message, suggested_fix = EXCLUDED.suggested_fix`,
		e.QueryID, e.ErrorCategory, e.Subcategory, e.Severity, e.ErrorMessage, e.SuggestedFix)
	if err != nil {
		return fmt.Errorf("storage: upsert error record: %w", err)
	}
	return nil
}

// ErrorCategoryCount is one (category, severity) -> count cell for the read
// API errors endpoint's category x severity matrix.
type ErrorCategoryCount struct {
	Category model.ErrorCategory
	Severity model.ErrorSeverity
	Count    int
}

// ErrorCategorySeverityCounts tallies errors by category and severity for
// agentType (all agents when empty).
func (db *DB) ErrorCategorySeverityCounts(ctx context.Context, agentType string) ([]ErrorCategoryCount, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT er.error_category, er.severity, COUNT(*)
		 FROM monitoring.errors er
		 JOIN monitoring.queries q ON q.query_id = er.query_id
		 WHERE ($1 = '' OR q.agent_type = $1)
		 GROUP BY er.error_category, er.severity`, agentType)
	if err != nil {
		return nil, fmt.Errorf("storage: error category severity counts: %w", err)
	}
	defer rows.Close()

	var out []ErrorCategoryCount
	for rows.Next() {
		var c ErrorCategoryCount
		if err := rows.Scan(&c.Category, &c.Severity, &c.Count); err != nil {
			return nil, fmt.Errorf("storage: scan error category count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentErrors returns the most recent n error rows, optionally filtered by
// category and/or agent_type.
func (db *DB) RecentErrors(ctx context.Context, category, agentType string, limit int) ([]model.ErrorRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT er.id, er.query_id, er.error_category, er.subcategory, er.severity, er.error_message, er.suggested_fix, er.first_seen, er.last_seen, er.frequency_count
		 FROM monitoring.errors er
		 JOIN monitoring.queries q ON q.query_id = er.query_id
		 WHERE ($1 = '' OR er.error_category = $1) AND ($2 = '' OR q.agent_type = $2)
		 ORDER BY er.last_seen DESC LIMIT $3`, category, agentType, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent errors: %w", err)
	}
	defer rows.Close()

	var out []model.ErrorRecord
	for rows.Next() {
		var e model.ErrorRecord
		if err := rows.Scan(&e.ID, &e.QueryID, &e.ErrorCategory, &e.Subcategory, &e.Severity, &e.ErrorMessage, &e.SuggestedFix, &e.FirstSeen, &e.LastSeen, &e.FrequencyCount); err != nil {
			return nil, fmt.Errorf("storage: scan error record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
