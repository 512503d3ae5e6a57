package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// InsertQuery writes one telemetry event. query_id is the caller-minted
// primary key (INGEST-/POLL- prefixed); a duplicate insert is rejected
// rather than silently overwritten, since Query rows are immutable once
// written.
func (db *DB) InsertQuery(ctx context.Context, q model.Query) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.queries (query_id, query_text, agent_type, status, generated_sql, error_message, execution_time_ms, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.QueryID, q.QueryText, q.AgentType, q.Status, q.GeneratedSQL, q.ErrorMessage, q.ExecutionTimeMs, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert query: %w", err)
	}
	return nil
}

// GetQuery loads one telemetry event by id.
func (db *DB) GetQuery(ctx context.Context, queryID string) (model.Query, error) {
	var q model.Query
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, query_text, agent_type, status, generated_sql, error_message, execution_time_ms, created_at
		 FROM monitoring.queries WHERE query_id = $1`, queryID).
		Scan(&q.QueryID, &q.QueryText, &q.AgentType, &q.Status, &q.GeneratedSQL, &q.ErrorMessage, &q.ExecutionTimeMs, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Query{}, ErrNotFound
	}
	if err != nil {
		return model.Query{}, fmt.Errorf("storage: get query: %w", err)
	}
	return q, nil
}
