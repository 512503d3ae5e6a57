package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// UpsertQueryLogConfig persists the detected query-log table for an agent.
// A re-run (e.g. a subsequent discovery) replaces the column mapping but
// preserves the existing watermark so polling never rewinds.
func (db *DB) UpsertQueryLogConfig(ctx context.Context, cfg model.QueryLogConfig) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO platform.query_log_config
		 (agent_id, schema_name, table_name, query_text_column, sql_column, timestamp_column, status_column, error_column, id_column)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   schema_name = EXCLUDED.schema_name, table_name = EXCLUDED.table_name,
		   query_text_column = EXCLUDED.query_text_column, sql_column = EXCLUDED.sql_column,
		   timestamp_column = EXCLUDED.timestamp_column, status_column = EXCLUDED.status_column,
		   error_column = EXCLUDED.error_column, id_column = EXCLUDED.id_column`,
		cfg.AgentID, cfg.SchemaName, cfg.TableName, cfg.QueryTextColumn, cfg.SQLColumn,
		cfg.TimestampColumn, cfg.StatusColumn, cfg.ErrorColumn, cfg.IDColumn)
	if err != nil {
		return fmt.Errorf("storage: upsert query log config: %w", err)
	}
	return nil
}

// GetQueryLogConfig loads the query-log configuration and watermark for an
// agent. Returns ErrNotFound if no query-log table was ever detected.
func (db *DB) GetQueryLogConfig(ctx context.Context, agentID uuid.UUID) (model.QueryLogConfig, error) {
	var cfg model.QueryLogConfig
	err := db.pool.QueryRow(ctx,
		`SELECT agent_id, schema_name, table_name, query_text_column, sql_column, timestamp_column, status_column, error_column, id_column, last_seen_timestamp, last_seen_id
		 FROM platform.query_log_config WHERE agent_id = $1`, agentID).
		Scan(&cfg.AgentID, &cfg.SchemaName, &cfg.TableName, &cfg.QueryTextColumn, &cfg.SQLColumn,
			&cfg.TimestampColumn, &cfg.StatusColumn, &cfg.ErrorColumn, &cfg.IDColumn, &cfg.LastSeenTimestamp, &cfg.LastSeenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueryLogConfig{}, ErrNotFound
	}
	if err != nil {
		return model.QueryLogConfig{}, fmt.Errorf("storage: get query log config: %w", err)
	}
	return cfg, nil
}

// AdvanceWatermark sets last_seen_timestamp to newWatermark, but only if it
// is strictly greater than the stored value — keeping advancement monotonic
// even under concurrent poll cycles (should never happen, but the guard is
// cheap).
func (db *DB) AdvanceWatermark(ctx context.Context, agentID uuid.UUID, newWatermark time.Time, lastSeenID *string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.query_log_config
		 SET last_seen_timestamp = $2, last_seen_id = $3
		 WHERE agent_id = $1 AND last_seen_timestamp < $2`,
		agentID, newWatermark, lastSeenID)
	if err != nil {
		return fmt.Errorf("storage: advance watermark: %w", err)
	}
	return nil
}
