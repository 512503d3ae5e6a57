package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// UpsertDiscoveredColumns persists the flat column list from a schema
// discovery run, upserting by the (agent_id, schema_name, table_name,
// column_name) unique key so re-discovery is idempotent.
func (db *DB) UpsertDiscoveredColumns(ctx context.Context, agentID uuid.UUID, cols []model.DiscoveredColumn) error {
	if len(cols) == 0 {
		return nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin upsert columns tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range cols {
		_, err := tx.Exec(ctx,
			`INSERT INTO platform.discovered_schemas (agent_id, schema_name, table_name, column_name, data_type, is_nullable)
			 VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (agent_id, schema_name, table_name, column_name)
			 DO UPDATE SET data_type = EXCLUDED.data_type, is_nullable = EXCLUDED.is_nullable`,
			agentID, c.SchemaName, c.TableName, c.ColumnName, c.DataType, c.IsNullable)
		if err != nil {
			return fmt.Errorf("storage: upsert discovered column %s.%s.%s: %w", c.SchemaName, c.TableName, c.ColumnName, err)
		}
	}
	return tx.Commit(ctx)
}

// ListDiscoveredColumns returns every cached column for an agent.
func (db *DB) ListDiscoveredColumns(ctx context.Context, agentID uuid.UUID) ([]model.DiscoveredColumn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, schema_name, table_name, column_name, data_type, is_nullable, discovered_at
		 FROM platform.discovered_schemas WHERE agent_id = $1
		 ORDER BY schema_name, table_name, column_name`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list discovered columns: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredColumn
	for rows.Next() {
		var c model.DiscoveredColumn
		if err := rows.Scan(&c.AgentID, &c.SchemaName, &c.TableName, &c.ColumnName, &c.DataType, &c.IsNullable, &c.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("storage: scan discovered column: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
