package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// InsertSchemaChanges appends one row per detected change to the
// append-only schema-change log.
func (db *DB) InsertSchemaChanges(ctx context.Context, changes []model.SchemaChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin insert schema changes tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range changes {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO platform.schema_changes (id, agent_id, change_type, schema_name, table_name, column_name)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			c.ID, c.AgentID, c.ChangeType, c.SchemaName, c.TableName, c.ColumnName)
		if err != nil {
			return fmt.Errorf("storage: insert schema change: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListPendingSchemaChanges returns changes not yet fed through incremental
// ground-truth regeneration, for one agent.
func (db *DB) ListPendingSchemaChanges(ctx context.Context, agentID uuid.UUID) ([]model.SchemaChange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, change_type, schema_name, table_name, column_name, detected_at, gt_regenerated
		 FROM platform.schema_changes WHERE agent_id = $1 AND NOT gt_regenerated
		 ORDER BY detected_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending schema changes: %w", err)
	}
	defer rows.Close()

	var out []model.SchemaChange
	for rows.Next() {
		var c model.SchemaChange
		if err := rows.Scan(&c.ID, &c.AgentID, &c.ChangeType, &c.SchemaName, &c.TableName, &c.ColumnName, &c.DetectedAt, &c.GTRegenerated); err != nil {
			return nil, fmt.Errorf("storage: scan schema change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSchemaChangesRegenerated flags the given change rows as having fed an
// incremental ground-truth generation run.
func (db *DB) MarkSchemaChangesRegenerated(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx, `UPDATE platform.schema_changes SET gt_regenerated = true WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("storage: mark schema changes regenerated: %w", err)
	}
	return nil
}
