package agentlifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/groundtruth"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

type columnKey struct {
	schema, table, column string
}

// ScanOnce re-discovers agent's current schema, diffs it against the stored
// DiscoveredColumn set, records any SchemaChange rows, persists the new
// columns, invalidates the structural-validator cache, and kicks off
// incremental ground-truth generation scoped to the new tables
// It is shared by the 10-hour schema-scan scheduler and the operator-
// triggered `/scan-schema-changes` endpoint so both paths behave
// identically.
func ScanOnce(
	ctx context.Context,
	db *storage.DB,
	generator *groundtruth.Generator,
	validator *sqlvalidate.Validator,
	opener func(ctx context.Context, dbURL string) (discovery.Connector, error),
	agent model.Agent,
	logger *slog.Logger,
) (changed bool, err error) {
	conn, err := opener(ctx, agent.DBURL)
	if err != nil {
		return false, fmt.Errorf("agentlifecycle: open agent db: %w", err)
	}
	current, err := conn.DiscoverColumns(ctx)
	_ = conn.Close()
	if err != nil {
		return false, fmt.Errorf("agentlifecycle: discover columns: %w", err)
	}

	existing, err := db.ListDiscoveredColumns(ctx, agent.AgentID)
	if err != nil {
		return false, fmt.Errorf("agentlifecycle: list existing columns: %w", err)
	}

	existingSet := make(map[columnKey]struct{}, len(existing))
	existingTables := make(map[[2]string]struct{})
	for _, c := range existing {
		existingSet[columnKey{c.SchemaName, c.TableName, c.ColumnName}] = struct{}{}
		existingTables[[2]string{c.SchemaName, c.TableName}] = struct{}{}
	}

	now := time.Now().UTC()
	var changes []model.SchemaChange
	newByTable := map[[2]string][]model.DiscoveredColumn{}
	all := make([]model.DiscoveredColumn, 0, len(current))
	for _, c := range current {
		dc := model.DiscoveredColumn{
			AgentID:      agent.AgentID,
			SchemaName:   c.SchemaName,
			TableName:    c.TableName,
			ColumnName:   c.ColumnName,
			DataType:     c.DataType,
			IsNullable:   c.IsNullable,
			DiscoveredAt: now,
		}
		all = append(all, dc)

		key := columnKey{c.SchemaName, c.TableName, c.ColumnName}
		if _, ok := existingSet[key]; ok {
			continue
		}
		tableKey := [2]string{c.SchemaName, c.TableName}
		changeType := "added_column"
		if _, ok := existingTables[tableKey]; !ok {
			changeType = "added_table"
		}
		changes = append(changes, model.SchemaChange{
			ID:         uuid.New(),
			AgentID:    agent.AgentID,
			ChangeType: changeType,
			SchemaName: c.SchemaName,
			TableName:  c.TableName,
			ColumnName: c.ColumnName,
			DetectedAt: now,
		})
		newByTable[tableKey] = append(newByTable[tableKey], dc)
	}

	if len(changes) == 0 {
		return false, db.BumpSchemaVersion(ctx, agent.AgentID, false, 0)
	}

	if err := db.InsertSchemaChanges(ctx, changes); err != nil {
		return false, fmt.Errorf("agentlifecycle: insert schema changes: %w", err)
	}
	if err := db.UpsertDiscoveredColumns(ctx, agent.AgentID, all); err != nil {
		return false, fmt.Errorf("agentlifecycle: persist rediscovered columns: %w", err)
	}
	validator.Invalidate(agent.AgentID)

	if err := db.BumpSchemaVersion(ctx, agent.AgentID, true, len(changes)); err != nil {
		return false, fmt.Errorf("agentlifecycle: bump schema version: %w", err)
	}

	pending, err := db.ListPendingSchemaChanges(ctx, agent.AgentID)
	if err != nil {
		logger.Warn("agentlifecycle: list pending schema changes failed", "agent", agent.AgentName, "error", err)
		return true, nil
	}
	if len(pending) == 0 {
		return true, nil
	}

	// GenerateIncremental marks the consumed SchemaChange rows regenerated
	// itself once it successfully persists the updated artifact.
	if err := generator.GenerateIncremental(ctx, agent, pending); err != nil {
		logger.Warn("agentlifecycle: incremental ground-truth generation failed", "agent", agent.AgentName, "error", err)
	}

	return true, nil
}
