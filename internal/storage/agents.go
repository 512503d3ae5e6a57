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

// CreateAgent inserts a new agent in the pending state. Fails on a duplicate
// (case-insensitive) agent_name via the unique index.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.AgentID == uuid.Nil {
		agent.AgentID = uuid.New()
	}
	now := time.Now().UTC()
	agent.CreatedAt, agent.UpdatedAt = now, now
	if agent.Status == "" {
		agent.Status = model.AgentPending
	}
	if agent.GTStatus == "" {
		agent.GTStatus = model.GTPending
	}
	if agent.HealthStatus == "" {
		agent.HealthStatus = model.HealthUnknown
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO platform.agents
		 (agent_id, agent_name, display_name, description, db_url, agent_url, poll_interval_s,
		  status, api_key_hash, api_key_prefix, gt_status, health_status, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		agent.AgentID, agent.AgentName, agent.DisplayName, agent.Description, agent.DBURL, agent.AgentURL, agent.PollIntervalS,
		agent.Status, agent.APIKeyHash, agent.APIKeyPrefix, agent.GTStatus, agent.HealthStatus, agent.CreatedBy, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Agent{}, fmt.Errorf("storage: create agent %q: %w", agent.AgentName, ErrDuplicate)
		}
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

const agentColumns = `agent_id, agent_name, display_name, description, db_url, agent_url, poll_interval_s,
	status, api_key_hash, api_key_prefix,
	gt_status, gt_error, gt_query_count, gt_retry_count, gt_last_retry_at,
	schema_version, last_schema_scan_at, schema_change_count,
	health_status, health_detail, last_health_check_at,
	last_error, last_polled_at, created_by, created_at, updated_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.AgentID, &a.AgentName, &a.DisplayName, &a.Description, &a.DBURL, &a.AgentURL, &a.PollIntervalS,
		&a.Status, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.GTStatus, &a.GTError, &a.GTQueryCount, &a.GTRetryCount, &a.GTLastRetryAt,
		&a.SchemaVersion, &a.LastSchemaScanAt, &a.SchemaChangeCount,
		&a.HealthStatus, &a.HealthDetail, &a.LastHealthCheckAt,
		&a.LastError, &a.LastPolledAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// GetAgent loads one agent by id.
func (db *DB) GetAgent(ctx context.Context, agentID uuid.UUID) (model.Agent, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM platform.agents WHERE agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// GetAgentByName loads one agent by case-insensitive agent_name.
func (db *DB) GetAgentByName(ctx context.Context, agentName string) (model.Agent, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM platform.agents WHERE lower(agent_name) = lower($1)`, agentName)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent by name: %w", err)
	}
	return a, nil
}

// GetAgentByAPIKeyHash looks up an agent by the sha256 hash of a presented
// API key. Used on every ingest request.
func (db *DB) GetAgentByAPIKeyHash(ctx context.Context, hash string) (model.Agent, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM platform.agents WHERE api_key_hash = $1`, hash)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent by api key hash: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents ordered by creation time, most recent first.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+agentColumns+` FROM platform.agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveAgents returns agents in the active status, used by schedulers.
func (db *DB) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+agentColumns+` FROM platform.agents WHERE status = $1 ORDER BY agent_name`, model.AgentActive)
	if err != nil {
		return nil, fmt.Errorf("storage: list active agents: %w", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentStatus transitions status and records last_error (cleared when empty).
func (db *DB) UpdateAgentStatus(ctx context.Context, agentID uuid.UUID, status model.AgentStatus, lastError string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET status = $2, last_error = $3, updated_at = now() WHERE agent_id = $1`,
		agentID, status, lastError)
	if err != nil {
		return fmt.Errorf("storage: update agent status: %w", err)
	}
	return nil
}

// UpdateGTState advances the ground-truth lifecycle state machine.
func (db *DB) UpdateGTState(ctx context.Context, agentID uuid.UUID, status model.GTStatus, gtError string, queryCount int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET gt_status = $2, gt_error = $3, gt_query_count = $4, updated_at = now() WHERE agent_id = $1`,
		agentID, status, gtError, queryCount)
	if err != nil {
		return fmt.Errorf("storage: update gt state: %w", err)
	}
	return nil
}

// IncrementGTRetry bumps the retry counter and stamps the retry time.
func (db *DB) IncrementGTRetry(ctx context.Context, agentID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET gt_retry_count = gt_retry_count + 1, gt_last_retry_at = now(), updated_at = now() WHERE agent_id = $1`,
		agentID)
	if err != nil {
		return fmt.Errorf("storage: increment gt retry: %w", err)
	}
	return nil
}

// BumpSchemaVersion increments schema_version and schema_change_count, and
// always stamps last_schema_scan_at. changed=false only refreshes the scan
// timestamp.
func (db *DB) BumpSchemaVersion(ctx context.Context, agentID uuid.UUID, changed bool, changeCount int) error {
	if !changed {
		_, err := db.pool.Exec(ctx, `UPDATE platform.agents SET last_schema_scan_at = now() WHERE agent_id = $1`, agentID)
		if err != nil {
			return fmt.Errorf("storage: touch schema scan: %w", err)
		}
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents
		 SET schema_version = schema_version + 1, schema_change_count = schema_change_count + $2, last_schema_scan_at = now(), updated_at = now()
		 WHERE agent_id = $1`,
		agentID, changeCount)
	if err != nil {
		return fmt.Errorf("storage: bump schema version: %w", err)
	}
	return nil
}

// UpdateHealth records the outcome of a health check.
func (db *DB) UpdateHealth(ctx context.Context, agentID uuid.UUID, status model.HealthStatus, detail string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET health_status = $2, health_detail = $3, last_health_check_at = now() WHERE agent_id = $1`,
		agentID, status, detail)
	if err != nil {
		return fmt.Errorf("storage: update health: %w", err)
	}
	return nil
}

// TouchPolled stamps last_polled_at to now, used by the poller's cadence check.
func (db *DB) TouchPolled(ctx context.Context, agentID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE platform.agents SET last_polled_at = now() WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("storage: touch polled: %w", err)
	}
	return nil
}

// RotateAPIKey atomically replaces the active key hash/prefix for an agent.
// The old hash is immediately unusable: GetAgentByAPIKeyHash looks up by the
// single current hash column, so there is no window where both validate.
func (db *DB) RotateAPIKey(ctx context.Context, agentID uuid.UUID, newHash, newPrefix string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET api_key_hash = $2, api_key_prefix = $3, updated_at = now() WHERE agent_id = $1`,
		agentID, newHash, newPrefix)
	if err != nil {
		return fmt.Errorf("storage: rotate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent cascades to discovered_schemas and query_log_config (FK
// ON DELETE CASCADE) and explicitly removes monitoring rows for the agent's
// name, since monitoring.queries has no FK to platform.agents (an agent's
// telemetry outlives its own row under at-least-once delivery semantics, so
// the relation is by denormalized agent_type, not agent_id).
func (db *DB) DeleteAgent(ctx context.Context, agentID uuid.UUID, agentName string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete agent tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Monitoring rows first: errors/evaluations/drift reference query_id,
	// which lives in queries; deleting queries cascades to them.
	if _, err := tx.Exec(ctx, `DELETE FROM monitoring.queries WHERE agent_type = $1`, agentName); err != nil {
		return fmt.Errorf("storage: delete monitoring queries: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM monitoring.baseline WHERE agent_type = $1`, agentName); err != nil {
		return fmt.Errorf("storage: delete baseline: %w", err)
	}
	// platform.agents row last: discovered_schemas/query_log_config/schema_changes
	// cascade via FK ON DELETE CASCADE.
	if _, err := tx.Exec(ctx, `DELETE FROM platform.agents WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("storage: delete agent: %w", err)
	}

	return tx.Commit(ctx)
}
