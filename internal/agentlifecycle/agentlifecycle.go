// Package agentlifecycle orchestrates the operations that sit above the
// storage primitives for one agent: registration, asynchronous schema
// discovery and ground-truth generation, query-log table detection, schema
// rescans, and deletion.
package agentlifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/auth"
	"github.com/ashita-ai/sqlsentry/internal/dataquality"
	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/groundtruth"
	"github.com/ashita-ai/sqlsentry/internal/matcher"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/objectstore"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// queryLogScoreThreshold is the minimum role-bucket score a table
// must reach to be selected as the query-log source.
const queryLogScoreThreshold = 6

// roleKeywords scores a column name against each of the six query-log
// roles. A column may match, and fill, more than one role; "id" carries
// weight 0 and exists purely to name the remaining role bucket.
var roleKeywords = []struct {
	role     string
	weight   int
	keywords []string
}{
	{"query_text", 3, []string{"query_text", "nl_query", "natural_language", "question", "prompt"}},
	{"sql", 3, []string{"sql", "generated_sql", "query_sql", "statement"}},
	{"timestamp", 2, []string{"timestamp", "created_at", "logged_at", "occurred_at"}},
	{"status", 1, []string{"status", "outcome", "result_status"}},
	{"error", 1, []string{"error", "error_message", "err"}},
	{"id", 0, []string{"id", "uuid", "pk"}},
}

// Service wires together the storage layer and the domain services that
// registration, discovery, and deletion must coordinate.
type Service struct {
	db        *storage.DB
	validator *sqlvalidate.Validator
	generator *groundtruth.Generator
	registry  *matcher.Registry
	artifacts *objectstore.ArtifactStore
	embedder  embedding.Provider
	mirror    *matcher.QdrantMirror // nil when no durable tier is configured
	dq        *dataquality.Validator
	opener    func(ctx context.Context, dbURL string) (discovery.Connector, error)
	logger    *slog.Logger
}

// New builds a Service. opener defaults to discovery.Open. mirror may be nil
// when no Qdrant durable tier is configured.
func New(db *storage.DB, validator *sqlvalidate.Validator, generator *groundtruth.Generator, registry *matcher.Registry, artifacts *objectstore.ArtifactStore, embedder embedding.Provider, mirror *matcher.QdrantMirror, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		validator: validator,
		generator: generator,
		registry:  registry,
		artifacts: artifacts,
		embedder:  embedder,
		mirror:    mirror,
		dq:        dataquality.New(),
		opener:    discovery.Open,
		logger:    logger,
	}
}

// RegisterInput is the operator-supplied payload for Register.
type RegisterInput struct {
	AgentName     string
	DBURL         string
	DisplayName   string
	Description   string
	AgentURL      string
	PollIntervalS int
	CreatedBy     string
}

// Registered is the synchronous result of Register: the persisted agent
// row plus the raw API key, which is never recoverable once this call
// returns; the raw key is shown exactly once.
type Registered struct {
	Agent  model.Agent
	RawKey string
}

const defaultPollIntervalS = 60

// Register mints an API key and persists a new pending agent. It does not
// perform discovery itself — callers dispatch DiscoverAndConfigure in a
// detached goroutine once this returns.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registered, error) {
	name := strings.TrimSpace(in.AgentName)
	if name == "" {
		return Registered{}, fmt.Errorf("agentlifecycle: agent_name is required")
	}
	if in.DBURL == "" {
		return Registered{}, fmt.Errorf("agentlifecycle: db_url is required")
	}

	rawKey, hash, prefix, err := auth.NewAPIKey(name)
	if err != nil {
		return Registered{}, fmt.Errorf("agentlifecycle: mint api key: %w", err)
	}

	pollInterval := in.PollIntervalS
	if pollInterval <= 0 {
		pollInterval = defaultPollIntervalS
	}

	agent := model.Agent{
		AgentName:     name,
		DisplayName:   in.DisplayName,
		Description:   in.Description,
		DBURL:         in.DBURL,
		AgentURL:      in.AgentURL,
		PollIntervalS: pollInterval,
		APIKeyHash:    hash,
		APIKeyPrefix:  prefix,
		CreatedBy:     in.CreatedBy,
	}

	created, err := s.db.CreateAgent(ctx, agent)
	if err != nil {
		return Registered{}, fmt.Errorf("agentlifecycle: create agent: %w", err)
	}

	return Registered{Agent: created, RawKey: rawKey}, nil
}

// DiscoverAndConfigure runs schema discovery, ground-truth generation, and
// query-log detection for agent, in that order. A discovery failure marks
// the agent's status as error and stops there; a ground-truth generation
// failure is logged and the agent stays active; query-log detection failure
// is non-fatal too — the agent stays active with polling disabled.
func (s *Service) DiscoverAndConfigure(ctx context.Context, agent model.Agent) {
	if err := s.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentDiscovering, ""); err != nil {
		s.logger.Error("agentlifecycle: mark discovering failed", "agent", agent.AgentName, "error", err)
	}

	conn, err := s.opener(ctx, agent.DBURL)
	if err != nil {
		s.markError(ctx, agent.AgentID, fmt.Errorf("schema discovery: open agent db: %w", err))
		return
	}
	cols, err := conn.DiscoverColumns(ctx)
	if err != nil {
		_ = conn.Close()
		s.markError(ctx, agent.AgentID, fmt.Errorf("schema discovery: %w", err))
		return
	}
	if len(cols) == 0 {
		_ = conn.Close()
		s.markError(ctx, agent.AgentID, fmt.Errorf("schema discovery: agent database exposes no columns"))
		return
	}

	discovered := make([]model.DiscoveredColumn, 0, len(cols))
	now := time.Now().UTC()
	for _, c := range cols {
		discovered = append(discovered, model.DiscoveredColumn{
			AgentID:      agent.AgentID,
			SchemaName:   c.SchemaName,
			TableName:    c.TableName,
			ColumnName:   c.ColumnName,
			DataType:     c.DataType,
			IsNullable:   c.IsNullable,
			DiscoveredAt: now,
		})
	}
	if err := s.db.UpsertDiscoveredColumns(ctx, agent.AgentID, discovered); err != nil {
		_ = conn.Close()
		s.markError(ctx, agent.AgentID, fmt.Errorf("schema discovery: persist columns: %w", err))
		return
	}
	s.validator.Invalidate(agent.AgentID)

	s.runDataQualityChecks(ctx, conn, agent, cols)
	_ = conn.Close()

	if err := s.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentActive, ""); err != nil {
		s.logger.Error("agentlifecycle: mark active failed", "agent", agent.AgentName, "error", err)
	}

	if err := s.generator.GenerateFull(ctx, agent); err != nil {
		// GenerateFull already persisted the failed gt_status itself; this
		// is not an agent-level error, just observability.
		s.logger.Warn("agentlifecycle: ground-truth generation failed", "agent", agent.AgentName, "error", err)
	} else if s.artifacts != nil {
		artifact, err := s.artifacts.Get(ctx, agent.AgentName)
		if err != nil {
			s.logger.Warn("agentlifecycle: reload artifact for matcher rebuild failed", "agent", agent.AgentName, "error", err)
		} else {
			idx := s.registry.ForAgent(agent.AgentName)
			if err := idx.Rebuild(ctx, s.embedder, artifact); err != nil {
				s.logger.Warn("agentlifecycle: matcher rebuild failed", "agent", agent.AgentName, "error", err)
			} else if s.mirror != nil {
				if err := s.mirror.Mirror(ctx, artifact, idx.Snapshot()); err != nil {
					s.logger.Warn("agentlifecycle: qdrant mirror failed", "agent", agent.AgentName, "error", err)
				}
			}
		}
	}

	if err := s.detectQueryLog(ctx, agent); err != nil {
		// Non-fatal: agent remains active, polling stays disabled until a
		// later rescan or manual configuration succeeds.
		s.logger.Info("agentlifecycle: query-log detection found no suitable table", "agent", agent.AgentName, "detail", err)
	}
}

// runDataQualityChecks runs the non-authoritative database-validation
// step over every freshly discovered table and persists any
// findings. It is best-effort: a failure here never marks the agent
// errored, since DataQualityIssue rows are informational only.
func (s *Service) runDataQualityChecks(ctx context.Context, conn discovery.Connector, agent model.Agent, cols []discovery.Column) {
	tables := dataquality.TablesFromColumns(cols)
	issues := s.dq.Run(ctx, conn, agent.AgentID, tables)
	for _, iss := range issues {
		if err := s.db.InsertDataQualityIssue(ctx, iss); err != nil {
			s.logger.Warn("agentlifecycle: persist data quality issue failed", "agent", agent.AgentName, "issue_type", iss.IssueType, "error", err)
		}
	}
	if len(issues) > 0 {
		s.logger.Info("agentlifecycle: database validation found issues", "agent", agent.AgentName, "count", len(issues))
	}
}

func (s *Service) markError(ctx context.Context, agentID uuid.UUID, err error) {
	s.logger.Error("agentlifecycle: discovery pipeline failed", "agent_id", agentID, "error", err)
	if uerr := s.db.UpdateAgentStatus(ctx, agentID, model.AgentError, err.Error()); uerr != nil {
		s.logger.Error("agentlifecycle: mark error failed", "agent_id", agentID, "error", uerr)
	}
}

// detectQueryLog scores every discovered table and persists a QueryLogConfig
// for the highest scorer, iff its score clears queryLogScoreThreshold.
func (s *Service) detectQueryLog(ctx context.Context, agent model.Agent) error {
	cols, err := s.db.ListDiscoveredColumns(ctx, agent.AgentID)
	if err != nil {
		return fmt.Errorf("list discovered columns: %w", err)
	}

	type tableKey struct{ schema, table string }
	byTable := map[tableKey][]model.DiscoveredColumn{}
	for _, c := range cols {
		k := tableKey{c.SchemaName, c.TableName}
		byTable[k] = append(byTable[k], c)
	}

	var (
		bestKey   tableKey
		bestScore int
		bestRoles map[string]string
		found     bool
	)
	for k, tcols := range byTable {
		score, roles := scoreTable(tcols)
		if score > bestScore {
			bestScore, bestKey, bestRoles, found = score, k, roles, true
		}
	}
	if !found || bestScore < queryLogScoreThreshold {
		return fmt.Errorf("no table scored >= %d (best: %d)", queryLogScoreThreshold, bestScore)
	}

	cfg := model.QueryLogConfig{
		AgentID:         agent.AgentID,
		SchemaName:      bestKey.schema,
		TableName:       bestKey.table,
		QueryTextColumn: bestRoles["query_text"],
		SQLColumn:       bestRoles["sql"],
		TimestampColumn: bestRoles["timestamp"],
		StatusColumn:    bestRoles["status"],
		ErrorColumn:     bestRoles["error"],
		IDColumn:        bestRoles["id"],
	}
	if cfg.QueryTextColumn == "" || cfg.TimestampColumn == "" {
		return fmt.Errorf("table %s.%s scored %d but is missing a required role column", bestKey.schema, bestKey.table, bestScore)
	}
	return s.db.UpsertQueryLogConfig(ctx, cfg)
}

// scoreTable scores one table's columns against the role buckets. For each
// role, the first column (in column order) whose lowercased name contains
// one of the role's keywords fills it and adds the role's weight; the same
// column may fill several roles.
func scoreTable(cols []model.DiscoveredColumn) (int, map[string]string) {
	roles := map[string]string{}
	total := 0
	for _, rk := range roleKeywords {
		var best string
		for _, c := range cols {
			name := strings.ToLower(c.ColumnName)
			for _, kw := range rk.keywords {
				if strings.Contains(name, kw) {
					best = c.ColumnName
					break
				}
			}
			if best != "" {
				break
			}
		}
		if best != "" {
			roles[rk.role] = best
			total += rk.weight
		}
	}
	return total, roles
}

// RetryGroundTruth re-runs full ground-truth generation for agent.
func (s *Service) RetryGroundTruth(ctx context.Context, agent model.Agent) error {
	return s.generator.GenerateFull(ctx, agent)
}

// ScanSchemaChanges re-discovers agent's schema, diffs it against the
// stored DiscoveredColumn set, and records + acts on any differences. It
// implements the scan outside of the scheduler's own 10-hour tick, so the
// operator-triggered `/scan-schema-changes` endpoint shares the exact same
// logic as the periodic job; see internal/scheduler/schemascan.go.
func (s *Service) ScanSchemaChanges(ctx context.Context, agent model.Agent) (changed bool, err error) {
	return ScanOnce(ctx, s.db, s.generator, s.validator, s.opener, agent, s.logger)
}

// Revalidate invalidates the cached structural-validator schema for agent,
// forcing the next evaluation to rebuild it from the agent's current
// database state.
func (s *Service) Revalidate(agent model.Agent) {
	s.validator.Invalidate(agent.AgentID)
}

// RegenerateKey mints a fresh API key for agent and atomically replaces the
// stored hash; the new raw key is shown exactly once.
func (s *Service) RegenerateKey(ctx context.Context, agent model.Agent) (string, error) {
	rawKey, hash, prefix, err := auth.NewAPIKey(agent.AgentName)
	if err != nil {
		return "", fmt.Errorf("agentlifecycle: mint api key: %w", err)
	}
	if err := s.db.RotateAPIKey(ctx, agent.AgentID, hash, prefix); err != nil {
		return "", fmt.Errorf("agentlifecycle: rotate api key: %w", err)
	}
	return rawKey, nil
}

// Delete removes agent and every row derived from it; the heavy lifting
// (transaction, FK ordering) lives in storage.
func (s *Service) Delete(ctx context.Context, agent model.Agent) error {
	return s.db.DeleteAgent(ctx, agent.AgentID, agent.AgentName)
}
