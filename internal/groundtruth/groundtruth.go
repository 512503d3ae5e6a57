// Package groundtruth generates executable (natural_language, sql,
// expected_output) tuples for a registered agent by prompting an LLM with
// its discovered schema, then executing each candidate statement against the
// agent's own database to capture the expected result.
package groundtruth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/drift"
	"github.com/ashita-ai/sqlsentry/internal/llmsvc"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/objectstore"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

const (
	fullRunTotal        = 100 // 4 x 25
	incrementalPerTable = 10
	incrementalCap      = 100
	sampleRowLimit      = 5
	execTimeout         = 5 * time.Second
	sampleOutputRows    = 20
	maxAttempts         = 3
)

// retryBackoffs is the full-generation retry schedule.
var retryBackoffs = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// toDiscoveryColumns adapts the persisted column shape to the flat
// discovery.Column contract GroupBySchema groups over.
func toDiscoveryColumns(cols []model.DiscoveredColumn) []discovery.Column {
	out := make([]discovery.Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, discovery.Column{
			SchemaName: c.SchemaName,
			TableName:  c.TableName,
			ColumnName: c.ColumnName,
			DataType:   c.DataType,
			IsNullable: c.IsNullable,
		})
	}
	return out
}

// rawPair is the shape of one item in the LLM's JSON response.
type rawPair struct {
	NaturalLanguage string `json:"natural_language"`
	SQL             string `json:"sql"`
}

// Generator produces and persists ground-truth artifacts for agents.
type Generator struct {
	db       *storage.DB
	artifact *objectstore.ArtifactStore
	llm      llmsvc.Provider
	drift    *drift.Detector
	logger   *slog.Logger
}

func NewGenerator(db *storage.DB, artifact *objectstore.ArtifactStore, llm llmsvc.Provider, driftDetector *drift.Detector, logger *slog.Logger) *Generator {
	return &Generator{db: db, artifact: artifact, llm: llm, drift: driftDetector, logger: logger}
}

// GenerateFull runs the full ground-truth generation state machine for
// agent: up to 3 attempts with exponential backoff, status transitions
// pending -> in_progress -> {success, failed}
func (g *Generator) GenerateFull(ctx context.Context, agent model.Agent) error {
	cols, err := g.db.ListDiscoveredColumns(ctx, agent.AgentID)
	if err != nil {
		return fmt.Errorf("groundtruth: list discovered columns: %w", err)
	}
	tables := GroupBySchema(toDiscoveryColumns(cols))
	if len(tables) == 0 {
		_ = g.db.UpdateGTState(ctx, agent.AgentID, model.GTFailed, "no discovered schema", 0)
		return fmt.Errorf("groundtruth: agent %s has no discovered schema", agent.AgentName)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepOrDone(ctx, retryBackoffs[attempt-1]); err != nil {
				return err
			}
			if err := g.db.IncrementGTRetry(ctx, agent.AgentID); err != nil {
				g.logger.Warn("groundtruth: increment retry failed", "agent", agent.AgentName, "error", err)
			}
		}

		if err := g.db.UpdateGTState(ctx, agent.AgentID, model.GTInProgress, "", 0); err != nil {
			return fmt.Errorf("groundtruth: mark in_progress: %w", err)
		}

		artifact, err := g.runFull(ctx, agent, tables)
		if err == nil {
			if putErr := g.artifact.Put(ctx, artifact); putErr != nil {
				lastErr = fmt.Errorf("groundtruth: persist artifact: %w", putErr)
				continue
			}
			if stateErr := g.db.UpdateGTState(ctx, agent.AgentID, model.GTSuccess, "", artifact.TotalQueries); stateErr != nil {
				return fmt.Errorf("groundtruth: mark success: %w", stateErr)
			}
			g.createBaselineBestEffort(ctx, agent.AgentName, artifact)
			return nil
		}
		lastErr = err
		g.logger.Warn("groundtruth: generation attempt failed", "agent", agent.AgentName, "attempt", attempt+1, "error", err)
	}

	if stateErr := g.db.UpdateGTState(ctx, agent.AgentID, model.GTFailed, lastErr.Error(), 0); stateErr != nil {
		g.logger.Error("groundtruth: mark failed", "agent", agent.AgentName, "error", stateErr)
	}
	return fmt.Errorf("groundtruth: full generation for %s exhausted %d attempts: %w", agent.AgentName, maxAttempts, lastErr)
}

func (g *Generator) runFull(ctx context.Context, agent model.Agent, tables []SchemaTable) (model.GroundTruthArtifact, error) {
	conn, err := discovery.Open(ctx, agent.DBURL)
	if err != nil {
		return model.GroundTruthArtifact{}, fmt.Errorf("groundtruth: open agent db: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rels := InferRelationships(tables)
	samples := sampleAll(ctx, conn, tables, g.logger)

	queries, successCount, failCount, err := g.generateQueries(ctx, conn, agent.AgentName, tables, rels, samples, batchSizes(fullRunTotal), false, 0)
	if err != nil {
		return model.GroundTruthArtifact{}, err
	}

	return model.GroundTruthArtifact{
		AgentID:      agent.AgentID,
		AgentName:    agent.AgentName,
		TotalQueries: len(queries),
		Queries:      queries,
		Runs: []model.GTRunMetadata{{
			Timestamp:    time.Now().UTC(),
			QueryCount:   len(queries),
			SuccessCount: successCount,
			FailCount:    failCount,
		}},
	}, nil
}

// GenerateIncremental regenerates ground truth scoped to the tables named by
// pendingChanges, appending to the existing artifact with monotonically
// increasing local ids.
func (g *Generator) GenerateIncremental(ctx context.Context, agent model.Agent, pendingChanges []model.SchemaChange) error {
	if len(pendingChanges) == 0 {
		return nil
	}

	newTables := uniqueTables(pendingChanges)
	allCols, err := g.db.ListDiscoveredColumns(ctx, agent.AgentID)
	if err != nil {
		return fmt.Errorf("groundtruth: list discovered columns: %w", err)
	}
	allTables := GroupBySchema(toDiscoveryColumns(allCols))

	scoped := make([]SchemaTable, 0, len(newTables))
	for _, t := range allTables {
		if _, ok := newTables[tableKey{Schema: t.Schema, Table: t.Table}]; ok {
			scoped = append(scoped, t)
		}
	}
	if len(scoped) == 0 {
		return nil
	}

	existing, err := g.artifact.Get(ctx, agent.AgentName)
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return fmt.Errorf("groundtruth: load existing artifact: %w", err)
	}
	nextLocalID := 0
	for _, q := range existing.Queries {
		if q.LocalID >= nextLocalID {
			nextLocalID = q.LocalID + 1
		}
	}

	conn, err := discovery.Open(ctx, agent.DBURL)
	if err != nil {
		return fmt.Errorf("groundtruth: open agent db: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rels := InferRelationships(allTables) // relationships span the whole schema, not just the new tables
	samples := sampleAll(ctx, conn, scoped, g.logger)

	total := incrementalPerTable * len(scoped)
	if total > incrementalCap {
		total = incrementalCap
	}

	queries, successCount, failCount, err := g.generateQueries(ctx, conn, agent.AgentName, scoped, rels, samples, batchSizes(total), true, nextLocalID)
	if err != nil {
		return fmt.Errorf("groundtruth: incremental generation: %w", err)
	}

	existing.AgentID = agent.AgentID
	existing.AgentName = agent.AgentName
	existing.Queries = append(existing.Queries, queries...)
	existing.TotalQueries = len(existing.Queries)
	existing.Runs = append(existing.Runs, model.GTRunMetadata{
		Timestamp:    time.Now().UTC(),
		QueryCount:   len(queries),
		SuccessCount: successCount,
		FailCount:    failCount,
	})

	if err := g.artifact.Put(ctx, existing); err != nil {
		return fmt.Errorf("groundtruth: persist incremental artifact: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(pendingChanges))
	for _, c := range pendingChanges {
		ids = append(ids, c.ID)
	}
	if err := g.db.MarkSchemaChangesRegenerated(ctx, ids); err != nil {
		return fmt.Errorf("groundtruth: mark schema changes regenerated: %w", err)
	}

	g.createBaselineBestEffort(ctx, agent.AgentName, existing)
	return nil
}

// generateQueries drives one or more LLM batches and executes every
// resulting candidate against conn, returning the accumulated queries plus
// success/failure counts for the run metadata.
func (g *Generator) generateQueries(ctx context.Context, conn discovery.Connector, agentName string, tables []SchemaTable, rels []Relationship, samples Samples, counts []int, incremental bool, startLocalID int) ([]model.GroundTruthQuery, int, int, error) {
	var out []model.GroundTruthQuery
	successCount, failCount := 0, 0
	localID := startLocalID

	for _, n := range counts {
		system, user := BuildPrompt(PromptRequest{
			AgentName:     agentName,
			Tables:        tables,
			Relationships: rels,
			Samples:       samples,
			Count:         n,
		})

		resp, err := g.llm.Complete(ctx, system, user)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("groundtruth: llm complete: %w", err)
		}

		pairs, err := parsePairs(resp)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("groundtruth: parse llm response: %w", err)
		}

		for _, p := range pairs {
			q := g.executeAndCapture(ctx, conn, localID, p, incremental)
			localID++
			if q.GenerationError != "" {
				failCount++
			} else {
				successCount++
			}
			out = append(out, q)
		}
	}

	return out, successCount, failCount, nil
}

// executeAndCapture runs one candidate statement against conn with a 5s
// statement timeout, capturing the expected output on success. Execution
// failure is retained on the record rather than aborting the batch.
func (g *Generator) executeAndCapture(ctx context.Context, conn discovery.Connector, localID int, p rawPair, incremental bool) model.GroundTruthQuery {
	q := model.GroundTruthQuery{
		LocalID:         localID,
		NaturalLanguage: p.NaturalLanguage,
		SQL:             p.SQL,
		Complexity:      classifyComplexity(p.SQL),
		GeneratedAt:     time.Now().UTC(),
		Incremental:     incremental,
	}

	result, err := conn.Execute(ctx, p.SQL, execTimeout, sampleOutputRows)
	if err != nil {
		q.GenerationError = err.Error()
		return q
	}

	rows := result.Rows
	if len(rows) > sampleOutputRows {
		rows = rows[:sampleOutputRows]
	}
	q.ExpectedOutput = &model.ExpectedOutput{
		Columns:         result.Columns,
		RowCount:        result.RowCount,
		SampleRows:      rows,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
	return q
}

// classifyComplexity gives a coarse, informational label based on
// construct count; never used for scoring, only as artifact metadata.
func classifyComplexity(sqlText string) string {
	upper := strings.ToUpper(sqlText)
	score := 0
	for _, kw := range []string{"JOIN", "GROUP BY", "HAVING", "SELECT ("} {
		if strings.Contains(upper, kw) {
			score++
		}
	}
	switch {
	case score >= 2:
		return "complex"
	case score == 1:
		return "moderate"
	default:
		return "simple"
	}
}

func sampleAll(ctx context.Context, conn discovery.Connector, tables []SchemaTable, logger *slog.Logger) Samples {
	samples := make(Samples, len(tables))
	for _, t := range tables {
		rows, err := conn.SampleRows(ctx, t.Schema, t.Table, sampleRowLimit)
		if err != nil {
			logger.Warn("groundtruth: sample rows failed", "table", t.Table, "error", err)
			continue
		}
		samples[t.Schema+"."+t.Table] = rows
	}
	return samples
}

func uniqueTables(changes []model.SchemaChange) map[tableKey]struct{} {
	out := make(map[tableKey]struct{}, len(changes))
	for _, c := range changes {
		out[tableKey{Schema: c.SchemaName, Table: c.TableName}] = struct{}{}
	}
	return out
}

// parsePairs strips a possible markdown code fence and decodes the strict
// JSON array the prompt requires.
func parsePairs(resp string) ([]rawPair, error) {
	cleaned := stripFences(resp)
	var pairs []rawPair
	if err := json.Unmarshal([]byte(cleaned), &pairs); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return pairs, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(s[:nl])
		if firstLine == "json" || firstLine == "" {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (g *Generator) createBaselineBestEffort(ctx context.Context, agentName string, artifact model.GroundTruthArtifact) {
	if g.drift == nil || len(artifact.Queries) == 0 {
		return
	}
	texts := make([]string, 0, len(artifact.Queries))
	for _, q := range artifact.Queries {
		texts = append(texts, q.NaturalLanguage)
	}
	if err := g.drift.CreateBaseline(ctx, agentName, texts); err != nil {
		g.logger.Warn("groundtruth: post-success baseline creation failed", "agent", agentName, "error", err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
