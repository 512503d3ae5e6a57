// Package ingest implements the SDK telemetry ingest endpoint's business
// logic: authenticate by API key, mint a query id, persist the
// event synchronously, and hand it off to the background pipeline.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/auth"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/pipeline"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// Event is the SDK's wire payload for one telemetry event. AgentType is
// accepted but ignored — the authenticated agent's own name is
// authoritative.
type Event struct {
	QueryText       string
	AgentType       string
	Status          model.QueryStatus
	SQL             string
	Error           string
	ExecutionTimeMs *int
}

// Ingestor authenticates by API key and feeds events into the pipeline.
type Ingestor struct {
	db   *storage.DB
	pipe *pipeline.Pipeline
}

// New builds an Ingestor.
func New(db *storage.DB, pipe *pipeline.Pipeline) *Ingestor {
	return &Ingestor{db: db, pipe: pipe}
}

// ErrUnauthorized is returned when the presented API key matches no agent.
var ErrUnauthorized = fmt.Errorf("ingest: unknown or missing api key")

// Authenticate resolves rawAPIKey to its owning agent.
func (i *Ingestor) Authenticate(ctx context.Context, rawAPIKey string) (model.Agent, error) {
	if rawAPIKey == "" {
		return model.Agent{}, ErrUnauthorized
	}
	agent, err := i.db.GetAgentByAPIKeyHash(ctx, auth.HashAPIKey(rawAPIKey))
	if err != nil {
		if err == storage.ErrNotFound {
			return model.Agent{}, ErrUnauthorized
		}
		return model.Agent{}, fmt.Errorf("ingest: lookup agent: %w", err)
	}
	return agent, nil
}

// Ingest persists ev under agent's authoritative name and dispatches the
// pipeline, returning the minted query_id.
func (i *Ingestor) Ingest(ctx context.Context, agent model.Agent, ev Event) (string, error) {
	queryID := mintIngestID(agent.AgentName)

	q := model.Query{
		QueryID:         queryID,
		QueryText:       ev.QueryText,
		AgentType:       agent.AgentName,
		Status:          ev.Status,
		ExecutionTimeMs: ev.ExecutionTimeMs,
		CreatedAt:       time.Now().UTC(),
	}
	if ev.SQL != "" {
		sql := ev.SQL
		q.GeneratedSQL = &sql
	}
	if ev.Error != "" {
		errMsg := ev.Error
		q.ErrorMessage = &errMsg
	}

	if err := i.db.InsertQuery(ctx, q); err != nil {
		return "", fmt.Errorf("ingest: insert query: %w", err)
	}

	pipeline.Dispatch(context.WithoutCancel(ctx), i.pipe, q)
	return queryID, nil
}

func mintIngestID(agentName string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("INGEST-%s-%s", strings.ToUpper(agentName), hex.EncodeToString(buf))
}
