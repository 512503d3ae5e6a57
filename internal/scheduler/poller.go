// Package scheduler runs the three background loops that drive telemetry
// harvesting, agent health tracking, and schema drift detection
// independently of any inbound HTTP request.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/pipeline"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

const (
	pollCycleInterval = 5 * time.Second
	pollRowCap        = 100
)

// Poller harvests historic telemetry from each active agent's own
// query-log table on a fixed cycle, feeding every row through the same
// background pipeline ingest uses.
type Poller struct {
	db     *storage.DB
	pipe   *pipeline.Pipeline
	opener func(ctx context.Context, dbURL string) (discovery.Connector, error)
	logger *slog.Logger
}

// NewPoller builds a Poller. opener defaults to discovery.Open.
func NewPoller(db *storage.DB, pipe *pipeline.Pipeline, logger *slog.Logger) *Poller {
	return &Poller{db: db, pipe: pipe, opener: discovery.Open, logger: logger}
}

// Run blocks, polling every pollCycleInterval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollCycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle polls every active agent once. One agent's failure never stops the
// cycle for the others.
func (p *Poller) cycle(ctx context.Context) {
	agents, err := p.db.ListActiveAgents(ctx)
	if err != nil {
		p.logger.Error("poller: list active agents failed", "error", err)
		return
	}

	for _, agent := range agents {
		if !dueToPoll(agent) {
			continue
		}
		if err := p.pollAgent(ctx, agent); err != nil {
			p.logger.Warn("poller: agent poll failed", "agent", agent.AgentName, "error", err)
			if stateErr := p.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentError, err.Error()); stateErr != nil {
				p.logger.Error("poller: mark agent error failed", "agent", agent.AgentName, "error", stateErr)
			}
			continue
		}
		if err := p.db.TouchPolled(ctx, agent.AgentID); err != nil {
			p.logger.Warn("poller: touch polled failed", "agent", agent.AgentName, "error", err)
		}
	}
}

func dueToPoll(agent model.Agent) bool {
	if agent.LastPolledAt == nil {
		return true
	}
	interval := time.Duration(agent.PollIntervalS) * time.Second
	if interval <= 0 {
		interval = pollCycleInterval
	}
	return time.Since(*agent.LastPolledAt) >= interval
}

// pollAgent reads rows newer than the stored watermark from the agent's
// configured query-log table, dispatches each through the pipeline, and
// advances the watermark only after every fetched row has been dispatched
// successfully.
func (p *Poller) pollAgent(ctx context.Context, agent model.Agent) error {
	cfg, err := p.db.GetQueryLogConfig(ctx, agent.AgentID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil // polling not configured for this agent; not an error
		}
		return fmt.Errorf("scheduler: load query log config: %w", err)
	}

	conn, err := p.opener(ctx, agent.DBURL)
	if err != nil {
		return fmt.Errorf("scheduler: open agent db: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := readQueryLogRows(ctx, conn, cfg, pollRowCap)
	if err != nil {
		return fmt.Errorf("scheduler: read query log: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	maxSeen := cfg.LastSeenTimestamp
	var lastSeenID *string
	for _, r := range rows {
		queryID := mintPollID(agent.AgentName)
		query := model.Query{
			QueryID:   queryID,
			QueryText: r.queryText,
			AgentType: agent.AgentName,
			Status:    r.status,
			CreatedAt: time.Now().UTC(),
		}
		if r.sql != "" {
			sql := r.sql
			query.GeneratedSQL = &sql
		}
		if r.errMsg != "" {
			em := r.errMsg
			query.ErrorMessage = &em
		}

		if err := p.db.InsertQuery(ctx, query); err != nil {
			return fmt.Errorf("scheduler: insert polled query %s: %w", queryID, err)
		}
		pipeline.Dispatch(context.WithoutCancel(ctx), p.pipe, query)

		if r.timestamp.After(maxSeen) {
			maxSeen = r.timestamp
			lastSeenID = r.idPtr
		}
	}

	return p.db.AdvanceWatermark(ctx, agent.AgentID, maxSeen, lastSeenID)
}

func mintPollID(agentName string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("POLL-%s-%s", strings.ToUpper(agentName), hex.EncodeToString(buf))
}
