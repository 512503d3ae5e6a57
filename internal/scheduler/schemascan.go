package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/agentlifecycle"
	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/groundtruth"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// SchemaScanner periodically re-discovers every active agent's schema and
// regenerates ground truth for whatever changed. Agents within one run are
// scanned sequentially.
type SchemaScanner struct {
	db        *storage.DB
	generator *groundtruth.Generator
	validator *sqlvalidate.Validator
	opener    func(ctx context.Context, dbURL string) (discovery.Connector, error)
	interval  time.Duration
	logger    *slog.Logger
}

// NewSchemaScanner builds a SchemaScanner. interval comes from
// SCHEMA_SCAN_INTERVAL_HOURS (default 10 hours).
func NewSchemaScanner(db *storage.DB, generator *groundtruth.Generator, validator *sqlvalidate.Validator, interval time.Duration, logger *slog.Logger) *SchemaScanner {
	return &SchemaScanner{
		db:        db,
		generator: generator,
		validator: validator,
		opener:    discovery.Open,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks, scanning every active agent once per interval until ctx is
// cancelled.
func (s *SchemaScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *SchemaScanner) cycle(ctx context.Context) {
	agents, err := s.db.ListActiveAgents(ctx)
	if err != nil {
		s.logger.Error("schema scanner: list active agents failed", "error", err)
		return
	}

	for _, agent := range agents {
		changed, err := agentlifecycle.ScanOnce(ctx, s.db, s.generator, s.validator, s.opener, agent, s.logger)
		if err != nil {
			s.logger.Warn("schema scanner: scan failed", "agent", agent.AgentName, "error", err)
			continue
		}
		if changed {
			s.logger.Info("schema scanner: schema changes detected", "agent", agent.AgentName)
		}
	}
}
