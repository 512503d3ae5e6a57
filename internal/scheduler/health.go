package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

const (
	healthCheckHTTPTimeout = 5 * time.Second

	// healthCheckWorkers bounds concurrent agent probes per cycle. Each probe
	// spends most of its 5s budget blocked on the agent's /health endpoint,
	// so a slow fleet would otherwise stretch one cycle past the interval.
	healthCheckWorkers = 8
)

// HealthAlerter is the narrow capability the health checker needs;
// satisfied by internal/alert.Dispatcher.
type HealthAlerter interface {
	HealthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) error
}

type noopHealthAlerter struct{}

func (noopHealthAlerter) HealthTransition(context.Context, string, model.HealthStatus, model.HealthStatus, string) error {
	return nil
}

// HealthChecker runs the periodic agent reachability + telemetry-gap check.
// Alerts fire only on a state transition, so it tracks each agent's
// previously observed status.
type HealthChecker struct {
	db                  *storage.DB
	alerter             HealthAlerter
	client              *http.Client
	interval            time.Duration
	telemetryGapMinutes int
	logger              *slog.Logger
}

// NewHealthChecker builds a HealthChecker. interval and telemetryGapMinutes
// come from HEALTH_CHECK_INTERVAL_S and TELEMETRY_GAP_THRESHOLD_M.
func NewHealthChecker(db *storage.DB, alerter HealthAlerter, interval time.Duration, telemetryGapMinutes int, logger *slog.Logger) *HealthChecker {
	if alerter == nil {
		alerter = noopHealthAlerter{}
	}
	return &HealthChecker{
		db:                  db,
		alerter:             alerter,
		client:              &http.Client{Timeout: healthCheckHTTPTimeout},
		interval:            interval,
		telemetryGapMinutes: telemetryGapMinutes,
		logger:              logger,
	}
}

// Run blocks, checking every active agent once per interval until ctx is
// cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cycle(ctx)
		}
	}
}

func (h *HealthChecker) cycle(ctx context.Context) {
	agents, err := h.db.ListActiveAgents(ctx)
	if err != nil {
		h.logger.Error("health checker: list active agents failed", "error", err)
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckWorkers)
	for _, agent := range agents {
		if agent.AgentURL == "" {
			continue
		}
		g.Go(func() error {
			h.checkAgent(gCtx, agent)
			return nil
		})
	}
	_ = g.Wait()
}

// checkAgent classifies reachability + telemetry freshness into one of
// {healthy, unhealthy, sdk_issue}, and fires an alert only when the
// classification differs from the agent's stored health status.
func (h *HealthChecker) checkAgent(ctx context.Context, agent model.Agent) {
	newStatus, detail := h.classify(ctx, agent)
	if newStatus == agent.HealthStatus {
		if err := h.db.UpdateHealth(ctx, agent.AgentID, newStatus, detail); err != nil {
			h.logger.Warn("health checker: refresh health timestamp failed", "agent", agent.AgentName, "error", err)
		}
		return
	}

	if err := h.db.UpdateHealth(ctx, agent.AgentID, newStatus, detail); err != nil {
		h.logger.Warn("health checker: update health failed", "agent", agent.AgentName, "error", err)
		return
	}
	if err := h.alerter.HealthTransition(ctx, agent.AgentName, agent.HealthStatus, newStatus, detail); err != nil {
		h.logger.Warn("health checker: alert dispatch failed", "agent", agent.AgentName, "error", err)
	}
}

func (h *HealthChecker) classify(ctx context.Context, agent model.Agent) (model.HealthStatus, string) {
	reqCtx, cancel := context.WithTimeout(ctx, healthCheckHTTPTimeout)
	defer cancel()

	url := agent.AgentURL + "/health"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return model.HealthUnhealthy, err.Error()
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return model.HealthUnhealthy, err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return model.HealthUnhealthy, "agent /health returned status " + resp.Status
	}

	if agent.LastPolledAt == nil {
		return model.HealthSDKIssue, "no telemetry observed yet"
	}
	gap := time.Since(*agent.LastPolledAt)
	if gap > time.Duration(h.telemetryGapMinutes)*time.Minute {
		return model.HealthSDKIssue, "no telemetry received in the last " + gap.Round(time.Minute).String()
	}
	return model.HealthHealthy, ""
}
