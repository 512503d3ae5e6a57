package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

const (
	defaultHistoryLimit = 50
	defaultErrorsLimit  = 50
	topDriftSampleCount = 10
)

// HandleMetrics implements GET /api/v1/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	agentType := r.URL.Query().Get("agent_type")

	overall, err := h.db.EvalMetricsOverall(r.Context(), agentType)
	if err != nil {
		h.internalError(w, r, "load overall metrics failed", err)
		return
	}
	perAgent, err := h.db.EvalMetricsPerAgent(r.Context())
	if err != nil {
		h.internalError(w, r, "load per-agent metrics failed", err)
		return
	}
	trend, err := h.db.SevenDayTrend(r.Context(), agentType)
	if err != nil {
		h.internalError(w, r, "load trend failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"overall":   overall,
		"per_agent": perAgent,
		"trend_7d":  trend,
	})
}

// HandleDrift implements GET /api/v1/drift.
func (h *Handlers) HandleDrift(w http.ResponseWriter, r *http.Request) {
	agentType := r.URL.Query().Get("agent_type")

	bands, err := h.db.DriftBandDistribution(r.Context(), agentType)
	if err != nil {
		h.internalError(w, r, "load drift bands failed", err)
		return
	}
	samples, err := h.db.TopHighDriftSamples(r.Context(), agentType, topDriftSampleCount)
	if err != nil {
		h.internalError(w, r, "load high drift samples failed", err)
		return
	}
	trend, err := h.db.DailyDriftTrend(r.Context(), agentType, 7)
	if err != nil {
		h.internalError(w, r, "load drift trend failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"band_distribution": bands,
		"anomaly_count":     bands.High,
		"top_high_drift":    samples,
		"daily_trend":       trend,
	})
}

// HandleErrors implements GET /api/v1/errors.
func (h *Handlers) HandleErrors(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	agentType := r.URL.Query().Get("agent_type")
	limit := queryInt(r, "limit", defaultErrorsLimit)

	counts, err := h.db.ErrorCategorySeverityCounts(r.Context(), agentType)
	if err != nil {
		h.internalError(w, r, "load error counts failed", err)
		return
	}
	recent, err := h.db.RecentErrors(r.Context(), category, agentType, limit)
	if err != nil {
		h.internalError(w, r, "load recent errors failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"category_severity_counts": counts,
		"recent":                   recent,
	})
}

// HandleHistory implements GET /api/v1/history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	agentType := r.URL.Query().Get("agent_type")
	limit := queryInt(r, "limit", defaultHistoryLimit)

	rows, err := h.db.History(r.Context(), agentType, limit)
	if err != nil {
		h.internalError(w, r, "load history failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rows)
}

// HandleRunDetail implements GET /api/v1/monitor/runs/{query_id}
func (h *Handlers) HandleRunDetail(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("query_id")
	detail, err := h.db.GetRunDetail(r.Context(), queryID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, r, http.StatusNotFound, errCodeNotFound, "run not found")
			return
		}
		h.internalError(w, r, "load run detail failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleAlerts implements GET /api/v1/alerts: a consolidated feed of the two
// alertable conditions (high drift, severe errors), synthesized from the
// same aggregates /drift and /errors expose — the platform does not
// persist a separate alerts table.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	agentType := r.URL.Query().Get("agent_type")

	driftSamples, err := h.db.TopHighDriftSamples(r.Context(), agentType, topDriftSampleCount)
	if err != nil {
		h.internalError(w, r, "load drift alerts failed", err)
		return
	}
	recent, err := h.db.RecentErrors(r.Context(), "", agentType, defaultErrorsLimit)
	if err != nil {
		h.internalError(w, r, "load error alerts failed", err)
		return
	}
	severe := recent[:0]
	for _, e := range recent {
		if e.Severity == model.SeverityHigh || e.Severity == model.SeverityCritical {
			severe = append(severe, e)
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"high_drift": driftSamples,
		"errors":     severe,
	})
}

// HandleAgentsSummary implements GET /api/v1/agents/summary.
func (h *Handlers) HandleAgentsSummary(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		h.internalError(w, r, "list agents failed", err)
		return
	}

	counts := map[string]int{}
	for _, a := range agents {
		counts[string(a.Status)]++
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"total":     len(agents),
		"by_status": counts,
		"agents":    agents,
	})
}

// HandleAgentsHealth implements GET /api/v1/agents/health.
func (h *Handlers) HandleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		h.internalError(w, r, "list agents failed", err)
		return
	}

	counts := map[string]int{}
	for _, a := range agents {
		counts[string(a.HealthStatus)]++
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"by_health_status": counts,
		"agents":           agents,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
