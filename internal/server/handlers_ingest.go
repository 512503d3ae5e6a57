package server

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/ingest"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// executeSQLTimeout bounds the ad-hoc query endpoint the same way
// evaluation's result-validation execution is bounded (10 seconds).
const executeSQLTimeout = 10 * time.Second

type ingestSDKRequest struct {
	QueryText       string `json:"query_text" validate:"required"`
	AgentType       string `json:"agent_type,omitempty"` // ignored; authenticated agent name is authoritative
	Status          string `json:"status" validate:"required,oneof=success error"`
	SQL             string `json:"sql,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs *int   `json:"execution_time_ms,omitempty" validate:"omitempty,min=0"`
}

// HandleIngestSDK implements POST /api/v1/monitor/ingest/sdk. It
// authenticates by X-API-Key rather than the operator JWT middleware —
// agents and operators use separate credentials.
func (h *Handlers) HandleIngestSDK(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ingestor.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		if err == ingest.ErrUnauthorized {
			writeError(w, r, http.StatusUnauthorized, errCodeUnauthorized, "missing or unknown api key")
			return
		}
		h.internalError(w, r, "ingest authentication failed", err)
		return
	}

	var req ingestSDKRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	queryID, err := h.ingestor.Ingest(r.Context(), agent, ingest.Event{
		QueryText:       req.QueryText,
		Status:          model.QueryStatus(req.Status),
		SQL:             req.SQL,
		Error:           req.Error,
		ExecutionTimeMs: req.ExecutionTimeMs,
	})
	if err != nil {
		h.internalError(w, r, "ingest failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ingested", "query_id": queryID})
}

type baselineUpdateRequest struct {
	AgentType string   `json:"agent_type" validate:"required"`
	Queries   []string `json:"queries" validate:"required,min=1,dive,required"`
}

// HandleBaselineUpdate implements POST /api/v1/baseline/update.
func (h *Handlers) HandleBaselineUpdate(w http.ResponseWriter, r *http.Request) {
	var req baselineUpdateRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	if err := h.drift.CreateBaseline(r.Context(), req.AgentType, req.Queries); err != nil {
		h.internalError(w, r, "create baseline failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "baseline updated", "agent_type": req.AgentType, "num_queries": len(req.Queries)})
}

type executeSQLRequest struct {
	SQL       string `json:"sql" validate:"required"`
	AgentType string `json:"agent_type" validate:"required"`
}

// selectOrCTEOnly guards the ad-hoc SQL execution endpoint against
// anything but a read: a leading SELECT or WITH.
var selectOrCTEOnly = regexp.MustCompile(`(?is)^\s*(select|with)\b`)

const executeSQLRowCap = 100

// HandleExecuteSQL implements POST /api/v1/execute-sql.
func (h *Handlers) HandleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	var req executeSQLRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	if !selectOrCTEOnly.MatchString(strings.TrimSpace(req.SQL)) {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, "only SELECT and WITH statements are allowed")
		return
	}

	agent, err := h.db.GetAgentByName(r.Context(), req.AgentType)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, r, http.StatusNotFound, errCodeNotFound, "unknown agent_type")
			return
		}
		h.internalError(w, r, "load agent failed", err)
		return
	}

	conn, err := h.opener(r.Context(), agent.DBURL)
	if err != nil {
		h.internalError(w, r, "open agent db failed", err)
		return
	}
	defer func() { _ = conn.Close() }()

	result, err := conn.Execute(r.Context(), req.SQL, executeSQLTimeout, executeSQLRowCap)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"columns":           result.Columns,
		"rows":              result.Rows,
		"row_count":         result.RowCount,
		"execution_time_ms": result.ExecutionTimeMs,
	})
}
