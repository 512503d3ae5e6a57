package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/sqlsentry/internal/agentlifecycle"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// detachedContext strips request cancellation so a goroutine spawned from
// an HTTP handler (register, refresh, retry, scan) keeps running after the
// response is written.
func detachedContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type registerAgentRequest struct {
	AgentName     string `json:"agent_name" validate:"required,max=128"`
	DBURL         string `json:"db_url" validate:"required"`
	DisplayName   string `json:"display_name,omitempty" validate:"max=256"`
	Description   string `json:"description,omitempty"`
	AgentURL      string `json:"agent_url,omitempty" validate:"omitempty,url"`
	PollIntervalS int    `json:"poll_interval_s,omitempty" validate:"min=0"`
}

// sdkSnippetTemplate is a copy-pasteable example for the agent operator, not a
// functioning artifact — the platform never ships an SDK binary itself
// (Non-goal: the agents being monitored).
const sdkSnippetTemplate = `import requests

requests.post(
    "%s/api/v1/monitor/ingest/sdk",
    headers={"X-API-Key": "%s"},
    json={"query_text": "...", "status": "success", "sql": "SELECT ..."},
)
`

// HandleRegisterAgent implements POST /api/v1/agents/register.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	claims := ClaimsFromContext(r.Context())
	createdBy := ""
	if claims != nil {
		createdBy = claims.Subject
	}

	registered, err := h.lifecycle.Register(r.Context(), agentlifecycle.RegisterInput{
		AgentName:     req.AgentName,
		DBURL:         req.DBURL,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		AgentURL:      req.AgentURL,
		PollIntervalS: req.PollIntervalS,
		CreatedBy:     createdBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, errCodeConflict, "agent_name is already registered")
			return
		}
		h.internalError(w, r, "register agent failed", err)
		return
	}

	agent := registered.Agent
	go h.lifecycle.DiscoverAndConfigure(detachedContext(r), agent)

	writeJSON(w, r, http.StatusCreated, map[string]any{
		"agent":       agentWithKey(agent, registered.RawKey),
		"sdk_snippet": sdkSnippetFor(agent, registered.RawKey),
	})
}

// HandleListAgents implements GET /api/v1/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		h.internalError(w, r, "list agents failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, agents)
}

// HandleGetAgent implements GET /api/v1/agents/{agent_id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleDeleteAgent implements DELETE /api/v1/agents/{agent_id}.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Delete(r.Context(), agent); err != nil {
		h.internalError(w, r, "delete agent failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": true, "agent_id": agent.AgentID})
}

// HandleRefreshAgent implements POST /api/v1/agents/{agent_id}/refresh: it
// re-runs the whole discover+configure pipeline in the background.
func (h *Handlers) HandleRefreshAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	go h.lifecycle.DiscoverAndConfigure(detachedContext(r), agent)
	writeJSON(w, r, http.StatusAccepted, map[string]any{"status": "refresh triggered", "agent_id": agent.AgentID})
}

// HandleRetryGroundTruth implements POST /api/v1/agents/{agent_id}/retry-ground-truth.
func (h *Handlers) HandleRetryGroundTruth(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	go func() {
		if err := h.lifecycle.RetryGroundTruth(detachedContext(r), agent); err != nil {
			h.logger.Warn("server: retry ground truth failed", "agent", agent.AgentName, "error", err)
		}
	}()
	writeJSON(w, r, http.StatusAccepted, map[string]any{"status": "ground-truth retry triggered", "agent_id": agent.AgentID})
}

// HandleScanSchemaChanges implements POST /api/v1/agents/{agent_id}/scan-schema-changes.
func (h *Handlers) HandleScanSchemaChanges(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	go func() {
		if _, err := h.lifecycle.ScanSchemaChanges(detachedContext(r), agent); err != nil {
			h.logger.Warn("server: schema scan failed", "agent", agent.AgentName, "error", err)
		}
	}()
	writeJSON(w, r, http.StatusAccepted, map[string]any{"status": "schema scan triggered", "agent_id": agent.AgentID})
}

// HandleRevalidate implements POST /api/v1/agents/{agent_id}/revalidate.
func (h *Handlers) HandleRevalidate(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	h.lifecycle.Revalidate(agent)
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "schema cache invalidated", "agent_id": agent.AgentID})
}

// HandleRegenerateKey implements POST /api/v1/agents/{agent_id}/regenerate-key.
func (h *Handlers) HandleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	rawKey, err := h.lifecycle.RegenerateKey(r.Context(), agent)
	if err != nil {
		h.internalError(w, r, "regenerate key failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agent_id": agent.AgentID, "api_key": rawKey})
}

func (h *Handlers) loadAgent(w http.ResponseWriter, r *http.Request) (model.Agent, bool) {
	id, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errCodeBadRequest, "invalid agent_id")
		return model.Agent{}, false
	}
	agent, err := h.db.GetAgent(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, r, http.StatusNotFound, errCodeNotFound, "agent not found")
			return model.Agent{}, false
		}
		h.internalError(w, r, "load agent failed", err)
		return model.Agent{}, false
	}
	return agent, true
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error("server: "+msg, "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, errCodeInternal, msg)
}

func agentWithKey(agent model.Agent, rawKey string) map[string]any {
	return map[string]any{
		"agent_id":        agent.AgentID,
		"agent_name":       agent.AgentName,
		"display_name":    agent.DisplayName,
		"description":     agent.Description,
		"agent_url":       agent.AgentURL,
		"poll_interval_s": agent.PollIntervalS,
		"status":          agent.Status,
		"api_key":         rawKey,
		"api_key_prefix":  agent.APIKeyPrefix,
		"created_at":      agent.CreatedAt,
	}
}

func sdkSnippetFor(agent model.Agent, rawKey string) string {
	base := agent.AgentURL
	if base == "" {
		base = "https://your-platform-host"
	}
	return fmt.Sprintf(sdkSnippetTemplate, base, rawKey)
}
