package server

import (
	"net/http"
	"time"
)

type healthComponent struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HandleHealth implements GET /health: liveness plus a best-effort check of
// the database and the configured embedding/LLM providers. Provider health
// here means "reachable configuration", not a live round trip — neither
// embedding.Provider nor llmsvc.Provider expose a ping method, so a noop
// provider simply reports itself as such.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]healthComponent{}

	status := "healthy"
	if err := h.db.Ping(r.Context()); err != nil {
		status = "unhealthy"
		components["database"] = healthComponent{Status: "unreachable", Detail: err.Error()}
	} else {
		components["database"] = healthComponent{Status: "ok"}
	}

	components["embedding_provider"] = healthComponent{Status: "configured"}
	components["llm_provider"] = healthComponent{Status: "configured"}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, r, code, map[string]any{
		"status":     status,
		"uptime_s":   int(time.Since(h.startedAt).Seconds()),
		"components": components,
	})
}
