package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/sqlsentry/internal/agentlifecycle"
	"github.com/ashita-ai/sqlsentry/internal/auth"
	"github.com/ashita-ai/sqlsentry/internal/discovery"
	"github.com/ashita-ai/sqlsentry/internal/drift"
	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/ingest"
	"github.com/ashita-ai/sqlsentry/internal/llmsvc"
	"github.com/ashita-ai/sqlsentry/internal/ratelimit"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// Handlers holds every dependency an HTTP handler method needs. It carries
// no per-request state.
type Handlers struct {
	db         *storage.DB
	lifecycle  *agentlifecycle.Service
	ingestor   *ingest.Ingestor
	drift      *drift.Detector
	embedder   embedding.Provider
	llm        llmsvc.Provider
	opener     func(ctx context.Context, dbURL string) (discovery.Connector, error)
	maxBody    int64
	startedAt  time.Time
	logger     *slog.Logger
}

// HandlersDeps groups Handlers' constructor arguments.
type HandlersDeps struct {
	DB          *storage.DB
	Lifecycle   *agentlifecycle.Service
	Ingestor    *ingest.Ingestor
	Drift       *drift.Detector
	Embedder    embedding.Provider
	LLM         llmsvc.Provider
	MaxBodyByte int64
	Logger      *slog.Logger
}

// NewHandlers builds a Handlers.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:        deps.DB,
		lifecycle: deps.Lifecycle,
		ingestor:  deps.Ingestor,
		drift:     deps.Drift,
		embedder:  deps.Embedder,
		llm:       deps.LLM,
		opener:    discovery.Open,
		maxBody:   deps.MaxBodyByte,
		startedAt: time.Now().UTC(),
		logger:    deps.Logger,
	}
}

// Config configures the HTTP server's transport and cross-cutting
// middleware. Handlers-level dependencies are supplied separately via
// HandlersDeps so tests can build a Handlers without going through New.
type Config struct {
	Handlers *Handlers

	Host                string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
	TrustProxy          bool

	Verifier    auth.TokenVerifier
	RateLimiter *ratelimit.MemoryLimiter

	Logger *slog.Logger
}

// Server wraps the configured http.Server and its mux.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	logger     *slog.Logger
}

// New builds a Server: constructs the mux, registers every API route,
// and wraps it in the middleware chain in the order request ID → security
// headers → CORS → recovery → logging → tracing → max body → mux; inside
// the mux, each route is wrapped in rate limiting (ingest only) or operator
// auth before its handler. The SDK ingest route never passes
// through operatorAuthMiddleware — it authenticates by X-API-Key inside its
// own handler.
func New(cfg Config) *Server {
	h := cfg.Handlers
	mux := http.NewServeMux()

	operatorOnly := func(next http.HandlerFunc) http.Handler {
		return operatorAuthMiddleware(cfg.Verifier, next)
	}

	mux.Handle("POST /api/v1/agents/register", operatorOnly(h.HandleRegisterAgent))
	mux.Handle("GET /api/v1/agents", operatorOnly(h.HandleListAgents))
	mux.Handle("GET /api/v1/agents/{agent_id}", operatorOnly(h.HandleGetAgent))
	mux.Handle("DELETE /api/v1/agents/{agent_id}", operatorOnly(h.HandleDeleteAgent))
	mux.Handle("POST /api/v1/agents/{agent_id}/refresh", operatorOnly(h.HandleRefreshAgent))
	mux.Handle("POST /api/v1/agents/{agent_id}/retry-ground-truth", operatorOnly(h.HandleRetryGroundTruth))
	mux.Handle("POST /api/v1/agents/{agent_id}/scan-schema-changes", operatorOnly(h.HandleScanSchemaChanges))
	mux.Handle("POST /api/v1/agents/{agent_id}/revalidate", operatorOnly(h.HandleRevalidate))
	mux.Handle("POST /api/v1/agents/{agent_id}/regenerate-key", operatorOnly(h.HandleRegenerateKey))

	mux.Handle("POST /api/v1/monitor/ingest/sdk", rateLimitMiddleware(cfg.RateLimiter, cfg.TrustProxy, http.HandlerFunc(h.HandleIngestSDK)))

	mux.Handle("POST /api/v1/baseline/update", operatorOnly(h.HandleBaselineUpdate))
	mux.Handle("POST /api/v1/execute-sql", operatorOnly(h.HandleExecuteSQL))

	mux.Handle("GET /api/v1/metrics", operatorOnly(h.HandleMetrics))
	mux.Handle("GET /api/v1/drift", operatorOnly(h.HandleDrift))
	mux.Handle("GET /api/v1/errors", operatorOnly(h.HandleErrors))
	mux.Handle("GET /api/v1/history", operatorOnly(h.HandleHistory))
	mux.Handle("GET /api/v1/monitor/runs/{query_id}", operatorOnly(h.HandleRunDetail))
	mux.Handle("GET /api/v1/alerts", operatorOnly(h.HandleAlerts))
	mux.Handle("GET /api/v1/agents/summary", operatorOnly(h.HandleAgentsSummary))
	mux.Handle("GET /api/v1/agents/health", operatorOnly(h.HandleAgentsHealth))

	mux.HandleFunc("GET /health", h.HandleHealth)

	var handler http.Handler = mux
	handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         listenAddr(cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handlers: h,
		logger:   cfg.Logger,
	}
}

func listenAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Handler exposes the wrapped http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks, serving until Shutdown is called or the listener errors.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops accepting new ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
