package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/sqlsentry/internal/agentlifecycle"
	"github.com/ashita-ai/sqlsentry/internal/alert"
	"github.com/ashita-ai/sqlsentry/internal/auth"
	"github.com/ashita-ai/sqlsentry/internal/config"
	"github.com/ashita-ai/sqlsentry/internal/drift"
	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/evaluator"
	"github.com/ashita-ai/sqlsentry/internal/groundtruth"
	"github.com/ashita-ai/sqlsentry/internal/ingest"
	"github.com/ashita-ai/sqlsentry/internal/judge"
	"github.com/ashita-ai/sqlsentry/internal/llmsvc"
	"github.com/ashita-ai/sqlsentry/internal/matcher"
	"github.com/ashita-ai/sqlsentry/internal/objectstore"
	"github.com/ashita-ai/sqlsentry/internal/pipeline"
	"github.com/ashita-ai/sqlsentry/internal/ratelimit"
	"github.com/ashita-ai/sqlsentry/internal/scheduler"
	"github.com/ashita-ai/sqlsentry/internal/server"
	"github.com/ashita-ai/sqlsentry/internal/sqlvalidate"
	"github.com/ashita-ai/sqlsentry/internal/storage"
	"github.com/ashita-ai/sqlsentry/internal/telemetry"
	"github.com/ashita-ai/sqlsentry/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger level depends on config, but config itself may fail to load, so
	// start with a conservative default and tighten it once config.Load
	// succeeds.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("sqlsentry starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)
	llmProvider := llmsvc.New(cfg.LLMProvider, cfg.AnthropicAPIKey, cfg.AnthropicModel)

	blobStore, err := objectstore.NewLocalStore(cfg.LocalBlobDir)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	if cfg.ObjectStoreBucket != "" {
		logger.Warn("OBJECT_STORE_BUCKET is set but no bucket-backed store is wired; falling back to local disk", "bucket", cfg.ObjectStoreBucket)
	}
	artifacts := objectstore.NewArtifactStore(blobStore, cfg.ObjectStorePrefix)

	driftDetector := drift.New(db, embedder, cfg.DriftHighThreshold, cfg.DriftMediumThreshold)
	validator := sqlvalidate.New()
	generator := groundtruth.NewGenerator(db, artifacts, llmProvider, driftDetector, logger)
	registry := matcher.NewRegistry()

	sqlJudge := judge.NewSQLJudge(llmProvider)
	outputJudge := judge.NewOutputJudge(llmProvider)
	eval := evaluator.New(validator, embedder, registry, sqlJudge, outputJudge, cfg.EvaluationThreshold)

	alerter := alert.New(cfg.AlertSlackWebhookURL, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.AlertEmailFrom, cfg.AlertEmailRecipients, logger)

	pipe := pipeline.New(db, driftDetector, eval, alerter, logger)

	var qdrantMirror *matcher.QdrantMirror
	if cfg.QdrantURL != "" {
		qdrantMirror, err = matcher.NewQdrantMirror(matcher.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant mirror: %w", err)
		}
		defer func() { _ = qdrantMirror.Close() }()
		if err := qdrantMirror.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("matcher durable tier: qdrant", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("matcher durable tier: disabled (no QDRANT_URL)")
	}

	lifecycle := agentlifecycle.New(db, validator, generator, registry, artifacts, embedder, qdrantMirror, logger)
	ingestor := ingest.New(db, pipe)

	// Rebuild every active agent's in-memory matcher index from its
	// persisted ground-truth artifact so Path A matching works immediately
	// after a restart, without waiting for the next schema scan.
	rebuildMatcherIndices(ctx, db, registry, artifacts, embedder, logger)

	var limiter *ratelimit.MemoryLimiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
	}

	var verifier auth.TokenVerifier
	if cfg.AuthEnabled {
		verifier = auth.NewAzureADVerifier(cfg.AzureADTenantID, cfg.AzureADClientID, cfg.AzureADAudience)
		logger.Info("operator auth: azure ad")
	} else {
		verifier = auth.NoopVerifier{}
		logger.Info("operator auth: disabled (noop verifier)")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		DB:          db,
		Lifecycle:   lifecycle,
		Ingestor:    ingestor,
		Drift:       driftDetector,
		Embedder:    embedder,
		LLM:         llmProvider,
		MaxBodyByte: cfg.MaxRequestBodyBytes,
		Logger:      logger,
	})

	srv := server.New(server.Config{
		Handlers:            handlers,
		Host:                cfg.Host,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		Verifier:            verifier,
		RateLimiter:         limiter,
		Logger:              logger,
	})

	var schedulers sync.WaitGroup
	schedulers.Add(3)

	poller := scheduler.NewPoller(db, pipe, logger)
	go func() { defer schedulers.Done(); poller.Run(ctx) }()

	healthChecker := scheduler.NewHealthChecker(db, alerter, time.Duration(cfg.HealthCheckIntervalS)*time.Second, cfg.TelemetryGapThresholdM, logger)
	go func() { defer schedulers.Done(); healthChecker.Run(ctx) }()

	schemaScanner := scheduler.NewSchemaScanner(db, generator, validator, time.Duration(cfg.SchemaScanIntervalHours)*time.Hour, logger)
	go func() { defer schedulers.Done(); schemaScanner.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("sqlsentry shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	schedulers.Wait()

	logger.Info("sqlsentry stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newEmbeddingProvider selects an embedding backend by configuration.
// "auto" prefers Ollama (on-premises, no external cost) when reachable,
// falling back to OpenAI if a key is present, else noop. Non-noop backends
// come circuit-breaker-wrapped out of embedding.New.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	name := cfg.EmbeddingProvider
	if name == "auto" || name == "" {
		switch {
		case ollamaReachable(cfg.OllamaURL):
			name = "ollama"
		case cfg.OpenAIAPIKey != "":
			name = "openai"
		default:
			name = "noop"
		}
	}

	p, err := embedding.New(name, cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims, cfg.OllamaURL, cfg.OllamaModel)
	if err != nil {
		logger.Error("embedding provider init failed, semantic matching disabled", "provider", name, "error", err)
		return embedding.NewNoopProvider(dims)
	}
	switch name {
	case "noop":
		logger.Warn("embedding provider: noop (semantic matching disabled)")
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
	default:
		logger.Info("embedding provider: "+name, "model", cfg.EmbeddingModel, "dimensions", dims)
	}
	return p
}

func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// rebuildMatcherIndices warms the in-memory semantic matcher from every
// active agent's persisted ground-truth artifact. Best-effort: an agent
// whose artifact isn't there yet (still discovering, or ground-truth
// generation failed) simply starts with an empty index and is filled in
// once DiscoverAndConfigure completes.
func rebuildMatcherIndices(ctx context.Context, db *storage.DB, registry *matcher.Registry, artifacts *objectstore.ArtifactStore, embedder embedding.Provider, logger *slog.Logger) {
	agents, err := db.ListActiveAgents(ctx)
	if err != nil {
		logger.Warn("matcher warmup: list active agents failed", "error", err)
		return
	}
	for _, a := range agents {
		artifact, err := artifacts.Get(ctx, a.AgentName)
		if err != nil {
			if !errors.Is(err, objectstore.ErrNotFound) {
				logger.Warn("matcher warmup: load artifact failed", "agent", a.AgentName, "error", err)
			}
			continue
		}
		if err := registry.ForAgent(a.AgentName).Rebuild(ctx, embedder, artifact); err != nil {
			logger.Warn("matcher warmup: rebuild failed", "agent", a.AgentName, "error", err)
		}
	}
}
