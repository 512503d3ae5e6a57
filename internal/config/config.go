// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings (platform metadata store). DB_URL wins when set;
	// otherwise the URL is assembled from the individual DB_* parts.
	DatabaseURL string

	// Operator authentication (Azure AD JWT).
	AuthEnabled     bool
	AzureADTenantID string
	AzureADClientID string
	AzureADAudience string

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	OllamaURL           string
	OllamaModel         string

	// LLM provider settings (ground truth, judge, intent, output validation).
	LLMProvider     string // "auto", "anthropic", or "noop"
	AnthropicAPIKey string
	AnthropicModel  string

	// Object store (ground-truth artifacts).
	ObjectStoreBucket string
	ObjectStoreRegion string
	ObjectStorePrefix string
	LocalBlobDir      string // Fallback path when bucket is unset.

	// Qdrant durable tier for ground-truth query embeddings (optional).
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Drift & evaluation thresholds.
	DriftHighThreshold   float64
	DriftMediumThreshold float64
	EvaluationThreshold  float64

	// Schedulers.
	HealthCheckIntervalS    int
	TelemetryGapThresholdM  int
	SchemaScanIntervalHours int

	// Alerting (unset ⇒ disabled).
	AlertSlackWebhookURL string
	AlertEmailFrom       string
	AlertEmailRecipients []string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPPass             string

	// CORS.
	CORSAllowedOrigins []string

	// Rate limiting (ingest protection).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Operational settings.
	LogLevel                string
	OTELEndpoint            string
	OTELInsecure            bool
	ServiceName             string
	MaxRequestBodyBytes     int64
	SkipEmbeddedMigrations  bool
}

// Load reads configuration from environment variables with sensible defaults.
// Missing variables use sensible defaults. Malformed values are rejected, as
// are combinations Validate refuses (auth enabled without the Azure AD ids,
// out-of-range or misordered thresholds).
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		Host:                 envStr("API_HOST", "0.0.0.0"),
		DatabaseURL:          envStr("DB_URL", ""),
		AzureADTenantID:      envStr("AZURE_AD_TENANT_ID", ""),
		AzureADClientID:      envStr("AZURE_AD_CLIENT_ID", ""),
		AzureADAudience:      envStr("AZURE_AD_AUDIENCE", ""),
		EmbeddingProvider:    envStr("EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:         envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:       envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		OllamaURL:            envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		LLMProvider:          envStr("LLM_PROVIDER", "auto"),
		AnthropicAPIKey:      envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:       envStr("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		ObjectStoreBucket:    envStr("OBJECT_STORE_BUCKET", ""),
		ObjectStoreRegion:    envStr("OBJECT_STORE_REGION", ""),
		ObjectStorePrefix:    envStr("OBJECT_STORE_PREFIX", "ground-truth"),
		LocalBlobDir:         envStr("LOCAL_BLOB_DIR", "./data/blobs"),
		QdrantURL:            envStr("QDRANT_URL", ""),
		QdrantAPIKey:         envStr("QDRANT_API_KEY", ""),
		QdrantCollection:     envStr("QDRANT_COLLECTION", "sqlsentry_gt_queries"),
		AlertSlackWebhookURL: envStr("ALERT_SLACK_WEBHOOK_URL", ""),
		AlertEmailFrom:       envStr("ALERT_EMAIL_FROM", ""),
		AlertEmailRecipients: envStrSlice("ALERT_EMAIL_RECIPIENTS", nil),
		SMTPHost:             envStr("SMTP_HOST", ""),
		SMTPUser:             envStr("SMTP_USER", ""),
		SMTPPass:             envStr("SMTP_PASS", ""),
		LogLevel:             envStr("PLATFORM_LOG_LEVEL", "info"),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "sqlsentry"),
		CORSAllowedOrigins:   envStrSlice("CORS_ALLOWED_ORIGINS", nil),
	}

	cfg.Port, errs = collectInt(errs, "API_PORT", 8080)
	cfg.EmbeddingDimensions, errs = collectInt(errs, "EMBEDDING_DIMENSION", 1024)
	cfg.HealthCheckIntervalS, errs = collectInt(errs, "HEALTH_CHECK_INTERVAL_S", 60)
	cfg.TelemetryGapThresholdM, errs = collectInt(errs, "TELEMETRY_GAP_THRESHOLD_M", 30)
	cfg.SchemaScanIntervalHours, errs = collectInt(errs, "SCHEMA_SCAN_INTERVAL_HOURS", 10)
	cfg.RateLimitBurst, errs = collectInt(errs, "RATE_LIMIT_BURST", 50)
	cfg.SMTPPort, errs = collectInt(errs, "SMTP_PORT", 587)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.AuthEnabled, errs = collectBool(errs, "AUTH_ENABLED", false)
	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.RateLimitEnabled, errs = collectBool(errs, "RATE_LIMIT_ENABLED", true)
	cfg.SkipEmbeddedMigrations, errs = collectBool(errs, "SKIP_EMBEDDED_MIGRATIONS", false)

	cfg.DriftHighThreshold, errs = collectFloat(errs, "DRIFT_HIGH_THRESHOLD", 0.5)
	cfg.DriftMediumThreshold, errs = collectFloat(errs, "DRIFT_MEDIUM_THRESHOLD", 0.3)
	cfg.EvaluationThreshold, errs = collectFloat(errs, "EVALUATION_THRESHOLD", 0.7)
	cfg.RateLimitRPS, errs = collectFloat(errs, "RATE_LIMIT_RPS", 20)

	if cfg.DatabaseURL == "" {
		var dbPort int
		dbPort, errs = collectInt(errs, "DB_PORT", 5432)
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			envStr("DB_USER", "sqlsentry"),
			envStr("DB_PASSWORD", "sqlsentry"),
			envStr("DB_HOST", "localhost"),
			dbPort,
			envStr("DB_NAME", "sqlsentry"),
			envStr("DB_SSLMODE", "disable"),
		)
	}

	cfg.ReadTimeout, errs = collectDuration(errs, "API_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "API_WRITE_TIMEOUT", 30*time.Second)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectFloat parses a float env var, appending any error to the accumulator.
func collectFloat(errs []error, key string, fallback float64) (float64, []error) {
	v, err := envFloat(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DB_URL is required"))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: EMBEDDING_DIMENSION must be positive"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: API_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: API_WRITE_TIMEOUT must be positive"))
	}
	if c.DriftHighThreshold <= 0 || c.DriftHighThreshold >= 1 {
		errs = append(errs, errors.New("config: DRIFT_HIGH_THRESHOLD must be in (0,1)"))
	}
	if c.DriftMediumThreshold <= 0 || c.DriftMediumThreshold >= c.DriftHighThreshold {
		errs = append(errs, errors.New("config: DRIFT_MEDIUM_THRESHOLD must be in (0, DRIFT_HIGH_THRESHOLD)"))
	}
	if c.EvaluationThreshold <= 0 || c.EvaluationThreshold > 1 {
		errs = append(errs, errors.New("config: EVALUATION_THRESHOLD must be in (0,1]"))
	}
	if c.AuthEnabled && (c.AzureADTenantID == "" || c.AzureADClientID == "") {
		errs = append(errs, errors.New("config: AZURE_AD_TENANT_ID and AZURE_AD_CLIENT_ID are required when AUTH_ENABLED=true"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid float", key, v)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envStrSlice reads a comma-separated env var into a string slice.
// Returns fallback if the env var is empty or unset.
func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
