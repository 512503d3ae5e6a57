// Package model holds the shared entity types persisted by the platform,
// spanning the "platform" schema (agent lifecycle, discovery) and the
// "monitoring" schema (telemetry, evaluation, drift, errors).
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentPending     AgentStatus = "pending"
	AgentDiscovering AgentStatus = "discovering"
	AgentActive      AgentStatus = "active"
	AgentError       AgentStatus = "error"
)

// GTStatus is the ground-truth generation lifecycle state.
type GTStatus string

const (
	GTPending    GTStatus = "pending"
	GTInProgress GTStatus = "in_progress"
	GTSuccess    GTStatus = "success"
	GTFailed     GTStatus = "failed"
)

// HealthStatus is the most recently observed health of an agent.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthSDKIssue HealthStatus = "sdk_issue"
	HealthUnknown  HealthStatus = "unknown"
)

// Agent is a registered third-party text-to-SQL system.
type Agent struct {
	AgentID     uuid.UUID
	AgentName   string // unique, case-insensitive
	DisplayName string
	Description string
	DBURL       string // opaque connection string to the agent's own DB
	AgentURL    string // optional, for health pings
	PollIntervalS int

	Status AgentStatus

	APIKeyHash   string
	APIKeyPrefix string

	GTStatus     GTStatus
	GTError      string
	GTQueryCount int
	GTRetryCount int
	GTLastRetryAt *time.Time

	SchemaVersion     int
	LastSchemaScanAt  *time.Time
	SchemaChangeCount int

	HealthStatus     HealthStatus
	HealthDetail     string
	LastHealthCheckAt *time.Time

	LastError    string
	LastPolledAt *time.Time

	CreatedBy string // operator subject (JWT sub) at registration time, informational only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiscoveredColumn is one column observed during schema discovery.
type DiscoveredColumn struct {
	AgentID      uuid.UUID
	SchemaName   string
	TableName    string
	ColumnName   string
	DataType     string
	IsNullable   bool
	DiscoveredAt time.Time
}

// QueryLogConfig names the source table in an agent's own DB that the
// poller harvests historic telemetry from.
type QueryLogConfig struct {
	AgentID uuid.UUID

	SchemaName string
	TableName  string

	QueryTextColumn string
	SQLColumn       string
	TimestampColumn string
	StatusColumn    string
	ErrorColumn     string
	IDColumn        string

	LastSeenTimestamp time.Time
	LastSeenID        *string
}

// SchemaChange is one append-only entry in the schema-change log.
type SchemaChange struct {
	ID           uuid.UUID
	AgentID      uuid.UUID
	ChangeType   string // "added_table" | "added_column"
	SchemaName   string
	TableName    string
	ColumnName   string // empty for added_table
	DetectedAt   time.Time
	GTRegenerated bool
}

// QueryStatus is the agent-reported outcome of generating SQL for a query.
type QueryStatus string

const (
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusError   QueryStatus = "error"
)

// Query is one telemetry event, platform-generated id, immutable once written.
type Query struct {
	QueryID         string // globally unique, e.g. "INGEST-DEMAND-a1b2c3d4"
	QueryText       string
	AgentType       string // denormalized agent_name
	Status          QueryStatus
	GeneratedSQL    *string
	ErrorMessage    *string
	ExecutionTimeMs *int
	CreatedAt       time.Time
}

// Baseline is the centroid embedding representing an agent's expected query
// distribution. Only the highest version for an agent_type is used.
type Baseline struct {
	AgentType        string
	Version          int
	CentroidEmbedding pgvector.Vector
	NumQueries       int
	CreatedAt        time.Time
}

// DriftClassification buckets a query's distance from the baseline.
type DriftClassification string

const (
	DriftNormal            DriftClassification = "normal"
	DriftMedium            DriftClassification = "medium"
	DriftHigh              DriftClassification = "high"
	DriftNoBaseline        DriftClassification = "no_baseline"
	DriftDimensionMismatch DriftClassification = "dimension_mismatch"
)

// DriftRecord is 1:1 with Query, upserted by query_id.
type DriftRecord struct {
	QueryID              string
	QueryEmbedding        *pgvector.Vector
	DriftScore            float64
	DriftClassification   DriftClassification
	SimilarityToBaseline  *float64
	IsAnomaly             bool
	CreatedAt             time.Time
}

// EvaluationResult is the pass/fail verdict of an evaluation.
type EvaluationResult string

const (
	EvalPass  EvaluationResult = "PASS"
	EvalFail  EvaluationResult = "FAIL"
	EvalError EvaluationResult = "ERROR"
)

// Evaluation is 1:1 with Query.
type Evaluation struct {
	QueryID          string
	StructuralScore  float64
	SemanticScore    float64
	LLMScore         float64
	FinalScore       float64
	Confidence       float64
	Result           EvaluationResult
	Reasoning        string
	EvaluationData   map[string]any // per-step details, component sub-scores
	CreatedAt        time.Time
}

// ErrorCategory is the fixed error taxonomy (mandatory categories).
type ErrorCategory string

const (
	ErrorSQLGeneration    ErrorCategory = "SQL_GENERATION"
	ErrorContextRetrieval ErrorCategory = "CONTEXT_RETRIEVAL"
	ErrorIntegration      ErrorCategory = "INTEGRATION"
	ErrorDataError        ErrorCategory = "DATA_ERROR"
	ErrorAgentLogic       ErrorCategory = "AGENT_LOGIC"
	ErrorUnknown          ErrorCategory = "UNKNOWN"
)

// ErrorSeverity ranks how urgently an error category needs attention.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorRecord is N:1 to Query, upserted by (query_id, category, subcategory).
type ErrorRecord struct {
	ID             uuid.UUID
	QueryID        string
	ErrorCategory  ErrorCategory
	Subcategory    string
	Severity       ErrorSeverity
	ErrorMessage   string
	SuggestedFix   string
	FirstSeen      time.Time
	LastSeen       time.Time
	FrequencyCount int
}

// ExpectedOutput is the captured result of executing a ground-truth SQL
// statement against the agent's own DB at generation time.
type ExpectedOutput struct {
	Columns         []string  `json:"columns"`
	RowCount        int       `json:"row_count"`
	SampleRows      [][]any   `json:"sample_rows"` // capped at 20
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}

// GroundTruthQuery is one (NL, SQL, expected-output) tuple in an artifact.
type GroundTruthQuery struct {
	LocalID         int              `json:"local_id"`
	NaturalLanguage string           `json:"natural_language"`
	SQL             string           `json:"sql"`
	ExpectedOutput  *ExpectedOutput  `json:"expected_output,omitempty"`
	Complexity      string           `json:"complexity"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Incremental     bool             `json:"incremental"`
	GenerationError string           `json:"generation_error,omitempty"`
}

// GroundTruthArtifact is the full object-store document for one agent.
type GroundTruthArtifact struct {
	AgentID      uuid.UUID          `json:"agent_id"`
	AgentName    string             `json:"agent_name"`
	TotalQueries int                `json:"total_queries"`
	Queries      []GroundTruthQuery `json:"queries"`
	Runs         []GTRunMetadata    `json:"runs,omitempty"`
}

// GTRunMetadata records one generation run, full or incremental.
type GTRunMetadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryCount  int       `json:"query_count"`
	SuccessCount int      `json:"success_count"`
	FailCount   int       `json:"fail_count"`
}

// DataQualityIssue is a non-authoritative, informational validator finding.
type DataQualityIssue struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	IssueType string
	Detail    string
	CreatedAt time.Time
}
