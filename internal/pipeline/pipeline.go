// Package pipeline runs the three-stage background processing chain
// (drift, evaluation, error classification) for one telemetry event.
// Ordering within an event is deterministic and sequential; the
// caller is expected to dispatch one goroutine per event so different
// events proceed concurrently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/sqlsentry/internal/drift"
	"github.com/ashita-ai/sqlsentry/internal/errorclass"
	"github.com/ashita-ai/sqlsentry/internal/evaluator"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
	"github.com/ashita-ai/sqlsentry/internal/telemetry"
)

// tracer and stageDuration give each of the three stages its own span
// and latency observation, matching the ingest path's tracingMiddleware
// pattern in internal/server rather than inventing a separate convention.
var (
	tracer        = telemetry.Tracer("sqlsentry/pipeline")
	pipelineMeter = telemetry.Meter("sqlsentry/pipeline")
	stageDuration otelmetric.Float64Histogram
)

func init() {
	var err error
	stageDuration, err = pipelineMeter.Float64Histogram("pipeline.stage.duration",
		otelmetric.WithUnit("ms"))
	if err != nil {
		stageDuration, _ = pipelineMeter.Float64Histogram("pipeline.stage.duration.fallback",
			otelmetric.WithUnit("ms"))
	}
}

// traceStage wraps one pipeline stage in a span named "pipeline.<name>" and
// records its wall-clock duration against the shared stageDuration
// histogram, tagged by stage name; the query ID is set on the span only.
func traceStage(ctx context.Context, name, queryID string, fn func(ctx context.Context)) {
	ctx, span := tracer.Start(ctx, "pipeline."+name,
		trace.WithAttributes(
			attribute.String("sqlsentry.query_id", queryID),
		),
	)
	defer span.End()

	start := time.Now()
	fn(ctx)
	duration := time.Since(start)

	stageDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("pipeline.stage", name),
	))
}

// stageTimeout bounds each of the three stages independently, so one slow
// stage (e.g. an LLM judge call) never blocks the others indefinitely; the
// dispatching goroutine itself is already detached from the request.
const stageTimeout = 30 * time.Second

// persistWithRetry writes one derived row, absorbing the transient
// serialization/deadlock errors concurrent event pipelines can provoke.
func persistWithRetry(ctx context.Context, write func() error) error {
	return storage.WithRetry(ctx, 3, 100*time.Millisecond, write)
}

// Alerter is the narrow capability the drift stage needs; satisfied by
// internal/alert.Dispatcher. Declared here, not imported from alert,
// so pipeline depends only on the shape it uses.
type Alerter interface {
	HighDrift(ctx context.Context, agentType, queryID string, driftScore float64) error
}

// noopAlerter is used when no alert sink is configured.
type noopAlerter struct{}

func (noopAlerter) HighDrift(context.Context, string, string, float64) error { return nil }

// Pipeline wires the three stages together for one event.
type Pipeline struct {
	db        *storage.DB
	drift     *drift.Detector
	evaluator *evaluator.Evaluator
	alerter   Alerter
	logger    *slog.Logger
}

func New(db *storage.DB, driftDetector *drift.Detector, eval *evaluator.Evaluator, alerter Alerter, logger *slog.Logger) *Pipeline {
	if alerter == nil {
		alerter = noopAlerter{}
	}
	return &Pipeline{db: db, drift: driftDetector, evaluator: eval, alerter: alerter, logger: logger}
}

// Run processes one event end to end. It never returns an error to the
// caller — each stage's failure is logged and the remaining stages still
// run.
func (p *Pipeline) Run(ctx context.Context, query model.Query) {
	var driftQuality *float64

	if query.Status != model.QueryStatusError {
		traceStage(ctx, "drift", query.QueryID, func(ctx context.Context) {
			driftQuality = p.runDrift(ctx, query)
		})
	}

	var classifiableErr string
	if query.Status == model.QueryStatusSuccess && query.GeneratedSQL != nil {
		traceStage(ctx, "evaluation", query.QueryID, func(ctx context.Context) {
			classifiableErr = p.runEvaluation(ctx, query, driftQuality)
		})
	}

	traceStage(ctx, "error_classification", query.QueryID, func(ctx context.Context) {
		p.runErrorClassification(ctx, query, classifiableErr)
	})
}

// runDrift is stage 1 and returns the drift-quality value (1 - drift_score)
// for the path-B evaluator to reuse, or nil if drift couldn't be computed.
func (p *Pipeline) runDrift(ctx context.Context, query model.Query) *float64 {
	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	result, err := p.drift.Detect(ctx, query.AgentType, query.QueryText)
	if err != nil {
		p.logger.Error("pipeline: drift stage failed", "query_id", query.QueryID, "error", err)
		return nil
	}

	record := model.DriftRecord{
		QueryID:              query.QueryID,
		DriftScore:           result.DriftScore,
		DriftClassification:  result.Classification,
		SimilarityToBaseline: result.Similarity,
		IsAnomaly:            result.IsAnomaly,
		CreatedAt:            time.Now().UTC(),
	}
	if result.HasEmbedding {
		record.QueryEmbedding = &result.Embedding
	}
	if err := persistWithRetry(ctx, func() error { return p.db.UpsertDriftRecord(ctx, record) }); err != nil {
		p.logger.Error("pipeline: persist drift record failed", "query_id", query.QueryID, "error", err)
	}

	quality := driftQualityFrom(result)
	if quality != nil && result.IsAnomaly {
		if err := p.alerter.HighDrift(ctx, query.AgentType, query.QueryID, result.DriftScore); err != nil {
			p.logger.Error("pipeline: high drift alert failed", "query_id", query.QueryID, "error", err)
		}
	}
	return quality
}

// driftQualityFrom converts a drift result into the quality value (1 -
// drift_score) path B reuses, or nil when no meaningful score exists
// (no baseline yet, or a dimension mismatch)
func driftQualityFrom(result drift.Result) *float64 {
	if result.Classification == model.DriftNoBaseline || result.Classification == model.DriftDimensionMismatch {
		return nil
	}
	q := 1 - result.DriftScore
	return &q
}

// runEvaluation is stage 2. It returns the raw structural-validator error
// text when preprocessing rejected the SQL outright, so stage 3 can
// classify it even though the event itself reported success.
func (p *Pipeline) runEvaluation(ctx context.Context, query model.Query, driftQuality *float64) string {
	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	agent, err := p.db.GetAgentByName(ctx, query.AgentType)
	if err != nil {
		p.logger.Error("pipeline: evaluation stage: load agent failed", "query_id", query.QueryID, "agent", query.AgentType, "error", err)
		return ""
	}

	result, err := p.evaluator.Evaluate(ctx, agent, query, driftQuality)
	if err != nil {
		p.logger.Error("pipeline: evaluation stage failed", "query_id", query.QueryID, "error", err)
		return ""
	}

	if err := persistWithRetry(ctx, func() error { return p.db.UpsertEvaluation(ctx, result.Eval) }); err != nil {
		p.logger.Error("pipeline: persist evaluation failed", "query_id", query.QueryID, "error", err)
	}

	return result.ClassifiableErrorText
}

// runErrorClassification is stage 3: always run when the event reported an
// error with a message, or when the evaluator surfaced a classifiable
// structural error.
func (p *Pipeline) runErrorClassification(ctx context.Context, query model.Query, structuralErrText string) {
	errText := structuralErrText
	if errText == "" && query.Status == model.QueryStatusError && query.ErrorMessage != nil {
		errText = *query.ErrorMessage
	}
	if errText == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	record := buildErrorRecord(query.QueryID, errText)
	if err := persistWithRetry(ctx, func() error { return p.db.UpsertErrorRecord(ctx, record) }); err != nil {
		p.logger.Error("pipeline: persist error record failed", "query_id", query.QueryID, "error", err)
	}
}

// buildErrorRecord classifies errText and shapes it into the ErrorRecord
// the errors table expects; split out from runErrorClassification so the
// classification wiring is testable without a database.
func buildErrorRecord(queryID, errText string) model.ErrorRecord {
	classification := errorclass.Classify(errText)
	return model.ErrorRecord{
		QueryID:       queryID,
		ErrorCategory: classification.Category,
		Subcategory:   classification.Subcategory,
		Severity:      classification.Severity,
		ErrorMessage:  errText,
		SuggestedFix:  classification.SuggestedFix,
	}
}

// Dispatch runs one event in a detached goroutine with its own bounded
// context, decoupled from the HTTP request that enqueued it
// detachedCtx should carry no request-scoped cancellation (e.g.
// context.Background() with a tracing span reparented, if any).
func Dispatch(detachedCtx context.Context, p *Pipeline, query model.Query) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pipeline: recovered from panic", "query_id", query.QueryID, "panic", fmt.Sprint(r))
			}
		}()
		p.Run(detachedCtx, query)
	}()
}
