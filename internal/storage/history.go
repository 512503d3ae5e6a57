package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// HistoryRow is one deduplicated join of a query with its derived rows, for
// the read API history endpoint.
type HistoryRow struct {
	Query      model.Query
	Evaluation *model.Evaluation
	Drift      *model.DriftRecord
	ErrorCount int
}

// History returns the most recent n telemetry events for agentType (all
// agents when empty), left-joined with their evaluation and drift rows.
// Errors are summarized to a count rather than fully joined, since a query
// can have multiple error rows (one per category/subcategory).
func (db *DB) History(ctx context.Context, agentType string, limit int) ([]HistoryRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.query_id, q.query_text, q.agent_type, q.status, q.generated_sql, q.error_message, q.execution_time_ms, q.created_at,
		        e.structural_score, e.semantic_score, e.llm_score, e.final_score, e.confidence, e.result, e.reasoning, e.evaluation_data,
		        d.drift_score, d.drift_classification, d.similarity_to_baseline, d.is_anomaly,
		        (SELECT COUNT(*) FROM monitoring.errors er WHERE er.query_id = q.query_id)
		 FROM monitoring.queries q
		 LEFT JOIN monitoring.evaluations e ON e.query_id = q.query_id
		 LEFT JOIN monitoring.drift_monitoring d ON d.query_id = q.query_id
		 WHERE ($1 = '' OR q.agent_type = $1)
		 ORDER BY q.created_at DESC LIMIT $2`, agentType, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var hr HistoryRow
		var structScore, semScore, llmScore, finalScore, confidence *float64
		var result *model.EvaluationResult
		var reasoning *string
		var evalData []byte
		var driftScore *float64
		var driftClass *model.DriftClassification
		var simToBaseline *float64
		var isAnomaly *bool

		if err := rows.Scan(
			&hr.Query.QueryID, &hr.Query.QueryText, &hr.Query.AgentType, &hr.Query.Status, &hr.Query.GeneratedSQL, &hr.Query.ErrorMessage, &hr.Query.ExecutionTimeMs, &hr.Query.CreatedAt,
			&structScore, &semScore, &llmScore, &finalScore, &confidence, &result, &reasoning, &evalData,
			&driftScore, &driftClass, &simToBaseline, &isAnomaly,
			&hr.ErrorCount,
		); err != nil {
			return nil, fmt.Errorf("storage: scan history row: %w", err)
		}

		if result != nil {
			ev := &model.Evaluation{
				QueryID: hr.Query.QueryID, StructuralScore: *structScore, SemanticScore: *semScore,
				LLMScore: *llmScore, FinalScore: *finalScore, Confidence: *confidence, Result: *result, Reasoning: *reasoning,
			}
			if len(evalData) > 0 {
				_ = json.Unmarshal(evalData, &ev.EvaluationData)
			}
			hr.Evaluation = ev
		}
		if driftClass != nil {
			hr.Drift = &model.DriftRecord{
				QueryID: hr.Query.QueryID, DriftScore: *driftScore, DriftClassification: *driftClass,
				SimilarityToBaseline: simToBaseline, IsAnomaly: *isAnomaly,
			}
		}
		out = append(out, hr)
	}
	return out, rows.Err()
}

// RunDetail is the full per-query record returned by the run-detail endpoint.
type RunDetail struct {
	Query      model.Query
	Evaluation *model.Evaluation
	Drift      *model.DriftRecord
	Errors     []model.ErrorRecord
}

// GetRunDetail assembles the complete record for one query_id.
func (db *DB) GetRunDetail(ctx context.Context, queryID string) (RunDetail, error) {
	q, err := db.GetQuery(ctx, queryID)
	if err != nil {
		return RunDetail{}, err
	}
	detail := RunDetail{Query: q}

	if e, err := db.GetEvaluation(ctx, queryID); err == nil {
		detail.Evaluation = &e
	} else if !errors.Is(err, ErrNotFound) {
		return RunDetail{}, err
	}

	if d, err := db.GetDriftRecord(ctx, queryID); err == nil {
		detail.Drift = &d
	} else if !errors.Is(err, ErrNotFound) {
		return RunDetail{}, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, query_id, error_category, subcategory, severity, error_message, suggested_fix, first_seen, last_seen, frequency_count
		 FROM monitoring.errors WHERE query_id = $1 ORDER BY last_seen DESC`, queryID)
	if err != nil {
		return RunDetail{}, fmt.Errorf("storage: run detail errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ErrorRecord
		if err := rows.Scan(&e.ID, &e.QueryID, &e.ErrorCategory, &e.Subcategory, &e.Severity, &e.ErrorMessage, &e.SuggestedFix, &e.FirstSeen, &e.LastSeen, &e.FrequencyCount); err != nil {
			return RunDetail{}, fmt.Errorf("storage: scan run detail error: %w", err)
		}
		detail.Errors = append(detail.Errors, e)
	}
	if err := rows.Err(); err != nil {
		return RunDetail{}, err
	}

	return detail, nil
}
