package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// UpsertEvaluation writes or replaces the 1:1 evaluation row for a query_id.
func (db *DB) UpsertEvaluation(ctx context.Context, e model.Evaluation) error {
	data, err := json.Marshal(e.EvaluationData)
	if err != nil {
		return fmt.Errorf("storage: marshal evaluation_data: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO monitoring.evaluations (query_id, structural_score, semantic_score, llm_score, final_score, confidence, result, reasoning, evaluation_data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (query_id) DO UPDATE SET
		   structural_score = EXCLUDED.structural_score, semantic_score = EXCLUDED.semantic_score,
		   llm_score = EXCLUDED.llm_score, final_score = EXCLUDED.final_score, confidence = EXCLUDED.confidence,
		   result = EXCLUDED.result, reasoning = EXCLUDED.reasoning, evaluation_data = EXCLUDED.evaluation_data`,
		e.QueryID, e.StructuralScore, e.SemanticScore, e.LLMScore, e.FinalScore, e.Confidence, e.Result, e.Reasoning, data, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation loads the evaluation row for one query_id.
func (db *DB) GetEvaluation(ctx context.Context, queryID string) (model.Evaluation, error) {
	var e model.Evaluation
	var data []byte
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, structural_score, semantic_score, llm_score, final_score, confidence, result, reasoning, evaluation_data, created_at
		 FROM monitoring.evaluations WHERE query_id = $1`, queryID).
		Scan(&e.QueryID, &e.StructuralScore, &e.SemanticScore, &e.LLMScore, &e.FinalScore, &e.Confidence, &e.Result, &e.Reasoning, &data, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Evaluation{}, ErrNotFound
	}
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("storage: get evaluation: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.EvaluationData); err != nil {
			return model.Evaluation{}, fmt.Errorf("storage: unmarshal evaluation_data: %w", err)
		}
	}
	return e, nil
}

// EvalMetricsRow aggregates evaluation counts for one group (overall or per
// agent), used by the read API metrics endpoint.
type EvalMetricsRow struct {
	AgentType  string
	Total      int
	Pass       int
	Fail       int
	ErrorCount int
	AvgScore   float64
}

// EvalMetricsOverall aggregates across all evaluations for agentType (all
// agents when empty).
func (db *DB) EvalMetricsOverall(ctx context.Context, agentType string) (EvalMetricsRow, error) {
	var row EvalMetricsRow
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE e.result = 'PASS'),
		        COUNT(*) FILTER (WHERE e.result = 'FAIL'),
		        COUNT(*) FILTER (WHERE e.result = 'ERROR'),
		        COALESCE(AVG(e.final_score), 0)
		 FROM monitoring.evaluations e
		 JOIN monitoring.queries q ON q.query_id = e.query_id
		 WHERE ($1 = '' OR q.agent_type = $1)`, agentType).
		Scan(&row.Total, &row.Pass, &row.Fail, &row.ErrorCount, &row.AvgScore)
	if err != nil {
		return EvalMetricsRow{}, fmt.Errorf("storage: eval metrics overall: %w", err)
	}
	return row, nil
}

// EvalMetricsPerAgent breaks EvalMetricsOverall down by agent_type.
func (db *DB) EvalMetricsPerAgent(ctx context.Context) ([]EvalMetricsRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.agent_type, COUNT(*),
		        COUNT(*) FILTER (WHERE e.result = 'PASS'),
		        COUNT(*) FILTER (WHERE e.result = 'FAIL'),
		        COUNT(*) FILTER (WHERE e.result = 'ERROR'),
		        COALESCE(AVG(e.final_score), 0)
		 FROM monitoring.evaluations e
		 JOIN monitoring.queries q ON q.query_id = e.query_id
		 GROUP BY q.agent_type ORDER BY q.agent_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: eval metrics per agent: %w", err)
	}
	defer rows.Close()

	var out []EvalMetricsRow
	for rows.Next() {
		var r EvalMetricsRow
		if err := rows.Scan(&r.AgentType, &r.Total, &r.Pass, &r.Fail, &r.ErrorCount, &r.AvgScore); err != nil {
			return nil, fmt.Errorf("storage: scan eval metrics row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EvalDailyTrend is one day's pass-rate point for the 7-day trend chart.
type EvalDailyTrend struct {
	Day      string
	Total    int
	PassRate float64
}

// SevenDayTrend returns daily evaluation counts and pass rate over the last
// 7 days for agentType (all agents when empty).
func (db *DB) SevenDayTrend(ctx context.Context, agentType string) ([]EvalDailyTrend, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT date_trunc('day', e.created_at)::date::text AS day, COUNT(*),
		        COALESCE(COUNT(*) FILTER (WHERE e.result = 'PASS')::float8 / NULLIF(COUNT(*), 0), 0)
		 FROM monitoring.evaluations e
		 JOIN monitoring.queries q ON q.query_id = e.query_id
		 WHERE e.created_at > now() - interval '7 days' AND ($1 = '' OR q.agent_type = $1)
		 GROUP BY day ORDER BY day`, agentType)
	if err != nil {
		return nil, fmt.Errorf("storage: seven day trend: %w", err)
	}
	defer rows.Close()

	var out []EvalDailyTrend
	for rows.Next() {
		var t EvalDailyTrend
		if err := rows.Scan(&t.Day, &t.Total, &t.PassRate); err != nil {
			return nil, fmt.Errorf("storage: scan seven day trend row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
