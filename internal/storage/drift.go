package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// UpsertDriftRecord writes or replaces the 1:1 drift row for a query_id.
// Re-running drift detection for the same event (at-least-once delivery) is
// idempotent.
func (db *DB) UpsertDriftRecord(ctx context.Context, d model.DriftRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.drift_monitoring (query_id, query_embedding, drift_score, drift_classification, similarity_to_baseline, is_anomaly, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (query_id) DO UPDATE SET
		   query_embedding = EXCLUDED.query_embedding, drift_score = EXCLUDED.drift_score,
		   drift_classification = EXCLUDED.drift_classification, similarity_to_baseline = EXCLUDED.similarity_to_baseline,
		   is_anomaly = EXCLUDED.is_anomaly`,
		d.QueryID, d.QueryEmbedding, d.DriftScore, d.DriftClassification, d.SimilarityToBaseline, d.IsAnomaly, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert drift record: %w", err)
	}
	return nil
}

// GetDriftRecord loads the drift row for one query_id.
func (db *DB) GetDriftRecord(ctx context.Context, queryID string) (model.DriftRecord, error) {
	var d model.DriftRecord
	var emb *pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, query_embedding, drift_score, drift_classification, similarity_to_baseline, is_anomaly, created_at
		 FROM monitoring.drift_monitoring WHERE query_id = $1`, queryID).
		Scan(&d.QueryID, &emb, &d.DriftScore, &d.DriftClassification, &d.SimilarityToBaseline, &d.IsAnomaly, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DriftRecord{}, ErrNotFound
	}
	if err != nil {
		return model.DriftRecord{}, fmt.Errorf("storage: get drift record: %w", err)
	}
	d.QueryEmbedding = emb
	return d, nil
}

// DriftBandCounts is the distribution of drift_classification values within
// a window, used by the read API's drift aggregation endpoint.
type DriftBandCounts struct {
	Normal            int
	Medium            int
	High              int
	NoBaseline        int
	DimensionMismatch int
	AnomalyCount      int
}

// DriftBandDistribution tallies classifications for an agent_type (all
// agents when empty) across all recorded drift rows, with no time window.
func (db *DB) DriftBandDistribution(ctx context.Context, agentType string) (DriftBandCounts, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT d.drift_classification, COUNT(*), COUNT(*) FILTER (WHERE d.is_anomaly)
		 FROM monitoring.drift_monitoring d
		 JOIN monitoring.queries q ON q.query_id = d.query_id
		 WHERE ($1 = '' OR q.agent_type = $1)
		 GROUP BY d.drift_classification`, agentType)
	if err != nil {
		return DriftBandCounts{}, fmt.Errorf("storage: drift band distribution: %w", err)
	}
	defer rows.Close()

	var out DriftBandCounts
	for rows.Next() {
		var class model.DriftClassification
		var count, anomalies int
		if err := rows.Scan(&class, &count, &anomalies); err != nil {
			return DriftBandCounts{}, fmt.Errorf("storage: scan drift band row: %w", err)
		}
		out.AnomalyCount += anomalies
		switch class {
		case model.DriftNormal:
			out.Normal = count
		case model.DriftMedium:
			out.Medium = count
		case model.DriftHigh:
			out.High = count
		case model.DriftNoBaseline:
			out.NoBaseline = count
		case model.DriftDimensionMismatch:
			out.DimensionMismatch = count
		}
	}
	return out, rows.Err()
}

// HighDriftSample is one row of the read API's top-N high-drift listing,
// joined with the originating query text and SQL.
type HighDriftSample struct {
	QueryID      string
	QueryText    string
	GeneratedSQL *string
	AgentType    string
	DriftScore   float64
	CreatedAt    string
}

// TopHighDriftSamples returns the n most recent high-drift queries for
// agentType (all agents when empty), joined with query text/SQL.
func (db *DB) TopHighDriftSamples(ctx context.Context, agentType string, n int) ([]HighDriftSample, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT d.query_id, q.query_text, q.generated_sql, q.agent_type, d.drift_score, d.created_at::text
		 FROM monitoring.drift_monitoring d
		 JOIN monitoring.queries q ON q.query_id = d.query_id
		 WHERE d.drift_classification = 'high' AND ($1 = '' OR q.agent_type = $1)
		 ORDER BY d.created_at DESC LIMIT $2`, agentType, n)
	if err != nil {
		return nil, fmt.Errorf("storage: top high drift samples: %w", err)
	}
	defer rows.Close()

	var out []HighDriftSample
	for rows.Next() {
		var s HighDriftSample
		if err := rows.Scan(&s.QueryID, &s.QueryText, &s.GeneratedSQL, &s.AgentType, &s.DriftScore, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan high drift sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailyDriftTrend is one day's mean drift score, for the read API trend chart.
type DailyDriftTrend struct {
	Day          string
	AvgDriftScore float64
	Count        int
}

// DailyDriftTrend returns the mean drift score per day over the last n days.
func (db *DB) DailyDriftTrend(ctx context.Context, agentType string, days int) ([]DailyDriftTrend, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT date_trunc('day', d.created_at)::date::text AS day, AVG(d.drift_score), COUNT(*)
		 FROM monitoring.drift_monitoring d
		 JOIN monitoring.queries q ON q.query_id = d.query_id
		 WHERE q.created_at > now() - make_interval(days => $2) AND ($1 = '' OR q.agent_type = $1)
		 GROUP BY day ORDER BY day`, agentType, days)
	if err != nil {
		return nil, fmt.Errorf("storage: daily drift trend: %w", err)
	}
	defer rows.Close()

	var out []DailyDriftTrend
	for rows.Next() {
		var t DailyDriftTrend
		if err := rows.Scan(&t.Day, &t.AvgDriftScore, &t.Count); err != nil {
			return nil, fmt.Errorf("storage: scan daily drift trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
