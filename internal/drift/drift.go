// Package drift computes an agent's query-embedding baseline and classifies
// new queries against it by cosine similarity.
package drift

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/sqlsentry/internal/embedding"
	"github.com/ashita-ai/sqlsentry/internal/model"
	"github.com/ashita-ai/sqlsentry/internal/storage"
)

// Detector builds and evaluates drift baselines.
type Detector struct {
	db            *storage.DB
	embedder      embedding.Provider
	highThreshold float64
	medThreshold  float64
}

// New builds a Detector. highThreshold/medThreshold are DRIFT_HIGH_THRESHOLD
// and DRIFT_MEDIUM_THRESHOLD (similarity distances, not similarities).
func New(db *storage.DB, embedder embedding.Provider, highThreshold, medThreshold float64) *Detector {
	return &Detector{db: db, embedder: embedder, highThreshold: highThreshold, medThreshold: medThreshold}
}

// CreateBaseline embeds every query in queries, averages the vectors into a
// centroid, and persists it as the next version for agentType. Replaces the
// prior version only in the sense that GetLatestBaseline always returns the
// highest version — older rows are retained for history, never mutated.
func (d *Detector) CreateBaseline(ctx context.Context, agentType string, queries []string) error {
	if len(queries) == 0 {
		return fmt.Errorf("drift: cannot build baseline from zero queries")
	}

	vecs, err := d.embedder.EmbedBatch(ctx, queries)
	if err != nil {
		return fmt.Errorf("drift: embed baseline queries: %w", err)
	}

	centroid := mean(vecs)

	version, err := d.db.NextBaselineVersion(ctx, agentType)
	if err != nil {
		return fmt.Errorf("drift: next baseline version: %w", err)
	}

	return d.db.CreateBaseline(ctx, model.Baseline{
		AgentType:         agentType,
		Version:           version,
		CentroidEmbedding: pgvector.NewVector(centroid),
		NumQueries:        len(queries),
		CreatedAt:         time.Now().UTC(),
	})
}

// Result is the outcome of comparing one query to an agent's baseline.
type Result struct {
	Embedding      pgvector.Vector
	HasEmbedding   bool
	DriftScore     float64
	Classification model.DriftClassification
	Similarity     *float64
	IsAnomaly      bool
}

// Detect embeds queryText and classifies it against agentType's latest
// baseline. A missing baseline or a dimension mismatch between the stored
// centroid and the current embedding provider are reported as distinct
// classifications rather than errors.
func (d *Detector) Detect(ctx context.Context, agentType, queryText string) (Result, error) {
	vec, err := d.embedder.Embed(ctx, queryText)
	if err != nil {
		return Result{}, fmt.Errorf("drift: embed query: %w", err)
	}

	baseline, err := d.db.GetLatestBaseline(ctx, agentType)
	if err != nil {
		if err == storage.ErrNotFound {
			return Result{Embedding: vec, HasEmbedding: true, Classification: model.DriftNoBaseline}, nil
		}
		return Result{}, fmt.Errorf("drift: get latest baseline: %w", err)
	}

	queryDims := len(vec.Slice())
	baselineDims := len(baseline.CentroidEmbedding.Slice())
	if queryDims != baselineDims {
		return Result{Embedding: vec, HasEmbedding: true, Classification: model.DriftDimensionMismatch}, nil
	}

	sim := cosineSimilarity(vec.Slice(), baseline.CentroidEmbedding.Slice())
	score := 1 - sim

	class := model.DriftNormal
	anomaly := false
	if sim < 1-d.highThreshold {
		class = model.DriftHigh
		anomaly = true
	} else if sim < 1-d.medThreshold {
		class = model.DriftMedium
	}

	return Result{
		Embedding:      vec,
		HasEmbedding:   true,
		DriftScore:     score,
		Classification: class,
		Similarity:     &sim,
		IsAnomaly:      anomaly,
	}, nil
}

func mean(vecs []pgvector.Vector) []float32 {
	dims := len(vecs[0].Slice())
	sum := make([]float64, dims)
	for _, v := range vecs {
		s := v.Slice()
		for i, x := range s {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dims)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vecs)))
	}
	return out
}

// cosineSimilarity returns the cosine of the angle between a and b. Equal
// length is assumed; callers must check dimensions first (the whole point
// of the dimension-mismatch classification).
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
