package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

// CreateBaseline inserts a new baseline version for agentType. Versions are
// monotonically increasing per agent; the caller computes the next version
// (NextBaselineVersion) so upserts never collide.
func (db *DB) CreateBaseline(ctx context.Context, b model.Baseline) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.baseline (agent_type, version, centroid_embedding, num_queries, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		b.AgentType, b.Version, b.CentroidEmbedding, b.NumQueries, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create baseline: %w", err)
	}
	return nil
}

// NextBaselineVersion returns the version number one greater than the
// current maximum for agentType (1 if none exists).
func (db *DB) NextBaselineVersion(ctx context.Context, agentType string) (int, error) {
	var maxVersion *int
	err := db.pool.QueryRow(ctx, `SELECT MAX(version) FROM monitoring.baseline WHERE agent_type = $1`, agentType).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("storage: next baseline version: %w", err)
	}
	if maxVersion == nil {
		return 1, nil
	}
	return *maxVersion + 1, nil
}

// GetLatestBaseline returns the highest-version baseline for agentType.
// Only this version is ever used by drift detection.
func (db *DB) GetLatestBaseline(ctx context.Context, agentType string) (model.Baseline, error) {
	var b model.Baseline
	var emb pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT agent_type, version, centroid_embedding, num_queries, created_at
		 FROM monitoring.baseline WHERE agent_type = $1 ORDER BY version DESC LIMIT 1`, agentType).
		Scan(&b.AgentType, &b.Version, &emb, &b.NumQueries, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Baseline{}, ErrNotFound
	}
	if err != nil {
		return model.Baseline{}, fmt.Errorf("storage: get latest baseline: %w", err)
	}
	b.CentroidEmbedding = emb
	return b, nil
}
