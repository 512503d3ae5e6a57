// Package storage provides the PostgreSQL storage layer for the platform.
//
// It manages connection pooling via pgxpool, registers pgvector codecs for
// embedding columns, and exposes query methods for the platform and
// monitoring schemas.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/ashita-ai/sqlsentry/internal/telemetry"
)

// DB wraps a pgxpool.Pool for all platform-metadata queries.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool sized per the platform's
// resource model (min 1 / max 20).
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 20

	// Register pgvector types on each new connection. Best-effort: if the
	// vector extension hasn't been created yet, subsequent connections
	// succeed once migrations run.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := &DB{pool: pool, logger: logger}
	db.registerMetrics()
	return db, nil
}

// registerMetrics registers observable OTEL gauges for pool health, mirroring
// an outbox-depth gauge pattern elsewhere in the stack: an async callback
// sampled on each metric export rather than a counter updated per query.
func (db *DB) registerMetrics() {
	meter := telemetry.Meter("sqlsentry/storage")

	_, _ = meter.Int64ObservableGauge("sqlsentry.db.pool.acquired_conns",
		metric.WithDescription("Connections currently leased out of the pool"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("sqlsentry.db.pool.idle_conns",
		metric.WithDescription("Connections currently idle in the pool"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("sqlsentry.db.pool.total_conns",
		metric.WithDescription("Total connections currently open in the pool"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
