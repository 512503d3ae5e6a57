package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// transientPgCodes are the SQLSTATEs the background pipeline treats as
// retriable. Concurrent per-event pipelines upsert into the monitoring
// tables at the same time, so serialization failures and deadlocks are
// expected under load; 57P03 shows up during a failover while the platform
// pool reconnects.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P03": true, // cannot_connect_now
}

// isTransient reports whether err is a Postgres error worth retrying:
// one of transientPgCodes, or any connection_exception (class 08 —
// the connection died mid-statement).
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if strings.HasPrefix(pgErr.Code, "08") {
		return true
	}
	return transientPgCodes[pgErr.Code]
}

// WithRetry runs fn, retrying transient Postgres failures up to maxRetries
// times with jittered exponential backoff starting at baseDelay. Permanent
// errors and nil pass straight through. Meant for the pipeline's derived-row
// upserts, where an event is cheap to re-apply and losing it to a deadlock
// is not.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt == maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // backoff jitter, not a secret
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
