package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert collides with a uniqueness
// constraint the caller can act on — a taken agent name, a replayed
// query_id. Callers map it to a conflict response instead of a 500.
var ErrDuplicate = errors.New("storage: duplicate")

// isUniqueViolation reports whether err is Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
