package postgres

import (
	"database/sql/driver"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// isDuplicateKey reports a unique-constraint violation from either driver.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// isTransient classifies errors worth a backoff retry: dropped connections,
// serialization failures, deadlocks, and lock timeouts. Constraint and
// syntax errors are permanent and fail immediately.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	code := sqlStateOf(err)
	if code == "" {
		return false
	}
	switch code {
	case "40001", "40P01", "55P03", "57014":
		return true
	}
	// Class 08: connection exceptions.
	return len(code) == 5 && code[:2] == "08"
}

func sqlStateOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
