package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes referenced by repositories.
const (
	CodeUniqueViolation      = "23505"
	CodeLockNotAvailable     = "55P03"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeQueryCanceled        = "57014"
)

// ErrConcurrencyConflict marks a transaction that lost a lock race and may be retried from scratch.
var ErrConcurrencyConflict = errors.New("platform/db: concurrency conflict")

// Classify tags lock timeouts, serialization failures and deadlocks with ErrConcurrencyConflict.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	switch SQLState(err) {
	case CodeLockNotAvailable, CodeSerializationFailure, CodeDeadlockDetected:
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	return err
}

// SQLState extracts the PostgreSQL error code, or "" when err is not a server error.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return SQLState(err) == CodeUniqueViolation
}
