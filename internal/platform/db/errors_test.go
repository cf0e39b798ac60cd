package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyConcurrencyCodes(t *testing.T) {
	for _, code := range []string{CodeLockNotAvailable, CodeSerializationFailure, CodeDeadlockDetected} {
		err := Classify(fmt.Errorf("lock row: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, ErrConcurrencyConflict, code)
		require.Equal(t, code, SQLState(err))
	}
}

func TestClassifyPassThrough(t *testing.T) {
	plain := errors.New("boom")
	require.Same(t, plain, Classify(plain))
	require.NoError(t, Classify(nil))

	unique := &pgconn.PgError{Code: CodeUniqueViolation}
	require.NotErrorIs(t, Classify(unique), ErrConcurrencyConflict)
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique)))
}

func TestClassifyIsIdempotent(t *testing.T) {
	err := Classify(&pgconn.PgError{Code: CodeDeadlockDetected})
	require.Equal(t, err, Classify(err))
}
