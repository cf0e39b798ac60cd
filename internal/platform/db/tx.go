package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("odyssey-stock/db")

// TxOptions tunes a single transaction.
type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds how long a statement waits for a row lock. Zero keeps the server default.
	LockTimeout time.Duration
	// Name labels the tracing span.
	Name string
}

// LedgerTxOptions are used by every transaction that mutates variant stock.
// Read committed lets a writer blocked on FOR UPDATE see the committed row once the lock is granted.
func LedgerTxOptions(lockTimeout time.Duration) TxOptions {
	return TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout, Name: "ledger"}
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxOptions executes fn inside a transaction and commits when fn succeeds.
// Any error, including a cancelled context, rolls the whole transaction back.
func WithTxOptions(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(pgx.Tx) error) (err error) {
	name := opts.Name
	if name == "" {
		name = "tx"
	}
	ctx, span := tracer.Start(ctx, "db."+name, trace.WithAttributes(
		attribute.String("db.tx.isolation", string(opts.IsoLevel)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel})
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		// Background context so the rollback still reaches the server after cancellation.
		_ = tx.Rollback(context.Background())
	}()

	if opts.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())); err != nil {
			return Classify(fmt.Errorf("platform/db: set lock_timeout: %w", err))
		}
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}
