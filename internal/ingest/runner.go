package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// PgRunner runs each chunk in a read-committed transaction and each row in a
// savepoint, so a failed statement does not poison the chunk.
type PgRunner struct {
	pool *pgxpool.Pool
}

// NewPgRunner constructs PgRunner.
func NewPgRunner(pool *pgxpool.Pool) *PgRunner {
	return &PgRunner{pool: pool}
}

// InChunk implements Runner.
func (r *PgRunner) InChunk(ctx context.Context, fn func(ctx context.Context, chunk Chunk) error) error {
	opts := db.TxOptions{IsoLevel: pgx.ReadCommitted, Name: "ingest_chunk"}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &pgChunk{tx: tx})
	})
}

type pgChunk struct {
	tx pgx.Tx
}

func (c *pgChunk) Row(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	sp, err := c.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: savepoint: %w", ErrChunkAborted, err)
	}
	if err := fn(ctx, sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w: rollback savepoint: %w", ErrChunkAborted, rbErr)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("%w: release savepoint: %w", ErrChunkAborted, err)
	}
	return nil
}
