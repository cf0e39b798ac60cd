package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

const movementColumns = "id, variant_id, kind, quantity, note, actor_id, ref_module, ref_id, reversal_of, state, voided_at, created_at"

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// GetStock reads the projection without locking it.
	GetStock(ctx context.Context, variantID int64) (VariantStock, error)
	// GetStockForUpdate creates the projection row when missing and locks it until commit.
	GetStockForUpdate(ctx context.Context, variantID int64) (VariantStock, error)
	UpsertStock(ctx context.Context, stock VariantStock) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	MarkVoided(ctx context.Context, id int64, at time.Time) error
	SumActive(ctx context.Context, variantID int64) (int64, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	builder     sq.StatementBuilderType
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{
		pool:        pool,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		lockTimeout: lockTimeout,
	}
}

// LockTimeout returns the row lock wait applied to ledger transactions.
func (r *Repository) LockTimeout() time.Duration {
	return r.lockTimeout
}

// WithTx executes the callback inside a read-committed transaction with a lock timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, db.LedgerTxOptions(r.lockTimeout), func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// CurrentStock reads the projection outside any transaction.
func (r *Repository) CurrentStock(ctx context.Context, variantID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT quantity FROM variant_stocks WHERE variant_id=$1`, variantID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrStockNotFound
	}
	return qty, err
}

// ListMovements returns history filtered by variant, kind and time window.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	q := r.builder.Select(movementColumns).
		From("stock_movements").
		Where(sq.Eq{"variant_id": filter.VariantID}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(filter.Limit))
	if filter.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(filter.Kind)})
	}
	if !filter.IncludeVoided {
		q = q.Where(sq.Eq{"state": string(StateActive)})
	}
	if !filter.From.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(sq.LtOrEq{"created_at": filter.To})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build movement query: %w", err)
	}
	movements := []Movement{}
	if err := pgxscan.Select(ctx, r.pool, &movements, sql, args...); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListVariantIDs returns every variant that has a projection row or a movement.
func (r *Repository) ListVariantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := pgxscan.Select(ctx, r.pool, &ids, `SELECT variant_id FROM variant_stocks
UNION
SELECT DISTINCT variant_id FROM stock_movements
ORDER BY 1`)
	return ids, err
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds ledger statements to an open transaction so other
// modules can post movements atomically with their own writes.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) GetStock(ctx context.Context, variantID int64) (VariantStock, error) {
	var stock VariantStock
	err := pgxscan.Get(ctx, r.q, &stock, `SELECT variant_id, quantity, updated_at FROM variant_stocks WHERE variant_id=$1`, variantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return VariantStock{VariantID: variantID}, ErrStockNotFound
		}
		return VariantStock{}, err
	}
	return stock, nil
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, variantID int64) (VariantStock, error) {
	if _, err := r.q.Exec(ctx, `INSERT INTO variant_stocks (variant_id, quantity, updated_at) VALUES ($1, 0, NOW())
ON CONFLICT (variant_id) DO NOTHING`, variantID); err != nil {
		return VariantStock{}, db.Classify(err)
	}
	var stock VariantStock
	err := pgxscan.Get(ctx, r.q, &stock, `SELECT variant_id, quantity, updated_at FROM variant_stocks WHERE variant_id=$1 FOR UPDATE`, variantID)
	if err != nil {
		return VariantStock{}, db.Classify(err)
	}
	return stock, nil
}

func (r *txRepository) UpsertStock(ctx context.Context, stock VariantStock) error {
	_, err := r.q.Exec(ctx, `INSERT INTO variant_stocks (variant_id, quantity, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (variant_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=EXCLUDED.updated_at`, stock.VariantID, stock.Quantity, stock.UpdatedAt)
	return db.Classify(err)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_movements (variant_id, kind, quantity, note, actor_id, ref_module, ref_id, reversal_of, state, voided_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.VariantID, string(m.Kind), m.Quantity, m.Note, m.ActorID, m.RefModule, m.RefID, m.ReversalOf, string(m.State), m.VoidedAt, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Movement{}, db.Classify(err)
	}
	return m, nil
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	var m Movement
	err := pgxscan.Get(ctx, r.q, &m, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, db.Classify(err)
	}
	return m, nil
}

func (r *txRepository) MarkVoided(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_movements SET state=$2, voided_at=$3 WHERE id=$1 AND state=$4`, id, string(StateVoided), at, string(StateActive))
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyVoided
	}
	return nil
}

func (r *txRepository) SumActive(ctx context.Context, variantID int64) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN kind='OUT' THEN -quantity ELSE quantity END), 0)::BIGINT
FROM stock_movements WHERE variant_id=$1 AND state='active'`, variantID).Scan(&sum)
	return sum, err
}
