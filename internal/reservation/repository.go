package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

const reservationColumns = "order_id, status, actor_id, confirmed_at, cancelled_at, updated_at"

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// Ledger returns the ledger statements bound to the same transaction.
	Ledger() ledger.TxRepository
	// LockReservation creates a pending marker when missing and locks it until commit.
	LockReservation(ctx context.Context, orderID int64) (Reservation, error)
	SaveReservation(ctx context.Context, res Reservation) error
	ListOrderLines(ctx context.Context, orderID int64) ([]Line, error)
	ListLines(ctx context.Context, orderID int64) ([]ReservedLine, error)
	SaveLines(ctx context.Context, orderID int64, lines []ReservedLine) error
}

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx executes fn inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservation repository not initialised")
	}
	opts := db.LedgerTxOptions(r.lockTimeout)
	opts.Name = "reservation"
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, ledger: ledger.NewTxRepository(tx)})
	})
}

// GetReservation loads the marker and its lines. Orders never touched report pending.
func (r *Repository) GetReservation(ctx context.Context, orderID int64) (Reservation, error) {
	var res Reservation
	err := pgxscan.Get(ctx, r.pool, &res, `SELECT `+reservationColumns+` FROM order_stock_reservations WHERE order_id=$1`, orderID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Reservation{OrderID: orderID, Status: StatusPending}, nil
		}
		return Reservation{}, err
	}
	lines := []ReservedLine{}
	if err := pgxscan.Select(ctx, r.pool, &lines, `SELECT variant_id, quantity, out_movement_id, in_movement_id
FROM order_stock_reservation_lines WHERE order_id=$1 ORDER BY variant_id`, orderID); err != nil {
		return Reservation{}, err
	}
	res.Lines = lines
	return res, nil
}

type txRepository struct {
	q      pgx.Tx
	ledger ledger.TxRepository
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

func (r *txRepository) LockReservation(ctx context.Context, orderID int64) (Reservation, error) {
	if _, err := r.q.Exec(ctx, `INSERT INTO order_stock_reservations (order_id, status, actor_id, updated_at)
VALUES ($1, $2, 0, NOW()) ON CONFLICT (order_id) DO NOTHING`, orderID, string(StatusPending)); err != nil {
		return Reservation{}, db.Classify(err)
	}
	var res Reservation
	err := pgxscan.Get(ctx, r.q, &res, `SELECT `+reservationColumns+` FROM order_stock_reservations WHERE order_id=$1 FOR UPDATE`, orderID)
	if err != nil {
		return Reservation{}, db.Classify(err)
	}
	return res, nil
}

func (r *txRepository) SaveReservation(ctx context.Context, res Reservation) error {
	_, err := r.q.Exec(ctx, `UPDATE order_stock_reservations
SET status=$2, actor_id=$3, confirmed_at=$4, cancelled_at=$5, updated_at=$6 WHERE order_id=$1`,
		res.OrderID, string(res.Status), res.ActorID, res.ConfirmedAt, res.CancelledAt, res.UpdatedAt)
	return db.Classify(err)
}

func (r *txRepository) ListOrderLines(ctx context.Context, orderID int64) ([]Line, error) {
	lines := []Line{}
	err := pgxscan.Select(ctx, r.q, &lines, `SELECT variant_id, quantity FROM order_items WHERE order_id=$1 ORDER BY variant_id`, orderID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return lines, nil
}

func (r *txRepository) ListLines(ctx context.Context, orderID int64) ([]ReservedLine, error) {
	lines := []ReservedLine{}
	err := pgxscan.Select(ctx, r.q, &lines, `SELECT variant_id, quantity, out_movement_id, in_movement_id
FROM order_stock_reservation_lines WHERE order_id=$1 ORDER BY variant_id`, orderID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return lines, nil
}

const saveLineSQL = `INSERT INTO order_stock_reservation_lines (order_id, variant_id, quantity, out_movement_id, in_movement_id)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (order_id, variant_id) DO UPDATE SET in_movement_id=EXCLUDED.in_movement_id`

func (r *txRepository) SaveLines(ctx context.Context, orderID int64, lines []ReservedLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(saveLineSQL, orderID, l.VariantID, l.Quantity, l.OutMovementID, l.InMovementID)
	}
	return db.Classify(r.q.SendBatch(ctx, batch).Close())
}
