package opname

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

const (
	sessionColumns = "id, opname_date, status, created_by, note, completed_at, created_at, updated_at"
	detailColumns  = "id, session_id, variant_id, system_stock, real_stock, difference, movement_id, updated_at"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// Ledger returns the ledger statements bound to the same transaction.
	Ledger() ledger.TxRepository
	InsertSession(ctx context.Context, s Session) (Session, error)
	GetSessionForUpdate(ctx context.Context, id int64) (Session, error)
	UpdateSessionStatus(ctx context.Context, id int64, status Status, at time.Time) error
	InsertDetail(ctx context.Context, d Detail) (Detail, error)
	GetDetailForUpdate(ctx context.Context, sessionID, variantID int64) (Detail, error)
	// ListDetails returns the session's details ordered by variant id.
	ListDetails(ctx context.Context, sessionID int64) ([]Detail, error)
	UpdateDetail(ctx context.Context, d Detail) error
}

// Repository persists opname sessions in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	builder     sq.StatementBuilderType
	lockTimeout time.Duration
}

// NewRepository constructs Repository. Transactions share the ledger's lock timeout.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{
		pool:        pool,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		lockTimeout: lockTimeout,
	}
}

// WithTx executes fn inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("opname repository not initialised")
	}
	opts := db.LedgerTxOptions(r.lockTimeout)
	opts.Name = "opname"
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, ledger: ledger.NewTxRepository(tx)})
	})
}

// GetSession loads a session and its details.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	var session Session
	if err := pgxscan.Get(ctx, r.pool, &session, `SELECT `+sessionColumns+` FROM opname_sessions WHERE id=$1`, id); err != nil {
		if pgxscan.NotFound(err) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	details := []Detail{}
	if err := pgxscan.Select(ctx, r.pool, &details, `SELECT `+detailColumns+` FROM opname_details WHERE session_id=$1 ORDER BY variant_id`, id); err != nil {
		return Session{}, err
	}
	session.Details = details
	return session, nil
}

// ListSessions returns session headers, newest first.
func (r *Repository) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	q := r.builder.Select(sessionColumns).
		From("opname_sessions").
		OrderBy("opname_date DESC", "id DESC").
		Limit(uint64(filter.Limit))
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	sessions := []Session{}
	if err := pgxscan.Select(ctx, r.pool, &sessions, sql, args...); err != nil {
		return nil, err
	}
	return sessions, nil
}

type txRepository struct {
	q      db.Querier
	ledger ledger.TxRepository
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

func (r *txRepository) InsertSession(ctx context.Context, s Session) (Session, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO opname_sessions (opname_date, status, created_by, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, s.Date, string(s.Status), s.CreatedBy, s.Note, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	if err != nil {
		return Session{}, db.Classify(err)
	}
	return s, nil
}

func (r *txRepository) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	var s Session
	err := pgxscan.Get(ctx, r.q, &s, `SELECT `+sessionColumns+` FROM opname_sessions WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, db.Classify(err)
	}
	return s, nil
}

func (r *txRepository) UpdateSessionStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	var completedAt *time.Time
	if status == StatusCompleted {
		completedAt = &at
	}
	_, err := r.q.Exec(ctx, `UPDATE opname_sessions SET status=$2, completed_at=COALESCE($3, completed_at), updated_at=$4 WHERE id=$1`,
		id, string(status), completedAt, at)
	return db.Classify(err)
}

func (r *txRepository) InsertDetail(ctx context.Context, d Detail) (Detail, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO opname_details (session_id, variant_id, system_stock, real_stock, difference, updated_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, d.SessionID, d.VariantID, d.SystemStock, d.RealStock, d.Difference, d.UpdatedAt).Scan(&d.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Detail{}, ErrDuplicateDetail
		}
		return Detail{}, db.Classify(err)
	}
	return d, nil
}

func (r *txRepository) GetDetailForUpdate(ctx context.Context, sessionID, variantID int64) (Detail, error) {
	var d Detail
	err := pgxscan.Get(ctx, r.q, &d, `SELECT `+detailColumns+` FROM opname_details WHERE session_id=$1 AND variant_id=$2 FOR UPDATE`, sessionID, variantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Detail{}, ErrDetailNotFound
		}
		return Detail{}, db.Classify(err)
	}
	return d, nil
}

func (r *txRepository) ListDetails(ctx context.Context, sessionID int64) ([]Detail, error) {
	details := []Detail{}
	err := pgxscan.Select(ctx, r.q, &details, `SELECT `+detailColumns+` FROM opname_details WHERE session_id=$1 ORDER BY variant_id FOR UPDATE`, sessionID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return details, nil
}

func (r *txRepository) UpdateDetail(ctx context.Context, d Detail) error {
	_, err := r.q.Exec(ctx, `UPDATE opname_details SET system_stock=$2, real_stock=$3, difference=$4, movement_id=$5, updated_at=$6 WHERE id=$1`,
		d.ID, d.SystemStock, d.RealStock, d.Difference, d.MovementID, d.UpdatedAt)
	return db.Classify(err)
}
