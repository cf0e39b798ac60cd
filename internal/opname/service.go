package opname

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RefModule tags ledger movements posted by a completed session.
const RefModule = ledger.RefModuleOpname

// RepositoryPort abstracts session persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, error)
}

// Recorder posts movements inside a caller-owned transaction.
type Recorder interface {
	RecordTx(ctx context.Context, tx ledger.TxRepository, input ledger.RecordInput) (ledger.Movement, error)
	Notify(ctx context.Context, movements ...ledger.Movement)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ListFilter narrows ListSessions.
type ListFilter struct {
	Status Status
	Limit  int
}

// Config groups optional service settings.
type Config struct {
	Policy SnapshotPolicy
	Audit  AuditPort
	Logger *slog.Logger
}

// Service drives the opname state machine.
type Service struct {
	repo     RepositoryPort
	recorder Recorder
	policy   SnapshotPolicy
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, recorder Recorder, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicySnapshot
	}
	return &Service{
		repo:     repo,
		recorder: recorder,
		policy:   policy,
		audit:    cfg.Audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the configured snapshot policy.
func (s *Service) Policy() SnapshotPolicy {
	return s.policy
}

// CreateSession opens a draft session.
func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (Session, error) {
	if input.ActorID <= 0 {
		return Session{}, fmt.Errorf("opname: actor required: %w", shared.ErrValidation)
	}
	if input.Date.IsZero() {
		input.Date = s.now()
	}
	now := s.now()
	var session Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		session, err = tx.InsertSession(ctx, Session{
			Date:      input.Date,
			Status:    StatusDraft,
			CreatedBy: input.ActorID,
			Note:      input.Note,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return Session{}, err
	}
	s.recordAudit(ctx, input.ActorID, "opname:create", session.ID, "", StatusDraft)
	return session, nil
}

// AddDetail snapshots the current stock of variantID into the session.
// The first detail moves a draft session to in_progress.
func (s *Service) AddDetail(ctx context.Context, sessionID, variantID int64) (Detail, error) {
	if variantID <= 0 {
		return Detail{}, ledger.ErrInvalidVariant
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.Open() {
			return &InvalidStateError{SessionID: sessionID, Status: session.Status, Op: "add detail to"}
		}
		stock, err := tx.Ledger().GetStock(ctx, variantID)
		if err != nil && !errors.Is(err, ledger.ErrStockNotFound) {
			return fmt.Errorf("opname: snapshot stock: %w", err)
		}
		now := s.now()
		detail, err = tx.InsertDetail(ctx, Detail{
			SessionID:   sessionID,
			VariantID:   variantID,
			SystemStock: stock.Quantity,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if session.Status == StatusDraft {
			return tx.UpdateSessionStatus(ctx, sessionID, StatusInProgress, now)
		}
		return nil
	})
	if err != nil {
		return Detail{}, ledger.Translate(err)
	}
	return detail, nil
}

// SetRealCount stores the physically counted quantity for a detail.
func (s *Service) SetRealCount(ctx context.Context, sessionID, variantID, realStock int64) (Detail, error) {
	if realStock < 0 {
		return Detail{}, ErrInvalidCount
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.Open() {
			return &InvalidStateError{SessionID: sessionID, Status: session.Status, Op: "count"}
		}
		detail, err = tx.GetDetailForUpdate(ctx, sessionID, variantID)
		if err != nil {
			return err
		}
		detail.SetReal(realStock)
		detail.UpdatedAt = s.now()
		return tx.UpdateDetail(ctx, detail)
	})
	if err != nil {
		return Detail{}, ledger.Translate(err)
	}
	return detail, nil
}

// CompleteSession posts one ADJUSTMENT per non-zero difference and marks the
// session completed, all in one transaction. Completing a completed session
// returns it unchanged.
func (s *Service) CompleteSession(ctx context.Context, sessionID, actorID int64) (Session, error) {
	var (
		posted []ledger.Movement
		before Status
		noop   bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		before = session.Status
		if session.Status == StatusCompleted {
			noop = true
			return nil
		}
		if !session.Status.Open() {
			return &InvalidStateError{SessionID: sessionID, Status: session.Status, Op: "complete"}
		}
		// Ascending variant order keeps lock acquisition consistent with order reservations.
		details, err := tx.ListDetails(ctx, sessionID)
		if err != nil {
			return err
		}
		var missing []int64
		for _, d := range details {
			if !d.Counted() {
				missing = append(missing, d.VariantID)
			}
		}
		if len(missing) > 0 {
			return &IncompleteSessionError{SessionID: sessionID, Variants: missing}
		}

		now := s.now()
		for i := range details {
			d := &details[i]
			changed := false
			if s.policy == PolicyRefresh {
				stock, err := tx.Ledger().GetStockForUpdate(ctx, d.VariantID)
				if err != nil {
					return err
				}
				if stock.Quantity != d.SystemStock {
					d.Resnapshot(stock.Quantity)
					changed = true
				}
			}
			if d.Difference != 0 {
				m, err := s.recorder.RecordTx(ctx, tx.Ledger(), ledger.RecordInput{
					VariantID: d.VariantID,
					Kind:      ledger.KindAdjustment,
					Quantity:  d.Difference,
					Note:      fmt.Sprintf("Stock opname #%d", sessionID),
					ActorID:   actorID,
					RefModule: RefModule,
					RefID:     strconv.FormatInt(sessionID, 10),
				})
				if err != nil {
					return fmt.Errorf("opname: adjust variant %d: %w", d.VariantID, err)
				}
				d.MovementID = &m.ID
				posted = append(posted, m)
				changed = true
			}
			if changed {
				d.UpdatedAt = now
				if err := tx.UpdateDetail(ctx, *d); err != nil {
					return err
				}
			}
		}
		return tx.UpdateSessionStatus(ctx, sessionID, StatusCompleted, now)
	})
	if err != nil {
		return Session{}, ledger.Translate(err)
	}
	if !noop {
		s.recorder.Notify(ctx, posted...)
		s.recordAudit(ctx, actorID, "opname:complete", sessionID, before, StatusCompleted)
		s.logger.Info("opname completed",
			slog.Int64("session_id", sessionID),
			slog.Int("adjustments", len(posted)),
			slog.String("policy", string(s.policy)))
	}
	return s.repo.GetSession(ctx, sessionID)
}

// CancelSession marks a draft or in-progress session cancelled without posting movements.
func (s *Service) CancelSession(ctx context.Context, sessionID, actorID int64) (Session, error) {
	var before Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		before = session.Status
		if !session.Status.Open() {
			return &InvalidStateError{SessionID: sessionID, Status: session.Status, Op: "cancel"}
		}
		return tx.UpdateSessionStatus(ctx, sessionID, StatusCancelled, s.now())
	})
	if err != nil {
		return Session{}, ledger.Translate(err)
	}
	s.recordAudit(ctx, actorID, "opname:cancel", sessionID, before, StatusCancelled)
	return s.repo.GetSession(ctx, sessionID)
}

// GetSession returns a session with its details.
func (s *Service) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	return s.repo.GetSession(ctx, sessionID)
}

// ListSessions returns recent sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListSessions(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, sessionID int64, before, after Status) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "opname_session",
		EntityID: strconv.FormatInt(sessionID, 10),
		After:    map[string]any{"status": string(after)},
		At:       s.now(),
	}
	if before != "" {
		log.Before = map[string]any{"status": string(before)}
	}
	if err := s.audit.Record(ctx, log.WithRequestMeta(ctx)); err != nil {
		s.logger.Warn("opname audit record", slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
}
