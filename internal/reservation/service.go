package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RefModule tags ledger movements posted for orders.
const RefModule = ledger.RefModuleOrder

// RepositoryPort abstracts reservation persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReservation(ctx context.Context, orderID int64) (Reservation, error)
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

// Config groups optional collaborators.
type Config struct {
	Audit  AuditPort
	Logger *slog.Logger
}

// Service deducts stock when orders are confirmed and restores it on cancellation.
type Service struct {
	repo     RepositoryPort
	recorder Recorder
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
	return &Service{
		repo:     repo,
		recorder: recorder,
		audit:    cfg.Audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ConfirmOrder posts one OUT per variant of the order, all or nothing.
// Confirming a confirmed order is a no-op.
func (s *Service) ConfirmOrder(ctx context.Context, orderID, actorID int64) (Reservation, error) {
	var posted []ledger.Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.LockReservation(ctx, orderID)
		if err != nil {
			return err
		}
		switch res.Status {
		case StatusConfirmed:
			return nil
		case StatusCancelled:
			return ErrOrderCancelled
		}
		items, err := tx.ListOrderLines(ctx, orderID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrOrderNotFound
		}
		lines, err := Aggregate(items)
		if err != nil {
			return err
		}
		reserved := make([]ReservedLine, 0, len(lines))
		for _, line := range lines {
			m, err := s.recorder.RecordTx(ctx, tx.Ledger(), ledger.RecordInput{
				VariantID: line.VariantID,
				Kind:      ledger.KindOut,
				Quantity:  line.Quantity,
				Note:      fmt.Sprintf("Order #%d confirmed", orderID),
				ActorID:   actorID,
				RefModule: RefModule,
				RefID:     strconv.FormatInt(orderID, 10),
			})
			if err != nil {
				return fmt.Errorf("reservation: order %d: %w", orderID, err)
			}
			posted = append(posted, m)
			reserved = append(reserved, ReservedLine{VariantID: line.VariantID, Quantity: line.Quantity, OutMovementID: m.ID})
		}
		if err := tx.SaveLines(ctx, orderID, reserved); err != nil {
			return err
		}
		now := s.now()
		res.Status = StatusConfirmed
		res.ActorID = actorID
		res.ConfirmedAt = &now
		res.UpdatedAt = now
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return Reservation{}, ledger.Translate(err)
	}
	if len(posted) > 0 {
		s.recorder.Notify(ctx, posted...)
		s.recordAudit(ctx, actorID, "order:stock_confirm", orderID, StatusPending, StatusConfirmed)
	}
	return s.repo.GetReservation(ctx, orderID)
}

// CancelOrder restores every deducted line with an IN. Cancelling twice, or
// cancelling an order that never deducted stock, posts nothing.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) (Reservation, error) {
	var (
		posted []ledger.Movement
		before Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.LockReservation(ctx, orderID)
		if err != nil {
			return err
		}
		before = res.Status
		if res.Status == StatusCancelled {
			return nil
		}
		if res.Status == StatusConfirmed {
			lines, err := tx.ListLines(ctx, orderID)
			if err != nil {
				return err
			}
			sort.Slice(lines, func(i, j int) bool { return lines[i].VariantID < lines[j].VariantID })
			for i := range lines {
				m, err := s.recorder.RecordTx(ctx, tx.Ledger(), ledger.RecordInput{
					VariantID: lines[i].VariantID,
					Kind:      ledger.KindIn,
					Quantity:  lines[i].Quantity,
					Note:      fmt.Sprintf("Order #%d cancelled", orderID),
					ActorID:   actorID,
					RefModule: RefModule,
					RefID:     strconv.FormatInt(orderID, 10),
				})
				if err != nil {
					return fmt.Errorf("reservation: order %d: %w", orderID, err)
				}
				lines[i].InMovementID = &m.ID
				posted = append(posted, m)
			}
			if err := tx.SaveLines(ctx, orderID, lines); err != nil {
				return err
			}
		}
		now := s.now()
		res.Status = StatusCancelled
		res.ActorID = actorID
		res.CancelledAt = &now
		res.UpdatedAt = now
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return Reservation{}, ledger.Translate(err)
	}
	if before != StatusCancelled {
		s.recorder.Notify(ctx, posted...)
		s.recordAudit(ctx, actorID, "order:stock_cancel", orderID, before, StatusCancelled)
	}
	return s.repo.GetReservation(ctx, orderID)
}

// GetReservation returns the reservation state of an order.
func (s *Service) GetReservation(ctx context.Context, orderID int64) (Reservation, error) {
	return s.repo.GetReservation(ctx, orderID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, before, after Status) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order_stock_reservation",
		EntityID: strconv.FormatInt(orderID, 10),
		Before:   map[string]any{"status": string(before)},
		After:    map[string]any{"status": string(after)},
		At:       s.now(),
	}.WithRequestMeta(ctx))
	if err != nil {
		s.logger.Warn("reservation audit record", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
}
