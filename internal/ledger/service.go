package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentStock(ctx context.Context, variantID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListVariantIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed record requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort receives movement and rejection counts.
type MetricsPort interface {
	ObserveMovement(kind string, delta int64)
	ObserveRejection(reason string)
}

// Service is the Movement Recorder and the only writer of variant stock.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
	auditLimit  int
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     MetricsPort
	Logger      *slog.Logger
	// AuditConcurrency bounds parallel variant checks in AuditAll.
	AuditConcurrency int
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.AuditConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		auditLimit:  limit,
	}
}

// Record validates and appends a single movement, updating the projection in
// the same transaction.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	if err := ValidateInput(input); err != nil {
		s.observeRejection(err)
		return Movement{}, err
	}
	if OwnedRefModule(input.RefModule) {
		s.observeRejection(ErrReservedRefModule)
		return Movement{}, ErrReservedRefModule
	}
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("ledger:%s", input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Movement{}, ErrDuplicateRequest
			}
			return Movement{}, err
		}
	}

	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.RecordTx(ctx, tx, input)
		return err
	})
	if err != nil {
		err = translate(err)
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.observeRejection(err)
		return Movement{}, err
	}
	s.Notify(ctx, movement)
	return movement, nil
}

// ValidateInput checks the quantity and kind rules that do not need stock.
func ValidateInput(input RecordInput) error {
	if input.VariantID <= 0 {
		return ErrInvalidVariant
	}
	if !input.Kind.Valid() {
		return ErrInvalidKind
	}
	switch input.Kind {
	case KindIn, KindOut:
		if input.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	case KindAdjustment:
		if input.Quantity == 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

// RecordTx appends a movement inside a caller-owned transaction. Callers that
// batch several movements in one transaction must invoke Notify after commit.
func (s *Service) RecordTx(ctx context.Context, tx TxRepository, input RecordInput) (Movement, error) {
	if err := ValidateInput(input); err != nil {
		return Movement{}, err
	}
	stock, err := tx.GetStockForUpdate(ctx, input.VariantID)
	if err != nil {
		return Movement{}, err
	}
	delta := SignedEffect(input.Kind, input.Quantity)
	newQty := stock.Quantity + delta
	if newQty < 0 {
		return Movement{}, &InsufficientStockError{VariantID: input.VariantID, Available: stock.Quantity, Requested: -delta}
	}
	now := s.now()
	movement, err := tx.InsertMovement(ctx, Movement{
		VariantID: input.VariantID,
		Kind:      input.Kind,
		Quantity:  input.Quantity,
		Note:      input.Note,
		ActorID:   input.ActorID,
		RefModule: input.RefModule,
		RefID:     input.RefID,
		State:     StateActive,
		CreatedAt: now,
	})
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: insert movement: %w", err)
	}
	if err := tx.UpsertStock(ctx, VariantStock{VariantID: input.VariantID, Quantity: newQty, UpdatedAt: now}); err != nil {
		return Movement{}, fmt.Errorf("ledger: update stock: %w", err)
	}
	movement.BeforeQty = stock.Quantity
	movement.AfterQty = newQty
	return movement, nil
}

// Notify publishes audit records and metrics for committed movements.
func (s *Service) Notify(ctx context.Context, movements ...Movement) {
	for _, m := range movements {
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(m.Kind), m.SignedEffect())
		}
		if s.audit == nil {
			continue
		}
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  m.ActorID,
			Action:   fmt.Sprintf("stock:%s", m.Kind),
			Entity:   "variant_stock",
			EntityID: strconv.FormatInt(m.VariantID, 10),
			Before:   map[string]any{"quantity": m.BeforeQty},
			After:    map[string]any{"quantity": m.AfterQty},
			Meta: map[string]any{
				"movement_id": m.ID,
				"quantity":    m.Quantity,
				"note":        m.Note,
				"ref_module":  m.RefModule,
				"ref_id":      m.RefID,
			},
			At: m.CreatedAt,
		}.WithRequestMeta(ctx))
		if err != nil {
			s.logger.Warn("ledger audit record", slog.Int64("movement_id", m.ID), slog.Any("error", err))
		}
	}
}

// CurrentStock returns the on-hand quantity; variants never moved report zero.
func (s *Service) CurrentStock(ctx context.Context, variantID int64) (int64, error) {
	if variantID <= 0 {
		return 0, ErrInvalidVariant
	}
	qty, err := s.repo.CurrentStock(ctx, variantID)
	if errors.Is(err, ErrStockNotFound) {
		return 0, nil
	}
	return qty, err
}

// ListMovements returns ledger history for a variant.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.VariantID <= 0 {
		return nil, ErrInvalidVariant
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// Rebuild recomputes the projection from the sum of active movements.
func (s *Service) Rebuild(ctx context.Context, variantID int64) (RebuildResult, error) {
	if variantID <= 0 {
		return RebuildResult{}, ErrInvalidVariant
	}
	var result RebuildResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.rebuildTx(ctx, tx, variantID, true)
		return err
	})
	if err != nil {
		return RebuildResult{}, translate(err)
	}
	if result.Drifted() {
		s.logger.Warn("ledger projection rebuilt",
			slog.Int64("variant_id", variantID),
			slog.Int64("before", result.Before),
			slog.Int64("after", result.After))
	}
	return result, nil
}

func (s *Service) rebuildTx(ctx context.Context, tx TxRepository, variantID int64, write bool) (RebuildResult, error) {
	stock, err := tx.GetStockForUpdate(ctx, variantID)
	if err != nil {
		return RebuildResult{}, err
	}
	sum, err := tx.SumActive(ctx, variantID)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("ledger: sum movements: %w", err)
	}
	result := RebuildResult{VariantID: variantID, Before: stock.Quantity, After: sum}
	if write && result.Drifted() {
		if err := tx.UpsertStock(ctx, VariantStock{VariantID: variantID, Quantity: sum, UpdatedAt: s.now()}); err != nil {
			return RebuildResult{}, fmt.Errorf("ledger: update stock: %w", err)
		}
	}
	return result, nil
}

// AuditAll compares every projection row with its ledger sum. With fix set,
// drifted variants are rebuilt. Each variant is checked in its own transaction.
func (s *Service) AuditAll(ctx context.Context, fix bool) (AuditReport, error) {
	ids, err := s.repo.ListVariantIDs(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	results := make([]RebuildResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.auditLimit)
	for i, id := range ids {
		g.Go(func() error {
			return s.repo.WithTx(gctx, func(ctx context.Context, tx TxRepository) error {
				res, err := s.rebuildTx(ctx, tx, id, fix)
				if err != nil {
					return fmt.Errorf("variant %d: %w", id, err)
				}
				results[i] = res
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return AuditReport{}, translate(err)
	}
	report := AuditReport{Checked: len(ids), Fixed: fix}
	for _, res := range results {
		if res.Drifted() {
			report.Drifted = append(report.Drifted, res)
		}
	}
	sort.Slice(report.Drifted, func(i, j int) bool { return report.Drifted[i].VariantID < report.Drifted[j].VariantID })
	return report, nil
}

// Void tags a movement voided and posts a voided reversing adjustment so both
// rows leave the conservation sum while the projection absorbs the reversal.
func (s *Service) Void(ctx context.Context, movementID, actorID int64, reason string) (Movement, error) {
	var reversal Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if original.State == StateVoided {
			return ErrAlreadyVoided
		}
		if OwnedRefModule(original.RefModule) {
			return ErrOwnedMovement
		}
		stock, err := tx.GetStockForUpdate(ctx, original.VariantID)
		if err != nil {
			return err
		}
		delta := -original.SignedEffect()
		newQty := stock.Quantity + delta
		if newQty < 0 {
			return &InsufficientStockError{VariantID: original.VariantID, Available: stock.Quantity, Requested: -delta}
		}
		now := s.now()
		if err := tx.MarkVoided(ctx, original.ID, now); err != nil {
			return fmt.Errorf("ledger: void movement: %w", err)
		}
		note := fmt.Sprintf("Void of movement #%d", original.ID)
		if reason != "" {
			note = fmt.Sprintf("%s: %s", note, reason)
		}
		origID := original.ID
		reversal, err = tx.InsertMovement(ctx, Movement{
			VariantID:  original.VariantID,
			Kind:       KindAdjustment,
			Quantity:   delta,
			Note:       note,
			ActorID:    actorID,
			RefModule:  original.RefModule,
			RefID:      original.RefID,
			ReversalOf: &origID,
			State:      StateVoided,
			VoidedAt:   &now,
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("ledger: insert reversal: %w", err)
		}
		if err := tx.UpsertStock(ctx, VariantStock{VariantID: original.VariantID, Quantity: newQty, UpdatedAt: now}); err != nil {
			return fmt.Errorf("ledger: update stock: %w", err)
		}
		reversal.BeforeQty = stock.Quantity
		reversal.AfterQty = newQty
		return nil
	})
	if err != nil {
		err = translate(err)
		s.observeRejection(err)
		return Movement{}, err
	}
	s.Notify(ctx, reversal)
	return reversal, nil
}

func (s *Service) observeRejection(err error) {
	if s.metrics == nil || err == nil {
		return
	}
	s.metrics.ObserveRejection(RejectionReason(err))
}

// RejectionReason maps an error to a low-cardinality metric label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidKind), errors.Is(err, ErrInvalidVariant),
		errors.Is(err, ErrReservedRefModule):
		return "invalid_input"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrDuplicateRequest), errors.Is(err, ErrAlreadyVoided), errors.Is(err, ErrOwnedMovement):
		return "conflict"
	case errors.Is(err, ErrMovementNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// Translate converts storage lock failures into ErrConcurrencyConflict.
func Translate(err error) error {
	return translate(err)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrConcurrencyConflict) && !errors.Is(err, ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	return err
}
