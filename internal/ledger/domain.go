package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// KindIn represents an inbound movement.
	KindIn MovementKind = "IN"
	// KindOut represents an outbound movement.
	KindOut MovementKind = "OUT"
	// KindAdjustment represents found (positive) or lost (negative) stock.
	KindAdjustment MovementKind = "ADJUSTMENT"
)

// Valid reports whether k is a known kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindIn, KindOut, KindAdjustment:
		return true
	}
	return false
}

// Reference modules whose movements belong to a document lifecycle. They are
// posted through RecordTx by their owning service and corrected only there.
const (
	RefModuleOrder  = "order"
	RefModuleOpname = "opname"
)

// OwnedRefModule reports whether module is reserved for an owning service.
func OwnedRefModule(module string) bool {
	switch module {
	case RefModuleOrder, RefModuleOpname:
		return true
	}
	return false
}

// MovementState tags a ledger row as counted or voided.
type MovementState string

const (
	// StateActive rows count towards the on-hand quantity.
	StateActive MovementState = "active"
	// StateVoided rows are kept for audit only.
	StateVoided MovementState = "voided"
)

// Movement is an immutable ledger entry. Quantity is stored unsigned for IN
// and OUT and signed for ADJUSTMENT; SignedEffect normalises both.
type Movement struct {
	ID         int64         `db:"id" json:"id"`
	VariantID  int64         `db:"variant_id" json:"variant_id"`
	Kind       MovementKind  `db:"kind" json:"kind"`
	Quantity   int64         `db:"quantity" json:"quantity"`
	Note       string        `db:"note" json:"note"`
	ActorID    int64         `db:"actor_id" json:"actor_id"`
	RefModule  string        `db:"ref_module" json:"ref_module"`
	RefID      string        `db:"ref_id" json:"ref_id"`
	ReversalOf *int64        `db:"reversal_of" json:"reversal_of,omitempty"`
	State      MovementState `db:"state" json:"state"`
	VoidedAt   *time.Time    `db:"voided_at" json:"voided_at,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`

	// BeforeQty and AfterQty are the projection values around this movement.
	// They are populated when the movement is recorded and not persisted.
	BeforeQty int64 `db:"-" json:"before_qty"`
	AfterQty  int64 `db:"-" json:"after_qty"`
}

// SignedEffect is the change this movement applies to on-hand stock.
func (m Movement) SignedEffect() int64 {
	return SignedEffect(m.Kind, m.Quantity)
}

// SignedEffect converts a kind and stored quantity into a stock delta.
func SignedEffect(kind MovementKind, quantity int64) int64 {
	if kind == KindOut {
		return -quantity
	}
	return quantity
}

// VariantStock is the projection row holding on-hand quantity for a variant.
type VariantStock struct {
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RecordInput describes a movement to append.
type RecordInput struct {
	VariantID int64
	Kind      MovementKind
	Quantity  int64
	Note      string
	ActorID   int64
	RefModule string
	RefID     string
	// IdempotencyKey, when set, rejects a second Record with the same key.
	IdempotencyKey string
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	VariantID     int64
	Kind          MovementKind
	From          time.Time
	To            time.Time
	IncludeVoided bool
	Limit         int
}

// RebuildResult reports a projection rebuild.
type RebuildResult struct {
	VariantID int64 `json:"variant_id"`
	Before    int64 `json:"before"`
	After     int64 `json:"after"`
}

// Drifted reports whether the projection disagreed with the ledger.
func (r RebuildResult) Drifted() bool {
	return r.Before != r.After
}

// AuditReport summarises an integrity audit over all variants.
type AuditReport struct {
	Checked int             `json:"checked"`
	Drifted []RebuildResult `json:"drifted"`
	Fixed   bool            `json:"fixed"`
}

var (
	// ErrInsufficientStock is returned when a movement would drive stock below zero.
	ErrInsufficientStock = fmt.Errorf("ledger: insufficient stock: %w", shared.ErrBusinessRule)
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("ledger: invalid quantity: %w", shared.ErrValidation)
	// ErrInvalidKind indicates an unknown movement kind.
	ErrInvalidKind = fmt.Errorf("ledger: invalid movement kind: %w", shared.ErrValidation)
	// ErrInvalidVariant indicates a missing variant reference.
	ErrInvalidVariant = fmt.Errorf("ledger: variant required: %w", shared.ErrValidation)
	// ErrConcurrencyConflict indicates a lock wait timeout or serialization failure.
	ErrConcurrencyConflict = fmt.Errorf("ledger: concurrency conflict: %w", shared.ErrRetryable)
	// ErrMovementNotFound indicates an unknown movement id.
	ErrMovementNotFound = fmt.Errorf("ledger: movement: %w", shared.ErrNotFound)
	// ErrAlreadyVoided indicates the movement was voided before.
	ErrAlreadyVoided = fmt.Errorf("ledger: movement already voided: %w", shared.ErrConflict)
	// ErrOwnedMovement indicates a movement owned by an order or opname session.
	// Orders are corrected through cancellation, counts through a new session.
	ErrOwnedMovement = fmt.Errorf("ledger: movement owned by another module: %w", shared.ErrConflict)
	// ErrReservedRefModule indicates a manual movement tagged with an owned module.
	ErrReservedRefModule = fmt.Errorf("ledger: reserved ref module: %w", shared.ErrValidation)
	// ErrDuplicateRequest indicates a replayed idempotency key.
	ErrDuplicateRequest = fmt.Errorf("ledger: duplicate request: %w", shared.ErrConflict)
	// ErrStockNotFound indicates a missing projection row.
	ErrStockNotFound = errors.New("ledger: variant stock not found")
)

// InsufficientStockError names the variant that could not cover a movement.
type InsufficientStockError struct {
	VariantID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for variant %d: available %d, requested %d", e.VariantID, e.Available, e.Requested)
}

// Is lets errors.Is match ErrInsufficientStock and its kind.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrBusinessRule
}

// ProblemFields implements shared.DetailedError.
func (e *InsufficientStockError) ProblemFields() map[string]any {
	return map[string]any{
		"field":      "quantity",
		"variant_id": e.VariantID,
		"available":  e.Available,
		"requested":  e.Requested,
	}
}
