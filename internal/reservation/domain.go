package reservation

import (
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status tracks whether an order's stock is held.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Line is one order item as read from the order system.
type Line struct {
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int64 `db:"quantity" json:"quantity"`
}

// ReservedLine binds a deducted quantity to the movements that moved it.
type ReservedLine struct {
	VariantID     int64  `db:"variant_id" json:"variant_id"`
	Quantity      int64  `db:"quantity" json:"quantity"`
	OutMovementID int64  `db:"out_movement_id" json:"out_movement_id"`
	InMovementID  *int64 `db:"in_movement_id" json:"in_movement_id,omitempty"`
}

// Reservation is the order-scoped marker guaranteeing exactly-once deduction
// and exactly-once restoration.
type Reservation struct {
	OrderID     int64          `db:"order_id" json:"order_id"`
	Status      Status         `db:"status" json:"status"`
	ActorID     int64          `db:"actor_id" json:"actor_id"`
	ConfirmedAt *time.Time     `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
	Lines       []ReservedLine `db:"-" json:"lines,omitempty"`
}

var (
	// ErrOrderNotFound indicates the order has no items.
	ErrOrderNotFound = fmt.Errorf("reservation: order: %w", shared.ErrNotFound)
	// ErrInvalidLine indicates a non-positive line quantity.
	ErrInvalidLine = fmt.Errorf("reservation: line quantity must be positive: %w", shared.ErrValidation)
	// ErrOrderCancelled indicates confirmation of an order already cancelled.
	ErrOrderCancelled = fmt.Errorf("reservation: order already cancelled: %w", shared.ErrConflict)
)

// Aggregate merges lines of the same variant and sorts them by ascending
// variant id, which is the lock acquisition order.
func Aggregate(lines []Line) ([]Line, error) {
	totals := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.VariantID <= 0 || l.Quantity <= 0 {
			return nil, ErrInvalidLine
		}
		totals[l.VariantID] += l.Quantity
	}
	out := make([]Line, 0, len(totals))
	for variantID, qty := range totals {
		out = append(out, Line{VariantID: variantID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}
