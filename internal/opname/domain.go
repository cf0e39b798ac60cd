package opname

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status enumerates opname session states.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Open reports whether details may still be added or counted.
func (s Status) Open() bool {
	return s == StatusDraft || s == StatusInProgress
}

// SnapshotPolicy selects which system stock a completion reconciles against.
type SnapshotPolicy string

const (
	// PolicySnapshot reconciles against the stock captured when the detail was added.
	PolicySnapshot SnapshotPolicy = "snapshot"
	// PolicyRefresh re-reads stock under the variant lock at completion.
	PolicyRefresh SnapshotPolicy = "refresh"
)

// ParseSnapshotPolicy validates a configured policy name. Empty selects PolicySnapshot.
func ParseSnapshotPolicy(v string) (SnapshotPolicy, error) {
	switch SnapshotPolicy(v) {
	case "", PolicySnapshot:
		return PolicySnapshot, nil
	case PolicyRefresh:
		return PolicyRefresh, nil
	}
	return "", fmt.Errorf("opname: unknown snapshot policy %q", v)
}

// Session is one physical count event.
type Session struct {
	ID          int64      `db:"id" json:"id"`
	Date        time.Time  `db:"opname_date" json:"opname_date"`
	Status      Status     `db:"status" json:"status"`
	CreatedBy   int64      `db:"created_by" json:"created_by"`
	Note        string     `db:"note" json:"note"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	Details     []Detail   `db:"-" json:"details,omitempty"`
}

// Detail is one variant counted within a session.
type Detail struct {
	ID          int64  `db:"id" json:"id"`
	SessionID   int64  `db:"session_id" json:"session_id"`
	VariantID   int64  `db:"variant_id" json:"variant_id"`
	SystemStock int64  `db:"system_stock" json:"system_stock"`
	RealStock   *int64 `db:"real_stock" json:"real_stock"`
	Difference  int64  `db:"difference" json:"difference"`
	// MovementID references the adjustment posted at completion, if any.
	MovementID *int64    `db:"movement_id" json:"movement_id,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Counted reports whether a real count was entered.
func (d Detail) Counted() bool {
	return d.RealStock != nil
}

// SetReal stores the real count and recomputes the difference.
func (d *Detail) SetReal(real int64) {
	d.RealStock = &real
	d.recompute()
}

// Resnapshot replaces the system stock and recomputes the difference.
func (d *Detail) Resnapshot(system int64) {
	d.SystemStock = system
	d.recompute()
}

func (d *Detail) recompute() {
	if d.RealStock == nil {
		d.Difference = 0
		return
	}
	d.Difference = *d.RealStock - d.SystemStock
}

// CreateSessionInput carries header fields for a new session.
type CreateSessionInput struct {
	Date    time.Time
	ActorID int64
	Note    string
}

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = fmt.Errorf("opname: session: %w", shared.ErrNotFound)
	// ErrDetailNotFound indicates the variant is not part of the session.
	ErrDetailNotFound = fmt.Errorf("opname: detail: %w", shared.ErrNotFound)
	// ErrInvalidState indicates the session status forbids the operation.
	ErrInvalidState = fmt.Errorf("opname: invalid session state: %w", shared.ErrConflict)
	// ErrIncompleteSession indicates a detail without a real count.
	ErrIncompleteSession = fmt.Errorf("opname: session has uncounted details: %w", shared.ErrBusinessRule)
	// ErrDuplicateDetail indicates the variant was already added.
	ErrDuplicateDetail = fmt.Errorf("opname: variant already in session: %w", shared.ErrConflict)
	// ErrInvalidCount indicates a negative real count.
	ErrInvalidCount = fmt.Errorf("opname: real stock must not be negative: %w", shared.ErrValidation)
)

// IncompleteSessionError lists the variants still waiting for a count.
type IncompleteSessionError struct {
	SessionID int64
	Variants  []int64
}

func (e *IncompleteSessionError) Error() string {
	return fmt.Sprintf("opname: session %d has %d uncounted details", e.SessionID, len(e.Variants))
}

// Is lets errors.Is match ErrIncompleteSession and its kind.
func (e *IncompleteSessionError) Is(target error) bool {
	return target == ErrIncompleteSession || target == shared.ErrBusinessRule
}

// ProblemFields implements shared.DetailedError.
func (e *IncompleteSessionError) ProblemFields() map[string]any {
	return map[string]any{"field": "real_stock", "variant_ids": e.Variants}
}

// InvalidStateError reports the state an operation was rejected in.
type InvalidStateError struct {
	SessionID int64
	Status    Status
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("opname: cannot %s session %d in status %s", e.Op, e.SessionID, e.Status)
}

// Is lets errors.Is match ErrInvalidState and its kind.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState || target == shared.ErrConflict
}

// ProblemFields implements shared.DetailedError.
func (e *InvalidStateError) ProblemFields() map[string]any {
	return map[string]any{"field": "status", "status": string(e.Status)}
}
