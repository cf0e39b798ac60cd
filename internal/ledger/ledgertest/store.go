// Package ledgertest provides an in-memory ledger store with transactional
// copy-on-begin semantics for service tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
)

// Store implements ledger.RepositoryPort in memory. A single mutex stands in
// for row locks, so transactions are fully serialised.
type Store struct {
	mu        sync.Mutex
	stocks    map[int64]ledger.VariantStock
	movements []ledger.Movement
	nextID    int64

	// FailOn, when set, is consulted before each write; a non-nil error aborts the transaction.
	FailOn func(op string, variantID int64) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{stocks: make(map[int64]ledger.VariantStock)}
}

// Seed sets the projection and a matching IN movement so the ledger stays conserved.
func (s *Store) Seed(variantID, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if qty > 0 {
		s.nextID++
		s.movements = append(s.movements, ledger.Movement{
			ID: s.nextID, VariantID: variantID, Kind: ledger.KindIn, Quantity: qty,
			Note: "seed", State: ledger.StateActive, CreatedAt: now,
		})
	}
	s.stocks[variantID] = ledger.VariantStock{VariantID: variantID, Quantity: qty, UpdatedAt: now}
}

// SetProjection overwrites the projection without touching the ledger, simulating drift.
func (s *Store) SetProjection(variantID, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stocks[variantID] = ledger.VariantStock{VariantID: variantID, Quantity: qty, UpdatedAt: time.Now().UTC()}
}

// Movements returns a copy of every ledger row, voided included.
func (s *Store) Movements() []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// MovementsFor returns ledger rows of one variant.
func (s *Store) MovementsFor(variantID int64) []ledger.Movement {
	var out []ledger.Movement
	for _, m := range s.Movements() {
		if m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out
}

// Quantity returns the projection value, zero when missing.
func (s *Store) Quantity(variantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stocks[variantID].Quantity
}

// ActiveSum is the conservation-law reference value.
func (s *Store) ActiveSum(variantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumActive(s.movements, variantID)
}

// Atomic runs fn against a private copy of the state and publishes it only when fn succeeds.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{
		store:     s,
		stocks:    make(map[int64]ledger.VariantStock, len(s.stocks)),
		movements: append([]ledger.Movement(nil), s.movements...),
		nextID:    s.nextID,
	}
	for k, v := range s.stocks {
		tx.stocks[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.stocks = tx.stocks
	s.movements = tx.movements
	s.nextID = tx.nextID
	return nil
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

// CurrentStock implements ledger.RepositoryPort.
func (s *Store) CurrentStock(_ context.Context, variantID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, ok := s.stocks[variantID]
	if !ok {
		return 0, ledger.ErrStockNotFound
	}
	return stock.Quantity, nil
}

// ListMovements implements ledger.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Movement{}
	for _, m := range s.movements {
		if m.VariantID != filter.VariantID {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		if !filter.IncludeVoided && m.State != ledger.StateActive {
			continue
		}
		if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ListVariantIDs implements ledger.RepositoryPort.
func (s *Store) ListVariantIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	for id := range s.stocks {
		seen[id] = struct{}{}
	}
	for _, m := range s.movements {
		seen[m.VariantID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Tx is the private state of one transaction; it implements ledger.TxRepository.
type Tx struct {
	store     *Store
	stocks    map[int64]ledger.VariantStock
	movements []ledger.Movement
	nextID    int64
	// Locked records variant ids in the order GetStockForUpdate saw them.
	Locked []int64
}

func (tx *Tx) fail(op string, variantID int64) error {
	if tx.store.FailOn == nil {
		return nil
	}
	return tx.store.FailOn(op, variantID)
}

func (tx *Tx) GetStock(_ context.Context, variantID int64) (ledger.VariantStock, error) {
	stock, ok := tx.stocks[variantID]
	if !ok {
		return ledger.VariantStock{VariantID: variantID}, ledger.ErrStockNotFound
	}
	return stock, nil
}

func (tx *Tx) GetStockForUpdate(_ context.Context, variantID int64) (ledger.VariantStock, error) {
	if err := tx.fail("lock", variantID); err != nil {
		return ledger.VariantStock{}, err
	}
	tx.Locked = append(tx.Locked, variantID)
	stock, ok := tx.stocks[variantID]
	if !ok {
		stock = ledger.VariantStock{VariantID: variantID}
		tx.stocks[variantID] = stock
	}
	return stock, nil
}

func (tx *Tx) UpsertStock(_ context.Context, stock ledger.VariantStock) error {
	if err := tx.fail("upsert", stock.VariantID); err != nil {
		return err
	}
	tx.stocks[stock.VariantID] = stock
	return nil
}

func (tx *Tx) InsertMovement(_ context.Context, m ledger.Movement) (ledger.Movement, error) {
	if err := tx.fail("insert", m.VariantID); err != nil {
		return ledger.Movement{}, err
	}
	tx.nextID++
	m.ID = tx.nextID
	tx.movements = append(tx.movements, m)
	return m, nil
}

func (tx *Tx) GetMovementForUpdate(_ context.Context, id int64) (ledger.Movement, error) {
	for _, m := range tx.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return ledger.Movement{}, ledger.ErrMovementNotFound
}

func (tx *Tx) MarkVoided(_ context.Context, id int64, at time.Time) error {
	for i := range tx.movements {
		if tx.movements[i].ID != id {
			continue
		}
		if tx.movements[i].State == ledger.StateVoided {
			return ledger.ErrAlreadyVoided
		}
		voidedAt := at
		tx.movements[i].State = ledger.StateVoided
		tx.movements[i].VoidedAt = &voidedAt
		return nil
	}
	return ledger.ErrMovementNotFound
}

func (tx *Tx) SumActive(_ context.Context, variantID int64) (int64, error) {
	return sumActive(tx.movements, variantID), nil
}

func sumActive(movements []ledger.Movement, variantID int64) int64 {
	var sum int64
	for _, m := range movements {
		if m.VariantID == variantID && m.State == ledger.StateActive {
			sum += m.SignedEffect()
		}
	}
	return sum
}
