package opname_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-stock/internal/opname"
)

// fakeRepo keeps opname state next to a ledgertest.Store so both commit or roll back together.
type fakeRepo struct {
	mu       sync.Mutex
	store    *ledgertest.Store
	sessions map[int64]opname.Session
	details  map[int64]opname.Detail
	nextID   int64
	// locks records the variant lock order of the last committed transaction.
	locks []int64
}

func newFakeRepo(store *ledgertest.Store) *fakeRepo {
	return &fakeRepo{
		store:    store,
		sessions: map[int64]opname.Session{},
		details:  map[int64]opname.Detail{},
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, opname.TxRepository) error) error {
	return f.store.Atomic(func(ltx *ledgertest.Tx) error {
		f.mu.Lock()
		tx := &fakeTx{ledger: ltx, sessions: map[int64]opname.Session{}, details: map[int64]opname.Detail{}, nextID: f.nextID}
		for k, v := range f.sessions {
			tx.sessions[k] = v
		}
		for k, v := range f.details {
			tx.details[k] = v
		}
		f.mu.Unlock()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sessions, f.details, f.nextID = tx.sessions, tx.details, tx.nextID
		f.locks = ltx.Locked
		return nil
	})
}

func (f *fakeRepo) GetSession(_ context.Context, id int64) (opname.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return opname.Session{}, opname.ErrSessionNotFound
	}
	s.Details = sortedDetails(f.details, id)
	return s, nil
}

func (f *fakeRepo) ListSessions(_ context.Context, filter opname.ListFilter) ([]opname.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []opname.Session{}
	for _, s := range f.sessions {
		if filter.Status == "" || s.Status == filter.Status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type fakeTx struct {
	ledger   *ledgertest.Tx
	sessions map[int64]opname.Session
	details  map[int64]opname.Detail
	nextID   int64
}

func (t *fakeTx) Ledger() ledger.TxRepository { return t.ledger }

func (t *fakeTx) InsertSession(_ context.Context, s opname.Session) (opname.Session, error) {
	t.nextID++
	s.ID = t.nextID
	t.sessions[s.ID] = s
	return s, nil
}

func (t *fakeTx) GetSessionForUpdate(_ context.Context, id int64) (opname.Session, error) {
	s, ok := t.sessions[id]
	if !ok {
		return opname.Session{}, opname.ErrSessionNotFound
	}
	return s, nil
}

func (t *fakeTx) UpdateSessionStatus(_ context.Context, id int64, status opname.Status, at time.Time) error {
	s := t.sessions[id]
	s.Status = status
	s.UpdatedAt = at
	if status == opname.StatusCompleted {
		completed := at
		s.CompletedAt = &completed
	}
	t.sessions[id] = s
	return nil
}

func (t *fakeTx) InsertDetail(_ context.Context, d opname.Detail) (opname.Detail, error) {
	for _, existing := range t.details {
		if existing.SessionID == d.SessionID && existing.VariantID == d.VariantID {
			return opname.Detail{}, opname.ErrDuplicateDetail
		}
	}
	t.nextID++
	d.ID = t.nextID
	t.details[d.ID] = d
	return d, nil
}

func (t *fakeTx) GetDetailForUpdate(_ context.Context, sessionID, variantID int64) (opname.Detail, error) {
	for _, d := range t.details {
		if d.SessionID == sessionID && d.VariantID == variantID {
			return d, nil
		}
	}
	return opname.Detail{}, opname.ErrDetailNotFound
}

func (t *fakeTx) ListDetails(_ context.Context, sessionID int64) ([]opname.Detail, error) {
	return sortedDetails(t.details, sessionID), nil
}

func (t *fakeTx) UpdateDetail(_ context.Context, d opname.Detail) error {
	t.details[d.ID] = d
	return nil
}

func sortedDetails(all map[int64]opname.Detail, sessionID int64) []opname.Detail {
	out := []opname.Detail{}
	for _, d := range all {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}
