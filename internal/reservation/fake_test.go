package reservation_test

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
)

type fakeRepo struct {
	mu           sync.Mutex
	store        *ledgertest.Store
	orders       map[int64][]reservation.Line
	reservations map[int64]reservation.Reservation
	lines        map[int64][]reservation.ReservedLine
	locks        []int64
}

func newFakeRepo(store *ledgertest.Store) *fakeRepo {
	return &fakeRepo{
		store:        store,
		orders:       map[int64][]reservation.Line{},
		reservations: map[int64]reservation.Reservation{},
		lines:        map[int64][]reservation.ReservedLine{},
	}
}

func (f *fakeRepo) addOrder(orderID int64, lines ...reservation.Line) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID] = lines
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, reservation.TxRepository) error) error {
	return f.store.Atomic(func(ltx *ledgertest.Tx) error {
		f.mu.Lock()
		tx := &fakeTx{
			ledger:       ltx,
			orders:       f.orders,
			reservations: map[int64]reservation.Reservation{},
			lines:        map[int64][]reservation.ReservedLine{},
		}
		for k, v := range f.reservations {
			tx.reservations[k] = v
		}
		for k, v := range f.lines {
			tx.lines[k] = append([]reservation.ReservedLine(nil), v...)
		}
		f.mu.Unlock()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reservations, f.lines = tx.reservations, tx.lines
		f.locks = ltx.Locked
		return nil
	})
}

func (f *fakeRepo) GetReservation(_ context.Context, orderID int64) (reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[orderID]
	if !ok {
		return reservation.Reservation{OrderID: orderID, Status: reservation.StatusPending}, nil
	}
	res.Lines = append([]reservation.ReservedLine(nil), f.lines[orderID]...)
	return res, nil
}

type fakeTx struct {
	ledger       *ledgertest.Tx
	orders       map[int64][]reservation.Line
	reservations map[int64]reservation.Reservation
	lines        map[int64][]reservation.ReservedLine
}

func (t *fakeTx) Ledger() ledger.TxRepository { return t.ledger }

func (t *fakeTx) LockReservation(_ context.Context, orderID int64) (reservation.Reservation, error) {
	res, ok := t.reservations[orderID]
	if !ok {
		res = reservation.Reservation{OrderID: orderID, Status: reservation.StatusPending}
		t.reservations[orderID] = res
	}
	return res, nil
}

func (t *fakeTx) SaveReservation(_ context.Context, res reservation.Reservation) error {
	t.reservations[res.OrderID] = res
	return nil
}

func (t *fakeTx) ListOrderLines(_ context.Context, orderID int64) ([]reservation.Line, error) {
	return append([]reservation.Line(nil), t.orders[orderID]...), nil
}

func (t *fakeTx) ListLines(_ context.Context, orderID int64) ([]reservation.ReservedLine, error) {
	return append([]reservation.ReservedLine(nil), t.lines[orderID]...), nil
}

func (t *fakeTx) SaveLines(_ context.Context, orderID int64, lines []reservation.ReservedLine) error {
	t.lines[orderID] = append([]reservation.ReservedLine(nil), lines...)
	return nil
}
