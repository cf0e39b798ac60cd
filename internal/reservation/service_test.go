package reservation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
)

const (
	variantA int64 = 101
	variantB int64 = 102
)

func newTestService() (*reservation.Service, *fakeRepo, *ledgertest.Store) {
	store := ledgertest.NewStore()
	repo := newFakeRepo(store)
	recorder := ledger.NewService(store, ledger.ServiceConfig{})
	return reservation.NewService(repo, recorder, reservation.Config{}), repo, store
}

func TestConfirmDeductsEveryLine(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 10)
	store.Seed(variantB, 5)
	repo.addOrder(1, reservation.Line{VariantID: variantA, Quantity: 3}, reservation.Line{VariantID: variantB, Quantity: 2})

	res, err := svc.ConfirmOrder(context.Background(), 1, 8)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusConfirmed, res.Status)
	require.Len(t, res.Lines, 2)
	require.Equal(t, int64(7), store.Quantity(variantA))
	require.Equal(t, int64(3), store.Quantity(variantB))
}

func TestConfirmRollsBackWhenAnyLineIsShort(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 10)
	store.Seed(variantB, 1)
	repo.addOrder(1, reservation.Line{VariantID: variantA, Quantity: 3}, reservation.Line{VariantID: variantB, Quantity: 2})

	_, err := svc.ConfirmOrder(context.Background(), 1, 8)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var short *ledger.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Equal(t, variantB, short.VariantID)

	require.Equal(t, int64(10), store.Quantity(variantA), "variant A must not be partially deducted")
	require.Equal(t, int64(1), store.Quantity(variantB))
	require.Len(t, store.MovementsFor(variantA), 1)

	res, err := svc.GetReservation(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusPending, res.Status)
}

func TestConfirmIsNoOpWhenAlreadyConfirmed(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 10)
	repo.addOrder(1, reservation.Line{VariantID: variantA, Quantity: 4})
	ctx := context.Background()

	_, err := svc.ConfirmOrder(ctx, 1, 8)
	require.NoError(t, err)
	_, err = svc.ConfirmOrder(ctx, 1, 8)
	require.NoError(t, err)
	require.Equal(t, int64(6), store.Quantity(variantA))
}

func TestCancelRestoresExactlyOnce(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 10)
	store.Seed(variantB, 5)
	repo.addOrder(1, reservation.Line{VariantID: variantB, Quantity: 2}, reservation.Line{VariantID: variantA, Quantity: 3})
	ctx := context.Background()

	_, err := svc.ConfirmOrder(ctx, 1, 8)
	require.NoError(t, err)

	res, err := svc.CancelOrder(ctx, 1, 8)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusCancelled, res.Status)
	for _, line := range res.Lines {
		require.NotNil(t, line.InMovementID)
	}
	res, err = svc.CancelOrder(ctx, 1, 8)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusCancelled, res.Status)

	require.Equal(t, int64(10), store.Quantity(variantA))
	require.Equal(t, int64(5), store.Quantity(variantB))
	require.Len(t, store.MovementsFor(variantA), 3, "seed, out, one in")

	_, err = svc.ConfirmOrder(ctx, 1, 8)
	require.ErrorIs(t, err, reservation.ErrOrderCancelled)
}

func TestVoidOfOrderMovementLeavesCancelAsOnlyRestore(t *testing.T) {
	store := ledgertest.NewStore()
	repo := newFakeRepo(store)
	recorder := ledger.NewService(store, ledger.ServiceConfig{})
	svc := reservation.NewService(repo, recorder, reservation.Config{})
	store.Seed(variantA, 10)
	repo.addOrder(1, reservation.Line{VariantID: variantA, Quantity: 3})
	ctx := context.Background()

	res, err := svc.ConfirmOrder(ctx, 1, 8)
	require.NoError(t, err)
	require.Equal(t, int64(7), store.Quantity(variantA))

	_, err = recorder.Void(ctx, res.Lines[0].OutMovementID, 8, "customer called")
	require.ErrorIs(t, err, ledger.ErrOwnedMovement)
	require.Equal(t, int64(7), store.Quantity(variantA))

	_, err = svc.CancelOrder(ctx, 1, 8)
	require.NoError(t, err)
	require.Equal(t, int64(10), store.Quantity(variantA))
	require.Equal(t, store.ActiveSum(variantA), store.Quantity(variantA))
}

func TestCancelNeverConfirmedPostsNothing(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 10)
	repo.addOrder(1, reservation.Line{VariantID: variantA, Quantity: 3})

	res, err := svc.CancelOrder(context.Background(), 1, 8)
	require.NoError(t, err)
	require.Equal(t, reservation.StatusCancelled, res.Status)
	require.Equal(t, int64(10), store.Quantity(variantA))
	require.Len(t, store.Movements(), 1)
}

func TestConfirmLocksAscendingAndMergesLines(t *testing.T) {
	svc, repo, store := newTestService()
	for _, v := range []int64{30, 10, 20} {
		store.Seed(v, 10)
	}
	repo.addOrder(1,
		reservation.Line{VariantID: 30, Quantity: 1},
		reservation.Line{VariantID: 10, Quantity: 1},
		reservation.Line{VariantID: 20, Quantity: 1},
		reservation.Line{VariantID: 10, Quantity: 2},
	)

	res, err := svc.ConfirmOrder(context.Background(), 1, 8)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 30}, repo.locks)
	require.Len(t, res.Lines, 3)
	require.Equal(t, int64(7), store.Quantity(10))
}

func TestConfirmUnknownOrEmptyOrder(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.ConfirmOrder(context.Background(), 404, 8)
	require.ErrorIs(t, err, reservation.ErrOrderNotFound)

	repo.addOrder(2, reservation.Line{VariantID: variantA, Quantity: 0})
	_, err = svc.ConfirmOrder(context.Background(), 2, 8)
	require.ErrorIs(t, err, reservation.ErrInvalidLine)
}

func TestConcurrentOrdersOnSharedVariants(t *testing.T) {
	svc, repo, store := newTestService()
	store.Seed(variantA, 20)
	store.Seed(variantB, 20)
	for id := int64(1); id <= 12; id++ {
		if id%2 == 0 {
			repo.addOrder(id, reservation.Line{VariantID: variantA, Quantity: 2}, reservation.Line{VariantID: variantB, Quantity: 2})
		} else {
			repo.addOrder(id, reservation.Line{VariantID: variantB, Quantity: 2}, reservation.Line{VariantID: variantA, Quantity: 2})
		}
	}

	var wg sync.WaitGroup
	for id := int64(1); id <= 12; id++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			_, _ = svc.ConfirmOrder(context.Background(), orderID, 8)
		}(id)
	}
	wg.Wait()

	require.Equal(t, int64(0), store.Quantity(variantA))
	require.Equal(t, int64(0), store.Quantity(variantB))
	require.Equal(t, store.ActiveSum(variantA), store.Quantity(variantA))
}

func TestAggregate(t *testing.T) {
	lines, err := reservation.Aggregate([]reservation.Line{{VariantID: 5, Quantity: 1}, {VariantID: 2, Quantity: 4}, {VariantID: 5, Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, []reservation.Line{{VariantID: 2, Quantity: 4}, {VariantID: 5, Quantity: 3}}, lines)
}
