package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/db/memory"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

func newStockService(t *testing.T, stock map[string]int) (*StockService, *memory.StockStore) {
	t.Helper()
	st := memory.NewStockStore(memory.NewOutbox())
	svc := NewStockService(st, zap.NewNop())
	for pid, qty := range stock {
		_, err := svc.CreateStock(context.Background(), pid, qty)
		require.NoError(t, err)
	}
	return svc, st
}

func stockOf(t *testing.T, svc *StockService, pid string) *models.Stock {
	t.Helper()
	s, err := svc.GetStockByProduct(context.Background(), pid)
	require.NoError(t, err)
	return s
}

func TestReserveStockIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	svc, st := newStockService(t, map[string]int{"P1": 10})
	orderID := uuid.New()

	first, err := svc.ReserveStock(ctx, orderID, "P1", 4)
	require.NoError(t, err)
	second, err := svc.ReserveStock(ctx, orderID, "P1", 4)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	s := stockOf(t, svc, "P1")
	assert.Equal(t, 4, s.ReservedQuantity)
	assert.Equal(t, 6, s.AvailableQuantity())

	res, ok := st.Reservation(orderID, "P1")
	require.True(t, ok)
	assert.Equal(t, models.ReservationReserved, res.Status)
}

func TestReserveStockInsufficient(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStockService(t, map[string]int{"P1": 3})

	_, err := svc.ReserveStock(ctx, uuid.New(), "P1", 5)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 0, stockOf(t, svc, "P1").ReservedQuantity)

	_, err = svc.ReserveStock(ctx, uuid.New(), "missing", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.ReserveStock(ctx, uuid.New(), "P1", 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestReleaseAndConfirmUseLedgerQuantity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStockService(t, map[string]int{"P1": 10, "P2": 10})
	orderID := uuid.New()

	_, err := svc.ReserveStock(ctx, orderID, "P1", 3)
	require.NoError(t, err)
	_, err = svc.ReserveStock(ctx, orderID, "P2", 2)
	require.NoError(t, err)

	require.NoError(t, svc.ReleaseReservation(ctx, orderID, "P1"))
	require.NoError(t, svc.ReleaseReservation(ctx, orderID, "P1"))
	p1 := stockOf(t, svc, "P1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)

	require.NoError(t, svc.ConfirmReservation(ctx, orderID, "P2"))
	require.NoError(t, svc.ConfirmReservation(ctx, orderID, "P2"))
	p2 := stockOf(t, svc, "P2")
	assert.Equal(t, 8, p2.Quantity)
	assert.Equal(t, 0, p2.ReservedQuantity)

	_, err = svc.ReserveStock(ctx, orderID, "P1", 3)
	assert.ErrorIs(t, err, models.ErrReservationReleased)

	err = svc.ConfirmReservation(ctx, orderID, "P1")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	err = svc.ReleaseReservation(ctx, uuid.New(), "P1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStockService(t, map[string]int{"P1": 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ReserveStock(ctx, uuid.New(), "P1", 1); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, success)
	assert.Equal(t, 10, stockOf(t, svc, "P1").ReservedQuantity)
}

func TestStockQuantityAdjustments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStockService(t, map[string]int{"P1": 5})
	s := stockOf(t, svc, "P1")

	_, err := svc.ReserveStock(ctx, uuid.New(), "P1", 4)
	require.NoError(t, err)

	_, err = svc.UpdateQuantity(ctx, s.ID, 3)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = svc.UpdateQuantity(ctx, s.ID, -1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	s, err = svc.AddQuantity(ctx, s.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Quantity)

	ok, err := svc.CheckAvailability(ctx, "P1", 6)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.CheckAvailability(ctx, "P1", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	avail, err := svc.AvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 6, avail)

	_, err = svc.CreateStock(ctx, "P1", 1)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestListStocksAvailableOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newStockService(t, map[string]int{"P1": 2, "P2": 0, "P3": 7})

	page, err := svc.ListStocks(ctx, store.StockFilter{AvailableOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	page, err = svc.ListStocks(ctx, store.StockFilter{MinAvailable: 5})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "P3", page.Items[0].ProductID)
}

func TestConcurrentDuplicateReservationHoldsOnce(t *testing.T) {
	ctx := context.Background()
	st := newRowLockStockStore()
	svc := NewStockService(st, zap.NewNop())
	_, err := svc.CreateStock(ctx, "P1", 10)
	require.NoError(t, err)
	orderID := uuid.New()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ReserveStock(ctx, orderID, "P1", 3)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[res.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 3, stockOf(t, svc, "P1").ReservedQuantity)
	res, ok := st.ledger(orderID, "P1")
	require.True(t, ok)
	assert.Equal(t, 3, res.Quantity)
}

func TestDuplicateReservationLosingLedgerInsertRetries(t *testing.T) {
	ctx := context.Background()
	st := newRowLockStockStore()
	svc := NewStockService(st, zap.NewNop())
	_, err := svc.CreateStock(ctx, "P1", 10)
	require.NoError(t, err)

	// Without row locks both transactions read an empty ledger before either
	// commits; the unique key must reject the second.
	st.noRowLocks = true
	var (
		mu      sync.Mutex
		readers int
		bothIn  = make(chan struct{})
	)
	st.onLedgerRead = func() {
		mu.Lock()
		readers++
		n := readers
		mu.Unlock()
		switch {
		case n == 2:
			close(bothIn)
		case n < 2:
			<-bothIn
		}
	}

	orderID := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ReserveStock(ctx, orderID, "P1", 4)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, stockOf(t, svc, "P1").ReservedQuantity)
	res, ok := st.ledger(orderID, "P1")
	require.True(t, ok)
	assert.Equal(t, models.ReservationReserved, res.Status)
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("releases a held reservation", func(t *testing.T) {
		svc, st := newStockService(t, map[string]int{"P1": 10})
		orderID := uuid.New()
		_, err := svc.ReserveStock(ctx, orderID, "P1", 4)
		require.NoError(t, err)

		require.NoError(t, svc.CancelReservation(ctx, orderID, "P1", 4))
		require.NoError(t, svc.CancelReservation(ctx, orderID, "P1", 4))

		assert.Equal(t, 0, stockOf(t, svc, "P1").ReservedQuantity)
		res, ok := st.Reservation(orderID, "P1")
		require.True(t, ok)
		assert.Equal(t, models.ReservationReleased, res.Status)
	})

	t.Run("blocks a reservation that arrives later", func(t *testing.T) {
		svc, st := newStockService(t, map[string]int{"P1": 10})
		orderID := uuid.New()

		require.NoError(t, svc.CancelReservation(ctx, orderID, "P1", 2))
		res, ok := st.Reservation(orderID, "P1")
		require.True(t, ok)
		assert.Equal(t, models.ReservationReleased, res.Status)

		_, err := svc.ReserveStock(ctx, orderID, "P1", 2)
		assert.ErrorIs(t, err, models.ErrReservationReleased)
		assert.Equal(t, 0, stockOf(t, svc, "P1").ReservedQuantity)
	})

	t.Run("leaves a confirmed deduction alone", func(t *testing.T) {
		svc, _ := newStockService(t, map[string]int{"P1": 10})
		orderID := uuid.New()
		_, err := svc.ReserveStock(ctx, orderID, "P1", 3)
		require.NoError(t, err)
		require.NoError(t, svc.ConfirmReservation(ctx, orderID, "P1"))

		err = svc.CancelReservation(ctx, orderID, "P1", 3)
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.Equal(t, 7, stockOf(t, svc, "P1").Quantity)
	})

	t.Run("unknown product", func(t *testing.T) {
		svc, _ := newStockService(t, nil)
		err := svc.CancelReservation(ctx, uuid.New(), "nope", 1)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc, _ := newStockService(t, map[string]int{"P1": 1})
		err := svc.CancelReservation(ctx, uuid.New(), "P1", 0)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	})
}
