package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/db/memory"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

func newOrderService(t *testing.T) (*OrderService, *memory.Outbox) {
	t.Helper()
	outbox := memory.NewOutbox()
	return NewOrderService(memory.NewOrderStore(outbox), zap.NewNop()), outbox
}

func keyboard(qty int) OrderLineInput {
	return OrderLineInput{ProductID: "P1", ProductName: "Keyboard", UnitPrice: decimal.RequireFromString("10.00"), Quantity: qty}
}

func TestCreateOrderWritesReservationRequest(t *testing.T) {
	ctx := context.Background()
	svc, outbox := newOrderService(t)

	order, err := svc.CreateOrder(ctx, CreateOrderInput{
		CustomerID:    "c1",
		CustomerEmail: "c1@example.com",
		Lines:         []OrderLineInput{keyboard(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaitingStockReservation, order.Status)
	assert.Equal(t, "20.00", order.TotalAmount.Amount.StringFixed(2))
	assert.Equal(t, models.CurrencyTRY, order.Currency())

	rows := outbox.All()
	require.Len(t, rows, 1)
	assert.Equal(t, models.EventStockReservationRequested, rows[0].Type)
	assert.Equal(t, models.ExchangeStockEvents, rows[0].ExchangeName)

	var payload models.StockReservationRequested
	env := models.NewEnvelope(rows[0].ID, rows[0].Type, rows[0].Data)
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, order.ID, payload.OrderID)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, models.ReservationItem{ProductID: "P1", Quantity: 2}, payload.Items[0])

	stored, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Status, stored.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	svc, outbox := newOrderService(t)

	tests := []struct {
		name string
		in   CreateOrderInput
	}{
		{"no lines", CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com"}},
		{"bad currency", CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Currency: "GBP", Lines: []OrderLineInput{keyboard(1)}}},
		{"zero quantity", CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Lines: []OrderLineInput{keyboard(0)}}},
		{"missing customer", CreateOrderInput{CustomerEmail: "c1@example.com", Lines: []OrderLineInput{keyboard(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, models.IsBusinessError(err), err)
		})
	}
	assert.Empty(t, outbox.All())
}

func TestDraftOrderLineEditing(t *testing.T) {
	ctx := context.Background()
	svc, outbox := newOrderService(t)

	order, err := svc.CreateOrder(ctx, CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Draft: true})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Empty(t, outbox.All())

	order, err = svc.AddOrderLine(ctx, order.ID, keyboard(1))
	require.NoError(t, err)
	order, err = svc.AddOrderLine(ctx, order.ID, OrderLineInput{ProductID: "P2", ProductName: "Mouse", UnitPrice: decimal.RequireFromString("5.50"), Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "21.00", order.TotalAmount.Amount.StringFixed(2))

	order, err = svc.UpdateOrderLineQuantity(ctx, order.ID, "P1", 3)
	require.NoError(t, err)
	assert.Equal(t, "41.00", order.TotalAmount.Amount.StringFixed(2))

	order, err = svc.RemoveOrderLine(ctx, order.ID, "P2")
	require.NoError(t, err)
	assert.Equal(t, "30.00", order.TotalAmount.Amount.StringFixed(2))

	_, err = svc.RemoveOrderLine(ctx, order.ID, "P9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	order, err = svc.RequestStockReservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAwaitingStockReservation, order.Status)
	assert.Len(t, outbox.All(), 1)

	_, err = svc.AddOrderLine(ctx, order.ID, keyboard(1))
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestOrderSagaTransitions(t *testing.T) {
	ctx := context.Background()
	svc, outbox := newOrderService(t)
	order, err := svc.CreateOrder(ctx, CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Lines: []OrderLineInput{keyboard(1)}})
	require.NoError(t, err)

	_, err = svc.ConfirmOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	order, err = svc.ConfirmStockReservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStockReserved, order.Status)

	order, err = svc.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmedStatus, order.Status)

	rows := outbox.All()
	require.Len(t, rows, 2)
	assert.Equal(t, models.EventOrderConfirmed, rows[1].Type)
	assert.Equal(t, models.ExchangeOrderEvents, rows[1].ExchangeName)

	order, err = svc.UpdateOrderStatus(ctx, order.ID, models.OrderShipped, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, order.Status)

	_, err = svc.CancelOrder(ctx, order.ID, "too late")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	order, err = svc.MarkAsDelivered(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, order.Status)
}

func TestFailStockReservationRecordsReason(t *testing.T) {
	ctx := context.Background()
	svc, _ := newOrderService(t)
	order, err := svc.CreateOrder(ctx, CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Lines: []OrderLineInput{keyboard(1)}})
	require.NoError(t, err)

	order, err = svc.FailStockReservation(ctx, order.ID, "P1: insufficient stock")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStockReservationFailed, order.Status)
	assert.Contains(t, order.Notes, "Stock reservation failed: P1: insufficient stock")

	order, err = svc.CancelOrder(ctx, order.ID, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelledStatus, order.Status)
	assert.Contains(t, order.Notes, "Cancelled: customer request")
}

func TestCancelAwaitingOrderQueuesRelease(t *testing.T) {
	ctx := context.Background()
	svc, outbox := newOrderService(t)
	order, err := svc.CreateOrder(ctx, CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com", Lines: []OrderLineInput{keyboard(2)}})
	require.NoError(t, err)

	order, err = svc.CancelOrder(ctx, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelledStatus, order.Status)

	rows := outbox.All()
	require.Len(t, rows, 2)
	assert.Equal(t, models.EventOrderCancelled, rows[1].Type)
	assert.Equal(t, models.ExchangeOrderEvents, rows[1].ExchangeName)
	assert.Equal(t, models.KeyOrderCancelled, rows[1].RoutingKey())
}

func TestUpdateOrderStatusRejectsPending(t *testing.T) {
	svc, _ := newOrderService(t)
	_, err := svc.UpdateOrderStatus(context.Background(), uuid.New(), models.OrderPending, "")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestListOrdersFiltersByCustomer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newOrderService(t)
	for _, c := range []string{"c1", "c1", "c2"} {
		_, err := svc.CreateOrder(ctx, CreateOrderInput{CustomerID: c, CustomerEmail: c + "@example.com", Lines: []OrderLineInput{keyboard(1)}})
		require.NoError(t, err)
	}

	page, err := svc.ListOrders(ctx, store.OrderFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	assert.Len(t, page.Items, 2)
}
