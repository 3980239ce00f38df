package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/db/memory"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/notify"
	"github.com/prudhivi99/minisys-saga/internal/outbox"
	"github.com/prudhivi99/minisys-saga/internal/publisher"
	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type saga struct {
	bus           *publisher.InMemoryBus
	orderOutbox   *memory.Outbox
	stockOutbox   *memory.Outbox
	stockStore    *memory.StockStore
	orders        *service.OrderService
	stock         *service.StockService
	notifications *service.NotificationService
	stockHandler  *StockConsumer
	orderHandler  *OrderConsumer
	dispatchers   []*outbox.Dispatcher
}

func newSaga(t *testing.T, stock map[string]int) *saga {
	t.Helper()
	log := zap.NewNop()
	bus := publisher.NewInMemoryBus(log)

	orderOutbox, stockOutbox, notifOutbox := memory.NewOutbox(), memory.NewOutbox(), memory.NewOutbox()
	stockStore := memory.NewStockStore(stockOutbox)

	s := &saga{
		bus:           bus,
		orderOutbox:   orderOutbox,
		stockOutbox:   stockOutbox,
		stockStore:    stockStore,
		orders:        service.NewOrderService(memory.NewOrderStore(orderOutbox), log),
		stock:         service.NewStockService(stockStore, log),
		notifications: service.NewNotificationService(memory.NewNotificationStore(notifOutbox), notify.NewLogSender(log), log),
	}
	s.stockHandler = NewStockConsumer(s.stock, log)
	s.orderHandler = NewOrderConsumer(s.orders, log)
	notifHandler := NewNotificationConsumer(s.notifications, log)

	bus.Subscribe(s.stockHandler.Listener(nil))
	bus.Subscribe(s.orderHandler.Listener(nil))
	bus.Subscribe(notifHandler.EmailListener(nil))
	bus.Subscribe(notifHandler.SmsListener(nil))

	cfg := outbox.Config{BatchSize: 10}
	s.dispatchers = []*outbox.Dispatcher{
		outbox.NewDispatcher(orderOutbox, publisher.NewRegistry(
			bus.Publisher(models.ExchangeStockEvents), bus.Publisher(models.ExchangeOrderEvents)), cfg, nil, log),
		outbox.NewDispatcher(stockOutbox, publisher.NewRegistry(bus.Publisher(models.ExchangeStockEvents)), cfg, nil, log),
		outbox.NewDispatcher(notifOutbox, publisher.NewRegistry(bus.Publisher(models.ExchangeNotificationEvents)), cfg, nil, log),
	}

	for pid, qty := range stock {
		_, err := s.stock.CreateStock(context.Background(), pid, qty)
		require.NoError(t, err)
	}
	return s
}

// settle relays outboxes and delivers messages until the system is quiet.
func (s *saga) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		moved := 0
		for _, d := range s.dispatchers {
			res, err := d.ProcessOnce(ctx)
			require.NoError(t, err)
			moved += res.Published
		}
		moved += s.bus.Drain(ctx)
		if moved == 0 {
			return
		}
	}
	t.Fatal("saga did not settle")
}

func (s *saga) placeOrder(t *testing.T, items map[string]int) *models.Order {
	t.Helper()
	in := service.CreateOrderInput{CustomerID: "c1", CustomerEmail: "c1@example.com"}
	for pid, qty := range items {
		in.Lines = append(in.Lines, service.OrderLineInput{
			ProductID: pid, ProductName: pid, UnitPrice: decimal.RequireFromString("10.00"), Quantity: qty,
		})
	}
	order, err := s.orders.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	return order
}

func (s *saga) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	o, err := s.orders.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (s *saga) stockOf(t *testing.T, pid string) *models.Stock {
	t.Helper()
	st, err := s.stock.GetStockByProduct(context.Background(), pid)
	require.NoError(t, err)
	return st
}

func eventTypes(rows []models.OutboxEvent) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.Type)
	}
	return out
}

func TestSagaHappyPath(t *testing.T) {
	s := newSaga(t, map[string]int{"P1": 10, "P2": 5})
	order := s.placeOrder(t, map[string]int{"P1": 2, "P2": 1})

	s.settle(t)

	assert.Equal(t, models.OrderConfirmedStatus, s.order(t, order.ID).Status)

	p1 := s.stockOf(t, "P1")
	assert.Equal(t, 8, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)
	p2 := s.stockOf(t, "P2")
	assert.Equal(t, 4, p2.Quantity)
	assert.Equal(t, 0, p2.ReservedQuantity)

	page, err := s.notifications.ListNotifications(context.Background(), store.NotificationFilter{Recipient: "c1@example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, models.NotificationDelivered, page.Items[0].Status)

	assert.Empty(t, s.bus.DeadLetters())
	assert.Equal(t, []string{models.EventStockReserved}, eventTypes(s.stockOutbox.All()))
}

func TestSagaCompensatesPartialReservation(t *testing.T) {
	s := newSaga(t, map[string]int{"A": 10, "B": 1})
	order := s.placeOrder(t, map[string]int{"A": 3, "B": 2})

	s.settle(t)

	got := s.order(t, order.ID)
	assert.Equal(t, models.OrderStockReservationFailed, got.Status)
	assert.Contains(t, got.Notes, "B: ")

	a := s.stockOf(t, "A")
	assert.Equal(t, 10, a.Quantity)
	assert.Equal(t, 0, a.ReservedQuantity)
	b := s.stockOf(t, "B")
	assert.Equal(t, 1, b.Quantity)
	assert.Equal(t, 0, b.ReservedQuantity)

	res, ok := s.stockStore.Reservation(order.ID, "A")
	require.True(t, ok)
	assert.Equal(t, models.ReservationReleased, res.Status)

	rows := s.stockOutbox.All()
	assert.Equal(t, []string{models.EventStockReservationFailed}, eventTypes(rows))

	var failed models.StockReservationFailed
	require.NoError(t, json.Unmarshal([]byte(rows[0].Data), &failed))
	require.Len(t, failed.Items, 2)
	for _, item := range failed.Items {
		assert.Equal(t, item.ProductID == "A", item.IsSuccess)
	}

	for _, row := range s.orderOutbox.All() {
		assert.NotEqual(t, models.EventOrderConfirmed, row.Type)
	}
}

func TestReservationRequestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 5})
	orderID := uuid.New()

	req := models.StockReservationRequested{OrderID: orderID, Items: []models.ReservationItem{{ProductID: "P1", Quantity: 3}}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	env := models.NewEnvelope(uuid.New(), models.EventStockReservationRequested, string(data))

	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, env))
	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, env))

	st := s.stockOf(t, "P1")
	assert.Equal(t, 3, st.ReservedQuantity)
	assert.Equal(t, 2, st.AvailableQuantity())
}

func TestFailedReservationRedeliveryStaysFailed(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"A": 10, "B": 0})
	orderID := uuid.New()

	req := models.StockReservationRequested{OrderID: orderID, Items: []models.ReservationItem{
		{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 1},
	}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	env := models.NewEnvelope(uuid.New(), models.EventStockReservationRequested, string(data))

	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, env))
	_, err = s.stock.AddQuantity(ctx, s.stockOf(t, "B").ID, 5)
	require.NoError(t, err)
	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, env))

	assert.Equal(t, 0, s.stockOf(t, "A").ReservedQuantity)
	assert.Equal(t, 0, s.stockOf(t, "B").ReservedQuantity)
	assert.Equal(t,
		[]string{models.EventStockReservationFailed, models.EventStockReservationFailed},
		eventTypes(s.stockOutbox.All()))
}

func TestStockReservedRedeliveryConfirmsOnce(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 5})
	order := s.placeOrder(t, map[string]int{"P1": 1})

	data, err := json.Marshal(models.StockReserved{OrderID: order.ID})
	require.NoError(t, err)
	env := models.NewEnvelope(uuid.New(), models.EventStockReserved, string(data))

	require.NoError(t, s.orderHandler.HandleStockReserved(ctx, env))
	require.NoError(t, s.orderHandler.HandleStockReserved(ctx, env))

	assert.Equal(t, models.OrderConfirmedStatus, s.order(t, order.ID).Status)
	assert.Equal(t,
		[]string{models.EventStockReservationRequested, models.EventOrderConfirmed},
		eventTypes(s.orderOutbox.All()))
}

func TestUnknownOrderIsDeadLettered(t *testing.T) {
	s := newSaga(t, nil)
	data, err := json.Marshal(models.StockReservationFailed{OrderID: uuid.New(), Reason: "x"})
	require.NoError(t, err)
	env := models.NewEnvelope(uuid.New(), models.EventStockReservationFailed, string(data))

	err = s.orderHandler.HandleStockReservationFailed(context.Background(), env)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func reservationRequest(t *testing.T, orderID uuid.UUID, items ...models.ReservationItem) models.Envelope {
	t.Helper()
	data, err := json.Marshal(models.StockReservationRequested{OrderID: orderID, Items: items})
	require.NoError(t, err)
	return models.NewEnvelope(uuid.New(), models.EventStockReservationRequested, string(data))
}

func TestCancelledOrderReleasesHeldStock(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 10})
	order := s.placeOrder(t, map[string]int{"P1": 4})

	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx,
		reservationRequest(t, order.ID, models.ReservationItem{ProductID: "P1", Quantity: 4})))
	require.Equal(t, 4, s.stockOf(t, "P1").ReservedQuantity)

	_, err := s.orders.CancelOrder(ctx, order.ID, "changed my mind")
	require.NoError(t, err)
	s.settle(t)

	assert.Equal(t, models.OrderCancelledStatus, s.order(t, order.ID).Status)
	p1 := s.stockOf(t, "P1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)

	res, ok := s.stockStore.Reservation(order.ID, "P1")
	require.True(t, ok)
	assert.Equal(t, models.ReservationReleased, res.Status)
	assert.Empty(t, s.bus.DeadLetters())
}

func TestCancellationBeforeReservationBlocksLaterHold(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 10})
	order := s.placeOrder(t, map[string]int{"P1": 2})

	_, err := s.orders.CancelOrder(ctx, order.ID, "")
	require.NoError(t, err)

	// the cancellation overtakes the reservation request
	var cancelled models.OutboxEvent
	for _, row := range s.orderOutbox.All() {
		if row.Type == models.EventOrderCancelled {
			cancelled = row
		}
	}
	require.Equal(t, models.EventOrderCancelled, cancelled.Type)
	require.NoError(t, s.stockHandler.HandleOrderCancelled(ctx,
		models.NewEnvelope(cancelled.ID, cancelled.Type, cancelled.Data)))

	s.settle(t)

	assert.Equal(t, models.OrderCancelledStatus, s.order(t, order.ID).Status)
	p1 := s.stockOf(t, "P1")
	assert.Equal(t, 10, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)
	assert.Equal(t, []string{models.EventStockReservationFailed}, eventTypes(s.stockOutbox.All()))
}

func TestCancelAfterConfirmationKeepsDeduction(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 10})
	order := s.placeOrder(t, map[string]int{"P1": 3})
	s.settle(t)
	require.Equal(t, models.OrderConfirmedStatus, s.order(t, order.ID).Status)

	_, err := s.orders.CancelOrder(ctx, order.ID, "")
	require.NoError(t, err)
	s.settle(t)

	p1 := s.stockOf(t, "P1")
	assert.Equal(t, 7, p1.Quantity)
	assert.Equal(t, 0, p1.ReservedQuantity)
	assert.Empty(t, s.bus.DeadLetters())
}

func TestRepeatedProductLinesReserveCombinedQuantity(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 10})
	orderID := uuid.New()

	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, reservationRequest(t, orderID,
		models.ReservationItem{ProductID: "P1", Quantity: 2},
		models.ReservationItem{ProductID: "P1", Quantity: 3})))

	p1 := s.stockOf(t, "P1")
	assert.Equal(t, 5, p1.ReservedQuantity)
	assert.Equal(t, 5, p1.AvailableQuantity())
	assert.Equal(t, []string{models.EventStockReserved}, eventTypes(s.stockOutbox.All()))

	res, ok := s.stockStore.Reservation(orderID, "P1")
	require.True(t, ok)
	assert.Equal(t, 5, res.Quantity)
}

func TestRepeatedProductLinesCheckedAgainstCombinedQuantity(t *testing.T) {
	ctx := context.Background()
	s := newSaga(t, map[string]int{"P1": 4})
	orderID := uuid.New()

	require.NoError(t, s.stockHandler.HandleReservationRequested(ctx, reservationRequest(t, orderID,
		models.ReservationItem{ProductID: "P1", Quantity: 2},
		models.ReservationItem{ProductID: "P1", Quantity: 3})))

	assert.Equal(t, 0, s.stockOf(t, "P1").ReservedQuantity)
	assert.Equal(t, []string{models.EventStockReservationFailed}, eventTypes(s.stockOutbox.All()))
}
