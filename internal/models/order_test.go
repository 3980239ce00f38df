package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(t *testing.T, s string) Money {
	t.Helper()
	m, err := NewUnitPrice(decimal.RequireFromString(s), CurrencyTRY)
	require.NoError(t, err)
	return m
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder("c1", "c1@example.com", "", "")
	require.NoError(t, err)
	return o
}

func orderIn(t *testing.T, status OrderStatus) *Order {
	t.Helper()
	o := newTestOrder(t)
	require.NoError(t, o.AddOrderLine("P1", "Keyboard", price(t, "10.00"), 2))
	o.Status = status
	return o
}

func assertTotalMatchesLines(t *testing.T, o *Order) {
	t.Helper()
	sum := ZeroMoney(o.Currency())
	for _, l := range o.Lines {
		var err error
		sum, err = sum.Add(l.TotalPrice())
		require.NoError(t, err)
	}
	assert.True(t, sum.Equal(o.TotalAmount), "total %s, lines sum %s", o.TotalAmount, sum)
}

func TestCreateOrderScenario(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.AddOrderLine("P1", "Keyboard", price(t, "10.00"), 2))

	assert.Equal(t, OrderPending, o.Status)
	assert.Equal(t, "20.00", o.TotalAmount.Amount.StringFixed(2))

	events, err := o.RequestStockReservation()
	require.NoError(t, err)
	assert.Equal(t, OrderAwaitingStockReservation, o.Status)
	require.Len(t, events, 1)
	assert.Equal(t, EventStockReservationRequested, events[0].Type)
	assert.Equal(t, ExchangeStockEvents, events[0].ExchangeName)
	assert.Equal(t, "stockreservationrequested", events[0].RoutingKey())
	assert.Equal(t, DefaultMaxRetries, events[0].MaxRetries)

	var payload StockReservationRequested
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, []ReservationItem{{ProductID: "P1", Quantity: 2}}, payload.Items)
}

func TestOrderLineMutationsKeepTotal(t *testing.T) {
	o := newTestOrder(t)

	require.NoError(t, o.AddOrderLine("P1", "Keyboard", price(t, "10.00"), 2))
	assertTotalMatchesLines(t, o)

	require.NoError(t, o.AddOrderLine("P2", "Mouse", price(t, "4.99"), 3))
	assertTotalMatchesLines(t, o)
	assert.Equal(t, "34.97", o.TotalAmount.Amount.StringFixed(2))

	require.NoError(t, o.AddOrderLine("P1", "Keyboard", price(t, "10.00"), 1))
	require.Len(t, o.Lines, 2)
	line, ok := o.Line("P1")
	require.True(t, ok)
	assert.Equal(t, 3, line.Quantity)
	assertTotalMatchesLines(t, o)

	require.NoError(t, o.UpdateOrderLineQuantity("P2", 1))
	assertTotalMatchesLines(t, o)
	assert.Equal(t, "34.99", o.TotalAmount.Amount.StringFixed(2))

	require.NoError(t, o.RemoveOrderLine("P1"))
	assertTotalMatchesLines(t, o)
	assert.Equal(t, "4.99", o.TotalAmount.Amount.StringFixed(2))
}

func TestAddOrderLineValidation(t *testing.T) {
	o := newTestOrder(t)

	tests := []struct {
		name      string
		productID string
		price     Money
		quantity  int
	}{
		{"missing product", "", price(t, "1.00"), 1},
		{"zero quantity", "P1", price(t, "1.00"), 0},
		{"zero price", "P1", Money{Amount: decimal.Zero, Currency: CurrencyTRY}, 1},
		{"three decimals", "P1", Money{Amount: decimal.RequireFromString("1.005"), Currency: CurrencyTRY}, 1},
		{"other currency", "P1", Money{Amount: decimal.NewFromInt(1), Currency: CurrencyUSD}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.AddOrderLine(tt.productID, "x", tt.price, tt.quantity)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, o.Lines)
		})
	}
}

func TestLineMutationsOnlyWhilePending(t *testing.T) {
	for _, status := range OrderStatuses {
		if status == OrderPending {
			continue
		}
		t.Run(string(status), func(t *testing.T) {
			o := orderIn(t, status)
			total := o.TotalAmount

			assert.ErrorIs(t, o.AddOrderLine("P2", "Mouse", price(t, "1.00"), 1), ErrInvalidState)
			assert.ErrorIs(t, o.RemoveOrderLine("P1"), ErrInvalidState)
			assert.ErrorIs(t, o.UpdateOrderLineQuantity("P1", 5), ErrInvalidState)

			assert.Len(t, o.Lines, 1)
			assert.True(t, total.Equal(o.TotalAmount))
			assert.Equal(t, status, o.Status)
		})
	}
}

func TestRequestStockReservationRequiresLines(t *testing.T) {
	o := newTestOrder(t)
	events, err := o.RequestStockReservation()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, events)
	assert.Equal(t, OrderPending, o.Status)
}

func TestConfirmOrderOnlyFromStockReserved(t *testing.T) {
	for _, status := range OrderStatuses {
		if status == OrderStockReserved {
			continue
		}
		t.Run(string(status), func(t *testing.T) {
			o := orderIn(t, status)
			events, err := o.ConfirmOrder()

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, status, te.From)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Empty(t, events)
			assert.Equal(t, status, o.Status)
		})
	}
}

func TestConfirmOrderEmitsOrderConfirmed(t *testing.T) {
	o := orderIn(t, OrderStockReserved)

	events, err := o.ConfirmOrder()
	require.NoError(t, err)
	assert.Equal(t, OrderConfirmedStatus, o.Status)
	require.Len(t, events, 1)
	assert.Equal(t, ExchangeOrderEvents, events[0].ExchangeName)
	assert.Equal(t, "orderconfirmed", events[0].RoutingKey())

	var payload OrderConfirmed
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, "c1", payload.CustomerID)
	assert.Equal(t, "c1@example.com", payload.CustomerEmail)
	assert.Equal(t, []OrderConfirmedLine{{ProductID: "P1", Quantity: 2}}, payload.OrderLines)
}

func TestMarkStockReservedTwice(t *testing.T) {
	o := orderIn(t, OrderAwaitingStockReservation)

	require.NoError(t, o.MarkStockReserved())
	err := o.MarkStockReserved()

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, OrderStockReserved, o.Status)
	assert.True(t, o.Status.HasReached(OrderStockReserved))
}

func TestMarkStockReservationFailedAppendsReason(t *testing.T) {
	o := orderIn(t, OrderAwaitingStockReservation)
	o.Notes = "leave at door"

	require.NoError(t, o.MarkStockReservationFailed("P1: Insufficient stock available"))

	assert.Equal(t, OrderStockReservationFailed, o.Status)
	assert.Equal(t, "leave at door\nStock reservation failed: P1: Insufficient stock available", o.Notes)
}

func TestCancelOrder(t *testing.T) {
	allowed := map[OrderStatus]bool{
		OrderPending:                  true,
		OrderAwaitingStockReservation: true,
		OrderStockReserved:            true,
		OrderStockReservationFailed:   true,
		OrderConfirmedStatus:          true,
	}
	holdsStock := map[OrderStatus]bool{
		OrderAwaitingStockReservation: true,
		OrderStockReserved:            true,
		OrderConfirmedStatus:          true,
	}
	for _, status := range OrderStatuses {
		t.Run(string(status), func(t *testing.T) {
			o := orderIn(t, status)
			events, err := o.CancelOrder("customer request")
			if allowed[status] {
				require.NoError(t, err)
				assert.Equal(t, OrderCancelledStatus, o.Status)
				if holdsStock[status] {
					require.Len(t, events, 1)
					assert.Equal(t, EventOrderCancelled, events[0].Type)
					assert.Equal(t, ExchangeOrderEvents, events[0].ExchangeName)
				} else {
					assert.Empty(t, events)
				}
				return
			}
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, status, o.Status)
		})
	}
}

func TestShippingLifecycle(t *testing.T) {
	o := orderIn(t, OrderStockReserved)

	assert.ErrorIs(t, o.MarkAsShipped(), ErrInvalidState)
	assert.ErrorIs(t, o.MarkAsDelivered(), ErrInvalidState)

	_, err := o.ConfirmOrder()
	require.NoError(t, err)
	require.NoError(t, o.MarkAsShipped())
	_, err = o.CancelOrder("")
	assert.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, o.MarkAsDelivered())
	assert.Equal(t, OrderDelivered, o.Status)
}

func TestHasReached(t *testing.T) {
	assert.True(t, OrderConfirmedStatus.HasReached(OrderStockReserved))
	assert.True(t, OrderStockReserved.HasReached(OrderStockReserved))
	assert.False(t, OrderAwaitingStockReservation.HasReached(OrderStockReserved))
	assert.False(t, OrderCancelledStatus.HasReached(OrderStockReserved))
	assert.False(t, OrderStockReservationFailed.HasReached(OrderPending))
}

func TestCancelOrderEventListsLines(t *testing.T) {
	o := orderIn(t, OrderStockReserved)

	events, err := o.CancelOrder("changed my mind")
	require.NoError(t, err)
	require.Len(t, events, 1)

	var payload OrderCancelled
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, "changed my mind", payload.Reason)
	require.Len(t, payload.Items, len(o.Lines))
	assert.Equal(t, o.Lines[0].ProductID, payload.Items[0].ProductID)
	assert.Equal(t, o.Lines[0].Quantity, payload.Items[0].Quantity)
}
