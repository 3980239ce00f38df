package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending                  OrderStatus = "Pending"
	OrderAwaitingStockReservation OrderStatus = "AwaitingStockReservation"
	OrderStockReserved            OrderStatus = "StockReserved"
	OrderStockReservationFailed   OrderStatus = "StockReservationFailed"
	OrderConfirmedStatus          OrderStatus = "Confirmed"
	OrderShipped                  OrderStatus = "Shipped"
	OrderDelivered                OrderStatus = "Delivered"
	OrderCancelledStatus          OrderStatus = "Cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderPending,
	OrderAwaitingStockReservation,
	OrderStockReserved,
	OrderStockReservationFailed,
	OrderConfirmedStatus,
	OrderShipped,
	OrderDelivered,
	OrderCancelledStatus,
}

// position on the happy path; failed and cancelled orders are off it.
var happyPath = map[OrderStatus]int{
	OrderPending:                  0,
	OrderAwaitingStockReservation: 1,
	OrderStockReserved:            2,
	OrderConfirmedStatus:          3,
	OrderShipped:                  4,
	OrderDelivered:                5,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range OrderStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", invalidArgument("unknown order status %q", s)
}

// HasReached reports whether s is target or a later happy-path status.
func (s OrderStatus) HasReached(target OrderStatus) bool {
	a, ok := happyPath[s]
	b, ok2 := happyPath[target]
	return ok && ok2 && a >= b
}

type OrderLine struct {
	Entity
	OrderID     uuid.UUID `json:"orderId"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	UnitPrice   Money     `json:"unitPrice"`
	Quantity    int       `json:"quantity"`
}

func (l OrderLine) TotalPrice() Money {
	return l.UnitPrice.Times(l.Quantity)
}

type Order struct {
	Entity
	CustomerID    string      `json:"customerId"`
	CustomerEmail string      `json:"customerEmail"`
	Status        OrderStatus `json:"status"`
	TotalAmount   Money       `json:"totalAmount"`
	Notes         string      `json:"notes,omitempty"`
	Lines         []OrderLine `json:"orderLines"`
}

func NewOrder(customerID, customerEmail string, currency Currency, notes string) (*Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, invalidArgument("customer id is required")
	}
	if strings.TrimSpace(customerEmail) == "" {
		return nil, invalidArgument("customer email is required")
	}
	c, err := ParseCurrency(string(currency))
	if err != nil {
		return nil, err
	}
	return &Order{
		Entity:        NewEntity(),
		CustomerID:    customerID,
		CustomerEmail: customerEmail,
		Status:        OrderPending,
		TotalAmount:   ZeroMoney(c),
		Notes:         notes,
	}, nil
}

func (o *Order) Currency() Currency {
	return o.TotalAmount.Currency
}

func (o *Order) Line(productID string) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

// AddOrderLine adds a line, merging quantities when the product is already
// on the order.
func (o *Order) AddOrderLine(productID, productName string, unitPrice Money, quantity int) error {
	if o.Status != OrderPending {
		return &TransitionError{Op: "add order line", From: o.Status}
	}
	if strings.TrimSpace(productID) == "" {
		return invalidArgument("product id is required")
	}
	if quantity <= 0 {
		return invalidArgument("quantity must be greater than zero")
	}
	if _, err := NewUnitPrice(unitPrice.Amount, unitPrice.Currency); err != nil {
		return err
	}
	if unitPrice.Currency != o.Currency() {
		return invalidArgument("line currency %s does not match order currency %s", unitPrice.Currency, o.Currency())
	}

	if line, ok := o.Line(productID); ok {
		line.Quantity += quantity
		line.touch()
	} else {
		line := OrderLine{
			Entity:      NewEntity(),
			OrderID:     o.ID,
			ProductID:   productID,
			ProductName: productName,
			UnitPrice:   unitPrice,
			Quantity:    quantity,
		}
		o.Lines = append(o.Lines, line)
	}
	o.recalculateTotal()
	return nil
}

func (o *Order) RemoveOrderLine(productID string) error {
	if o.Status != OrderPending {
		return &TransitionError{Op: "remove order line", From: o.Status}
	}
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			o.Lines = append(o.Lines[:i], o.Lines[i+1:]...)
			o.recalculateTotal()
			return nil
		}
	}
	return NotFound("order line for product", productID)
}

func (o *Order) UpdateOrderLineQuantity(productID string, quantity int) error {
	if o.Status != OrderPending {
		return &TransitionError{Op: "update order line", From: o.Status}
	}
	if quantity <= 0 {
		return invalidArgument("quantity must be greater than zero")
	}
	line, ok := o.Line(productID)
	if !ok {
		return NotFound("order line for product", productID)
	}
	line.Quantity = quantity
	line.touch()
	o.recalculateTotal()
	return nil
}

// RequestStockReservation moves a pending order to AwaitingStockReservation
// and returns the StockReservationRequested event to relay.
func (o *Order) RequestStockReservation() ([]OutboxEvent, error) {
	if o.Status != OrderPending {
		return nil, &TransitionError{Op: "request stock reservation", From: o.Status}
	}
	if len(o.Lines) == 0 {
		return nil, invalidState("cannot request stock reservation for an order without items")
	}

	payload := StockReservationRequested{OrderID: o.ID, RequestedAt: Now()}
	for _, l := range o.Lines {
		payload.Items = append(payload.Items, ReservationItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	ev, err := NewOutboxEvent(EventStockReservationRequested, payload, ExchangeStockEvents)
	if err != nil {
		return nil, err
	}

	o.setStatus(OrderAwaitingStockReservation)
	return []OutboxEvent{ev}, nil
}

func (o *Order) MarkStockReserved() error {
	if o.Status != OrderAwaitingStockReservation {
		return &TransitionError{Op: "mark stock reserved", From: o.Status}
	}
	o.setStatus(OrderStockReserved)
	return nil
}

// MarkStockReservationFailed is terminal for the saga. The reason is kept
// in the order notes.
func (o *Order) MarkStockReservationFailed(reason string) error {
	if o.Status != OrderAwaitingStockReservation {
		return &TransitionError{Op: "mark stock reservation failed", From: o.Status}
	}
	o.appendNote("Stock reservation failed: " + reason)
	o.setStatus(OrderStockReservationFailed)
	return nil
}

// ConfirmOrder returns the OrderConfirmed event that triggers stock
// deduction and the customer notification.
func (o *Order) ConfirmOrder() ([]OutboxEvent, error) {
	if o.Status != OrderStockReserved {
		return nil, &TransitionError{Op: "confirm order", From: o.Status}
	}
	if len(o.Lines) == 0 {
		return nil, invalidState("cannot confirm an order without items")
	}

	payload := OrderConfirmed{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		CustomerEmail: o.CustomerEmail,
		OccurredOn:    Now(),
	}
	for _, l := range o.Lines {
		payload.OrderLines = append(payload.OrderLines, OrderConfirmedLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	ev, err := NewOutboxEvent(EventOrderConfirmed, payload, ExchangeOrderEvents)
	if err != nil {
		return nil, err
	}

	o.setStatus(OrderConfirmedStatus)
	return []OutboxEvent{ev}, nil
}

// CancelOrder returns an OrderCancelled event when stock may be held for
// the order, so the stock service can release it.
func (o *Order) CancelOrder(reason string) ([]OutboxEvent, error) {
	switch o.Status {
	case OrderShipped, OrderDelivered, OrderCancelledStatus:
		return nil, &TransitionError{Op: "cancel order", From: o.Status}
	}

	var events []OutboxEvent
	switch o.Status {
	case OrderAwaitingStockReservation, OrderStockReserved, OrderConfirmedStatus:
		payload := OrderCancelled{OrderID: o.ID, Reason: reason, OccurredOn: Now()}
		for _, l := range o.Lines {
			payload.Items = append(payload.Items, ReservationItem{ProductID: l.ProductID, Quantity: l.Quantity})
		}
		ev, err := NewOutboxEvent(EventOrderCancelled, payload, ExchangeOrderEvents)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if reason != "" {
		o.appendNote("Cancelled: " + reason)
	}
	o.setStatus(OrderCancelledStatus)
	return events, nil
}

func (o *Order) MarkAsShipped() error {
	if o.Status != OrderConfirmedStatus {
		return &TransitionError{Op: "mark order as shipped", From: o.Status}
	}
	o.setStatus(OrderShipped)
	return nil
}

func (o *Order) MarkAsDelivered() error {
	if o.Status != OrderShipped {
		return &TransitionError{Op: "mark order as delivered", From: o.Status}
	}
	o.setStatus(OrderDelivered)
	return nil
}

func (o *Order) setStatus(s OrderStatus) {
	o.Status = s
	o.touch()
}

func (o *Order) appendNote(note string) {
	if o.Notes == "" {
		o.Notes = note
		return
	}
	o.Notes += "\n" + note
}

func (o *Order) recalculateTotal() {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.TotalPrice().Amount)
	}
	o.TotalAmount = Money{Amount: total.Round(2), Currency: o.Currency()}
	o.touch()
}
