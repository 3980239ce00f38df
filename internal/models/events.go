package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exchanges
const (
	ExchangeStockEvents        = "stock-events"
	ExchangeOrderEvents        = "order-events"
	ExchangeNotificationEvents = "notification-events"
)

// Event types. The routing key of an event is its lowercased type.
const (
	EventStockReservationRequested = "StockReservationRequested"
	EventStockReserved             = "StockReserved"
	EventStockReservationFailed    = "StockReservationFailed"
	EventOrderConfirmed            = "OrderConfirmed"
	EventOrderCancelled            = "OrderCancelled"
	EventNotificationEmail         = "notification.email"
	EventNotificationEmailFailed   = "notification.email.failed"
	EventNotificationSms           = "notification.sms"
	EventNotificationSmsFailed     = "notification.sms.failed"
)

// Routing keys
var (
	KeyStockReservationRequested = RoutingKeyFor(EventStockReservationRequested)
	KeyStockReserved             = RoutingKeyFor(EventStockReserved)
	KeyStockReservationFailed    = RoutingKeyFor(EventStockReservationFailed)
	KeyOrderConfirmed            = RoutingKeyFor(EventOrderConfirmed)
	KeyOrderCancelled            = RoutingKeyFor(EventOrderCancelled)
)

func RoutingKeyFor(eventType string) string {
	return strings.ToLower(eventType)
}

// Envelope is the wire format of every broker message. Data carries the
// event payload as a nested JSON string.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(id uuid.UUID, eventType, data string) Envelope {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return Envelope{ID: id, Type: eventType, Data: data, Timestamp: Now()}
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" || env.Data == "" {
		return Envelope{}, fmt.Errorf("failed to decode envelope: missing type or data")
	}
	return env, nil
}

// Decode unmarshals the nested payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

type ReservationItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type StockReservationRequested struct {
	OrderID     uuid.UUID         `json:"orderId"`
	Items       []ReservationItem `json:"items"`
	RequestedAt time.Time         `json:"requestedAt"`
}

type ReservedItem struct {
	ProductID        string `json:"productId"`
	Quantity         int    `json:"quantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
}

type StockReserved struct {
	OrderID    uuid.UUID      `json:"orderId"`
	Items      []ReservedItem `json:"items"`
	OccurredOn time.Time      `json:"occurredOn"`
}

type ReservationAttempt struct {
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	IsSuccess     bool   `json:"isSuccess"`
	FailureReason string `json:"failureReason,omitempty"`
}

type StockReservationFailed struct {
	OrderID    uuid.UUID            `json:"orderId"`
	Reason     string               `json:"reason"`
	Items      []ReservationAttempt `json:"items"`
	OccurredOn time.Time            `json:"occurredOn"`
}

type OrderConfirmedLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderConfirmed struct {
	OrderID       uuid.UUID            `json:"orderId"`
	CustomerID    string               `json:"customerId"`
	CustomerEmail string               `json:"customerEmail"`
	OrderLines    []OrderConfirmedLine `json:"orderLines"`
	OccurredOn    time.Time            `json:"occurredOn"`
}

// OrderCancelled asks the stock service to give back whatever the order
// still holds.
type OrderCancelled struct {
	OrderID    uuid.UUID         `json:"orderId"`
	Reason     string            `json:"reason,omitempty"`
	Items      []ReservationItem `json:"items"`
	OccurredOn time.Time         `json:"occurredOn"`
}

// NotificationMessage is the payload of notification.* events.
type NotificationMessage struct {
	NotificationID uuid.UUID         `json:"notificationId"`
	Recipient      string            `json:"recipient"`
	Subject        string            `json:"subject,omitempty"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	FailureReason  string            `json:"failureReason,omitempty"`
}
