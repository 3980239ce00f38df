package models

import (
	"strings"

	"github.com/google/uuid"
)

// Stock tracks on-hand and reserved units of one product.
// 0 <= ReservedQuantity <= Quantity always holds.
type Stock struct {
	Entity
	ProductID        string `json:"productId"`
	Quantity         int    `json:"quantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
}

func NewStock(productID string, quantity int) (*Stock, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, invalidArgument("product id is required")
	}
	if quantity < 0 {
		return nil, invalidArgument("quantity cannot be negative")
	}
	return &Stock{Entity: NewEntity(), ProductID: productID, Quantity: quantity}, nil
}

func (s *Stock) AvailableQuantity() int {
	return s.Quantity - s.ReservedQuantity
}

func (s *Stock) CanReserve(quantity int) bool {
	return s.AvailableQuantity() >= quantity
}

// ReserveStock holds quantity units. It returns false and leaves the stock
// untouched when not enough units are available.
func (s *Stock) ReserveStock(quantity int) bool {
	if quantity <= 0 || !s.CanReserve(quantity) {
		return false
	}
	s.ReservedQuantity += quantity
	s.touch()
	return true
}

func (s *Stock) ReleaseReservation(quantity int) bool {
	if quantity <= 0 || s.ReservedQuantity < quantity {
		return false
	}
	s.ReservedQuantity -= quantity
	s.touch()
	return true
}

// ConfirmReservation deducts reserved units from the on-hand quantity.
func (s *Stock) ConfirmReservation(quantity int) bool {
	if quantity <= 0 || s.ReservedQuantity < quantity {
		return false
	}
	s.Quantity -= quantity
	s.ReservedQuantity -= quantity
	s.touch()
	return true
}

func (s *Stock) UpdateQuantity(quantity int) error {
	if quantity < 0 {
		return invalidArgument("quantity cannot be negative")
	}
	if quantity < s.ReservedQuantity {
		return invalidState("new quantity %d is below reserved quantity %d", quantity, s.ReservedQuantity)
	}
	s.Quantity = quantity
	s.touch()
	return nil
}

func (s *Stock) AddQuantity(quantity int) error {
	if quantity <= 0 {
		return invalidArgument("quantity to add must be greater than zero")
	}
	s.Quantity += quantity
	s.touch()
	return nil
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "Reserved"
	ReservationReleased  ReservationStatus = "Released"
	ReservationConfirmed ReservationStatus = "Confirmed"
)

// Reservation is the ledger entry for one product held by one order. It lets
// redelivered saga messages be recognised as already applied.
type Reservation struct {
	Entity
	OrderID   uuid.UUID         `json:"orderId"`
	ProductID string            `json:"productId"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
}

func NewReservation(orderID uuid.UUID, productID string, quantity int) *Reservation {
	return &Reservation{
		Entity:    NewEntity(),
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    ReservationReserved,
	}
}

func (r *Reservation) SetStatus(s ReservationStatus) {
	r.Status = s
	r.touch()
}
