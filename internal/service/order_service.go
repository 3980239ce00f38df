package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type OrderLineInput struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

type CreateOrderInput struct {
	CustomerID    string
	CustomerEmail string
	Currency      string
	Notes         string
	Lines         []OrderLineInput
	// Draft keeps the order Pending so lines can still be edited.
	Draft bool
}

type OrderService struct {
	store store.OrderStore
	opts  options
	log   *zap.Logger
}

func NewOrderService(st store.OrderStore, log *zap.Logger, opts ...Option) *OrderService {
	return &OrderService{store: st, opts: buildOptions(opts), log: log}
}

// CreateOrder persists a new order and, unless it is a draft, immediately
// requests the stock reservation that starts the saga.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	currency, err := models.ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	order, err := models.NewOrder(in.CustomerID, in.CustomerEmail, currency, in.Notes)
	if err != nil {
		return nil, err
	}
	for _, l := range in.Lines {
		price, err := models.NewUnitPrice(l.UnitPrice, currency)
		if err != nil {
			return nil, err
		}
		if err := order.AddOrderLine(l.ProductID, l.ProductName, price, l.Quantity); err != nil {
			return nil, err
		}
	}

	var events []models.OutboxEvent
	if !in.Draft {
		if events, err = order.RequestStockReservation(); err != nil {
			return nil, err
		}
	}

	err = s.store.InTx(ctx, func(tx store.OrderTx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, s.opts.stamp(events)...)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("✅ Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID),
		zap.String("status", string(order.Status)),
		zap.Stringer("total", order.TotalAmount))
	if !in.Draft {
		s.opts.metrics.SagaTransition(ctx, "order.stock_reservation_requested")
	}
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *OrderService) ListOrders(ctx context.Context, f store.OrderFilter) (models.Page[models.Order], error) {
	return s.store.ListOrders(ctx, f)
}

func (s *OrderService) AddOrderLine(ctx context.Context, id uuid.UUID, in OrderLineInput) (*models.Order, error) {
	return s.mutate(ctx, id, "", func(o *models.Order) ([]models.OutboxEvent, error) {
		price, err := models.NewUnitPrice(in.UnitPrice, o.Currency())
		if err != nil {
			return nil, err
		}
		return nil, o.AddOrderLine(in.ProductID, in.ProductName, price, in.Quantity)
	})
}

func (s *OrderService) UpdateOrderLineQuantity(ctx context.Context, id uuid.UUID, productID string, quantity int) (*models.Order, error) {
	return s.mutate(ctx, id, "", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.UpdateOrderLineQuantity(productID, quantity)
	})
}

func (s *OrderService) RemoveOrderLine(ctx context.Context, id uuid.UUID, productID string) (*models.Order, error) {
	return s.mutate(ctx, id, "", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.RemoveOrderLine(productID)
	})
}

func (s *OrderService) RequestStockReservation(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, "order.stock_reservation_requested", func(o *models.Order) ([]models.OutboxEvent, error) {
		return o.RequestStockReservation()
	})
}

func (s *OrderService) ConfirmStockReservation(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, "order.stock_reserved", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.MarkStockReserved()
	})
}

func (s *OrderService) FailStockReservation(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error) {
	return s.mutate(ctx, id, "order.stock_reservation_failed", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.MarkStockReservationFailed(reason)
	})
}

func (s *OrderService) ConfirmOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, "order.confirmed", func(o *models.Order) ([]models.OutboxEvent, error) {
		return o.ConfirmOrder()
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error) {
	return s.mutate(ctx, id, "order.cancelled", func(o *models.Order) ([]models.OutboxEvent, error) {
		return o.CancelOrder(reason)
	})
}

func (s *OrderService) MarkAsShipped(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, "order.shipped", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.MarkAsShipped()
	})
}

func (s *OrderService) MarkAsDelivered(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, "order.delivered", func(o *models.Order) ([]models.OutboxEvent, error) {
		return nil, o.MarkAsDelivered()
	})
}

// UpdateOrderStatus maps a requested status onto the command that reaches it.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus, reason string) (*models.Order, error) {
	switch status {
	case models.OrderAwaitingStockReservation:
		return s.RequestStockReservation(ctx, id)
	case models.OrderStockReserved:
		return s.ConfirmStockReservation(ctx, id)
	case models.OrderStockReservationFailed:
		return s.FailStockReservation(ctx, id, reason)
	case models.OrderConfirmedStatus:
		return s.ConfirmOrder(ctx, id)
	case models.OrderShipped:
		return s.MarkAsShipped(ctx, id)
	case models.OrderDelivered:
		return s.MarkAsDelivered(ctx, id)
	case models.OrderCancelledStatus:
		return s.CancelOrder(ctx, id, reason)
	}
	return nil, fmt.Errorf("%w: an order cannot be moved to %s", models.ErrInvalidState, status)
}

// mutate loads the order for update, applies cmd and stores the order with
// the events cmd returned. Nothing is written when cmd fails.
func (s *OrderService) mutate(ctx context.Context, id uuid.UUID, transition string, cmd func(o *models.Order) ([]models.OutboxEvent, error)) (*models.Order, error) {
	var order *models.Order
	err := s.store.InTx(ctx, func(tx store.OrderTx) error {
		o, err := tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		events, err := cmd(o)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOutbox(ctx, s.opts.stamp(events)...); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transition != "" {
		s.log.Info("🔄 Order transitioned",
			zap.String("order_id", id.String()),
			zap.String("transition", transition),
			zap.String("status", string(order.Status)))
		s.opts.metrics.SagaTransition(ctx, transition)
	}
	return order, nil
}
