package consumer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
	"github.com/prudhivi99/minisys-saga/internal/service"
)

const OrderQueue = "order_service_stock_events"

// OrderConsumer advances orders on the outcome of their stock reservation.
type OrderConsumer struct {
	orders *service.OrderService
	log    *zap.Logger
}

func NewOrderConsumer(orders *service.OrderService, log *zap.Logger) *OrderConsumer {
	return &OrderConsumer{orders: orders, log: log}
}

func (c *OrderConsumer) Listener(metrics *observability.Metrics) *Listener {
	return NewListener(OrderQueue, metrics, c.log).
		Handle(models.ExchangeStockEvents, models.KeyStockReserved, c.HandleStockReserved).
		Handle(models.ExchangeStockEvents, models.KeyStockReservationFailed, c.HandleStockReservationFailed)
}

// HandleStockReserved moves the order to StockReserved and confirms it.
// Steps the order has already taken are skipped, so a redelivery finishes
// whatever a previous attempt left undone.
func (c *OrderConsumer) HandleStockReserved(ctx context.Context, env models.Envelope) error {
	var ev models.StockReserved
	if err := env.Decode(&ev); err != nil {
		return Permanent(err)
	}

	order, err := c.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return missing(err)
	}
	log := c.log.With(zap.String("order_id", order.ID.String()), zap.String("status", string(order.Status)))

	if order.Status.HasReached(models.OrderConfirmedStatus) {
		log.Info("♻️ Order already confirmed")
		return nil
	}
	if order.Status == models.OrderCancelledStatus || order.Status == models.OrderStockReservationFailed {
		// a cancelled order's OrderCancelled event releases the hold
		log.Warn("⚠️ Stock reserved for an order that left the saga")
		return nil
	}

	if !order.Status.HasReached(models.OrderStockReserved) {
		if _, err := c.orders.ConfirmStockReservation(ctx, order.ID); err != nil {
			return err
		}
	}
	if _, err := c.orders.ConfirmOrder(ctx, order.ID); err != nil {
		return err
	}
	return nil
}

// HandleStockReservationFailed ends the saga for the order.
func (c *OrderConsumer) HandleStockReservationFailed(ctx context.Context, env models.Envelope) error {
	var ev models.StockReservationFailed
	if err := env.Decode(&ev); err != nil {
		return Permanent(err)
	}

	order, err := c.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return missing(err)
	}
	if order.Status != models.OrderAwaitingStockReservation {
		c.log.Info("♻️ Reservation failure already applied",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)))
		return nil
	}
	_, err = c.orders.FailStockReservation(ctx, order.ID, ev.Reason)
	return err
}

// missing dead-letters events for orders this service does not know.
func missing(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return Permanent(err)
	}
	return err
}
