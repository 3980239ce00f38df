package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
	"github.com/prudhivi99/minisys-saga/internal/service"
)

const StockQueue = "stock-events-queue"

// StockConsumer reserves stock for new orders and deducts it once the order
// is confirmed.
type StockConsumer struct {
	stock *service.StockService
	log   *zap.Logger
}

func NewStockConsumer(stock *service.StockService, log *zap.Logger) *StockConsumer {
	return &StockConsumer{stock: stock, log: log}
}

// Listener returns the stock service's queue with its routes.
func (c *StockConsumer) Listener(metrics *observability.Metrics) *Listener {
	return NewListener(StockQueue, metrics, c.log).
		Handle(models.ExchangeStockEvents, models.KeyStockReservationRequested, c.HandleReservationRequested).
		Handle(models.ExchangeOrderEvents, models.KeyOrderConfirmed, c.HandleOrderConfirmed).
		Handle(models.ExchangeOrderEvents, models.KeyOrderCancelled, c.HandleOrderCancelled)
}

// HandleReservationRequested reserves every item of the order. When any item
// cannot be reserved the items that were reserved are released again and a
// single StockReservationFailed is recorded; otherwise StockReserved is.
func (c *StockConsumer) HandleReservationRequested(ctx context.Context, env models.Envelope) error {
	var req models.StockReservationRequested
	if err := env.Decode(&req); err != nil {
		return Permanent(err)
	}
	if req.OrderID == uuid.Nil || len(req.Items) == 0 {
		return Permanent(fmt.Errorf("%w: reservation request without order or items", models.ErrInvalidArgument))
	}

	req.Items = mergeItems(req.Items)

	log := c.log.With(zap.String("order_id", req.OrderID.String()))
	log.Info("📦 Processing stock reservation", zap.Int("items", len(req.Items)))

	var (
		attempts []models.ReservationAttempt
		reserved []models.ReservedItem
		failures []string
	)
	for _, item := range req.Items {
		res, err := c.stock.ReserveStock(ctx, req.OrderID, item.ProductID, item.Quantity)
		switch {
		case err == nil:
			attempts = append(attempts, models.ReservationAttempt{ProductID: item.ProductID, Quantity: item.Quantity, IsSuccess: true})
			reserved = append(reserved, models.ReservedItem{ProductID: item.ProductID, Quantity: item.Quantity, ReservedQuantity: res.Quantity})
		case models.IsBusinessError(err):
			log.Warn("⚠️ Item not reserved", zap.String("product_id", item.ProductID), zap.Error(err))
			attempts = append(attempts, models.ReservationAttempt{
				ProductID: item.ProductID, Quantity: item.Quantity, FailureReason: err.Error(),
			})
			failures = append(failures, item.ProductID+": "+err.Error())
		default:
			// Items already reserved stay in the ledger and are recognised on redelivery.
			return fmt.Errorf("failed to reserve %s: %w", item.ProductID, err)
		}
	}

	if len(failures) == 0 {
		ev, err := models.NewOutboxEvent(models.EventStockReserved, models.StockReserved{
			OrderID: req.OrderID, Items: reserved, OccurredOn: models.Now(),
		}, models.ExchangeStockEvents)
		if err != nil {
			return err
		}
		if err := c.stock.RecordReservationOutcome(ctx, ev); err != nil {
			return err
		}
		log.Info("✅ Stock reserved for order")
		return nil
	}

	for _, item := range reserved {
		if err := c.stock.ReleaseReservation(ctx, req.OrderID, item.ProductID); err != nil {
			return fmt.Errorf("failed to release %s: %w", item.ProductID, err)
		}
	}
	reason := strings.Join(failures, "; ")
	ev, err := models.NewOutboxEvent(models.EventStockReservationFailed, models.StockReservationFailed{
		OrderID: req.OrderID, Reason: reason, Items: attempts, OccurredOn: models.Now(),
	}, models.ExchangeStockEvents)
	if err != nil {
		return err
	}
	if err := c.stock.RecordReservationOutcome(ctx, ev); err != nil {
		return err
	}
	log.Warn("⚠️ Stock reservation failed", zap.String("reason", reason), zap.Int("released", len(reserved)))
	return nil
}

// mergeItems sums repeated products so each one is reserved once with its
// total quantity. The ledger holds one row per order and product.
func mergeItems(items []models.ReservationItem) []models.ReservationItem {
	merged := make([]models.ReservationItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// HandleOrderConfirmed turns the order's held units into a deduction.
func (c *StockConsumer) HandleOrderConfirmed(ctx context.Context, env models.Envelope) error {
	var ev models.OrderConfirmed
	if err := env.Decode(&ev); err != nil {
		return Permanent(err)
	}

	for _, line := range ev.OrderLines {
		err := c.stock.ConfirmReservation(ctx, ev.OrderID, line.ProductID)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidState):
			c.log.Error("🚨 Confirmed order has no reservation to deduct",
				zap.String("order_id", ev.OrderID.String()),
				zap.String("product_id", line.ProductID),
				zap.Error(err))
		default:
			return fmt.Errorf("failed to confirm %s: %w", line.ProductID, err)
		}
	}
	c.log.Info("✅ Stock deducted for confirmed order", zap.String("order_id", ev.OrderID.String()))
	return nil
}

// HandleOrderCancelled releases the units a cancelled order holds. Units
// already deducted for a confirmed order are left as they are.
func (c *StockConsumer) HandleOrderCancelled(ctx context.Context, env models.Envelope) error {
	var ev models.OrderCancelled
	if err := env.Decode(&ev); err != nil {
		return Permanent(err)
	}
	log := c.log.With(zap.String("order_id", ev.OrderID.String()))

	for _, item := range mergeItems(ev.Items) {
		err := c.stock.CancelReservation(ctx, ev.OrderID, item.ProductID, item.Quantity)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrInvalidState):
			log.Warn("⚠️ Cancelled order was already deducted, stock not returned",
				zap.String("product_id", item.ProductID), zap.Error(err))
		case models.IsBusinessError(err):
			log.Error("🚨 Cannot release stock for cancelled order",
				zap.String("product_id", item.ProductID), zap.Error(err))
		default:
			return fmt.Errorf("failed to release %s: %w", item.ProductID, err)
		}
	}
	log.Info("↩️ Stock released for cancelled order")
	return nil
}
