package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type StockService struct {
	store store.StockStore
	opts  options
	log   *zap.Logger
}

func NewStockService(st store.StockStore, log *zap.Logger, opts ...Option) *StockService {
	return &StockService{store: st, opts: buildOptions(opts), log: log}
}

func (s *StockService) CreateStock(ctx context.Context, productID string, quantity int) (*models.Stock, error) {
	stock, err := models.NewStock(productID, quantity)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(tx store.StockTx) error {
		return tx.InsertStock(ctx, stock)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("✅ Stock created", zap.String("product_id", productID), zap.Int("quantity", quantity))
	return stock, nil
}

func (s *StockService) GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error) {
	return s.store.GetStock(ctx, id)
}

func (s *StockService) GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error) {
	return s.store.GetStockByProduct(ctx, productID)
}

func (s *StockService) ListStocks(ctx context.Context, f store.StockFilter) (models.Page[models.Stock], error) {
	return s.store.ListStocks(ctx, f)
}

func (s *StockService) AvailableQuantity(ctx context.Context, productID string) (int, error) {
	stock, err := s.store.GetStockByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return stock.AvailableQuantity(), nil
}

func (s *StockService) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("%w: quantity must be greater than zero", models.ErrInvalidArgument)
	}
	stock, err := s.store.GetStockByProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return stock.CanReserve(quantity), nil
}

func (s *StockService) UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) (*models.Stock, error) {
	return s.mutate(ctx, id, func(st *models.Stock) error { return st.UpdateQuantity(quantity) })
}

func (s *StockService) AddQuantity(ctx context.Context, id uuid.UUID, quantity int) (*models.Stock, error) {
	return s.mutate(ctx, id, func(st *models.Stock) error { return st.AddQuantity(quantity) })
}

func (s *StockService) mutate(ctx context.Context, id uuid.UUID, fn func(st *models.Stock) error) (*models.Stock, error) {
	var stock *models.Stock
	err := s.store.InTx(ctx, func(tx store.StockTx) error {
		st, err := tx.GetStock(ctx, id, true)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		stock = st
		return tx.UpdateStock(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return stock, nil
}

// ReserveStock holds quantity units of productID for orderID. The stock row
// is locked before the reservation ledger is read, so concurrent deliveries of
// the same request serialise on it and the later one sees the ledger row as
// already applied.
func (s *StockService) ReserveStock(ctx context.Context, orderID uuid.UUID, productID string, quantity int) (*models.Reservation, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("%w: order id is required", models.ErrInvalidArgument)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be greater than zero", models.ErrInvalidArgument)
	}

	var (
		reservation *models.Reservation
		replayed    bool
		err         error
	)
	// A ledger insert that loses a race rolls back; the second attempt reads
	// the winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		reservation, replayed, err = s.reserve(ctx, orderID, productID, quantity)
		if !errors.Is(err, models.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if replayed {
		s.log.Info("♻️ Reservation already applied",
			zap.String("order_id", orderID.String()), zap.String("product_id", productID))
		return reservation, nil
	}
	s.log.Info("🔒 Stock reserved",
		zap.String("order_id", orderID.String()), zap.String("product_id", productID), zap.Int("quantity", quantity))
	s.opts.metrics.SagaTransition(ctx, "stock.reserved")
	return reservation, nil
}

func (s *StockService) reserve(ctx context.Context, orderID uuid.UUID, productID string, quantity int) (*models.Reservation, bool, error) {
	var (
		reservation *models.Reservation
		replayed    bool
	)
	err := s.store.InTx(ctx, func(tx store.StockTx) error {
		stock, err := tx.GetStockByProduct(ctx, productID, true)
		if err != nil {
			return err
		}

		existing, err := tx.GetReservation(ctx, orderID, productID)
		switch {
		case err == nil:
			if existing.Status == models.ReservationReleased {
				return fmt.Errorf("%w: order %s, product %s", models.ErrReservationReleased, orderID, productID)
			}
			reservation, replayed = existing, true
			return nil
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		if !stock.ReserveStock(quantity) {
			return fmt.Errorf("%w: product %s has %d available, %d requested",
				models.ErrInsufficientStock, productID, stock.AvailableQuantity(), quantity)
		}
		if err := tx.UpdateStock(ctx, stock); err != nil {
			return err
		}
		reservation = models.NewReservation(orderID, productID, quantity)
		return tx.InsertReservation(ctx, reservation)
	})
	if err != nil {
		return nil, false, err
	}
	return reservation, replayed, nil
}

// ReleaseReservation returns the units held for orderID to the available
// pool. Releasing an already released hold is a no-op.
func (s *StockService) ReleaseReservation(ctx context.Context, orderID uuid.UUID, productID string) error {
	return s.settle(ctx, orderID, productID, models.ReservationReleased, "release reservation",
		func(st *models.Stock, qty int) bool { return st.ReleaseReservation(qty) })
}

// ConfirmReservation deducts the units held for orderID from stock.
// Confirming an already confirmed hold is a no-op.
func (s *StockService) ConfirmReservation(ctx context.Context, orderID uuid.UUID, productID string) error {
	return s.settle(ctx, orderID, productID, models.ReservationConfirmed, "confirm reservation",
		func(st *models.Stock, qty int) bool { return st.ConfirmReservation(qty) })
}

// CancelReservation gives back what orderID holds of productID. When the
// order never reserved it, a Released ledger row is written instead so a
// reservation request arriving after the cancellation is refused.
func (s *StockService) CancelReservation(ctx context.Context, orderID uuid.UUID, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", models.ErrInvalidArgument)
	}
	err := s.ReleaseReservation(ctx, orderID, productID)
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	err = s.store.InTx(ctx, func(tx store.StockTx) error {
		if _, err := tx.GetStockByProduct(ctx, productID, true); err != nil {
			return err
		}
		_, err := tx.GetReservation(ctx, orderID, productID)
		switch {
		case err == nil:
			return models.ErrConflict
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		res := models.NewReservation(orderID, productID, quantity)
		res.SetStatus(models.ReservationReleased)
		return tx.InsertReservation(ctx, res)
	})
	if errors.Is(err, models.ErrConflict) {
		// reserved in the meantime
		return s.ReleaseReservation(ctx, orderID, productID)
	}
	if err != nil {
		return err
	}
	s.log.Info("🪦 Reservation blocked for cancelled order",
		zap.String("order_id", orderID.String()), zap.String("product_id", productID))
	return nil
}

func (s *StockService) settle(ctx context.Context, orderID uuid.UUID, productID string,
	target models.ReservationStatus, op string, apply func(st *models.Stock, qty int) bool) error {
	replayed := false
	err := s.store.InTx(ctx, func(tx store.StockTx) error {
		stock, err := tx.GetStockByProduct(ctx, productID, true)
		if err != nil {
			return err
		}
		res, err := tx.GetReservation(ctx, orderID, productID)
		if err != nil {
			return err
		}
		if res.Status == target {
			replayed = true
			return nil
		}
		if res.Status != models.ReservationReserved {
			return fmt.Errorf("%w: cannot %s, reservation is %s", models.ErrInvalidState, op, res.Status)
		}

		if !apply(stock, res.Quantity) {
			s.log.Error("🚨 Reservation ledger and stock disagree",
				zap.String("op", op),
				zap.String("order_id", orderID.String()),
				zap.String("product_id", productID),
				zap.Int("ledger_quantity", res.Quantity),
				zap.Int("reserved_quantity", stock.ReservedQuantity))
			return fmt.Errorf("%w: failed to %s for product %s", models.ErrInvalidState, op, productID)
		}
		if err := tx.UpdateStock(ctx, stock); err != nil {
			return err
		}
		res.SetStatus(target)
		return tx.UpdateReservation(ctx, res)
	})
	if err != nil {
		return err
	}

	fields := []zap.Field{zap.String("order_id", orderID.String()), zap.String("product_id", productID)}
	if replayed {
		s.log.Info("♻️ Reservation already settled", append(fields, zap.String("status", string(target)))...)
		return nil
	}
	s.log.Info("✅ Reservation settled", append(fields, zap.String("status", string(target)))...)
	s.opts.metrics.SagaTransition(ctx, "stock."+strings.ToLower(string(target)))
	return nil
}

// RecordReservationOutcome stores a StockReserved or StockReservationFailed
// event for the dispatcher.
func (s *StockService) RecordReservationOutcome(ctx context.Context, events ...models.OutboxEvent) error {
	return s.store.InTx(ctx, func(tx store.StockTx) error {
		return tx.InsertOutbox(ctx, s.opts.stamp(events)...)
	})
}
