package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type reservationKey struct {
	orderID   uuid.UUID
	productID string
}

type StockStore struct {
	mu           sync.Mutex
	stocks       map[uuid.UUID]models.Stock
	byProduct    map[string]uuid.UUID
	reservations map[reservationKey]models.Reservation
	outbox       *Outbox
}

func NewStockStore(outbox *Outbox) *StockStore {
	return &StockStore{
		stocks:       make(map[uuid.UUID]models.Stock),
		byProduct:    make(map[string]uuid.UUID),
		reservations: make(map[reservationKey]models.Reservation),
		outbox:       outbox,
	}
}

func (s *StockStore) InTx(ctx context.Context, fn func(tx store.StockTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &stockTx{
		store:        s,
		stocks:       make(map[uuid.UUID]models.Stock),
		reservations: make(map[reservationKey]models.Reservation),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, st := range tx.stocks {
		s.stocks[id] = st
		s.byProduct[st.ProductID] = id
	}
	for k, r := range tx.reservations {
		s.reservations[k] = r
	}
	s.outbox.append(tx.events)
	return nil
}

func (s *StockStore) GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[id]
	if !ok {
		return nil, models.NotFound("stock", id)
	}
	return &st, nil
}

func (s *StockStore) GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProduct[productID]
	if !ok {
		return nil, models.NotFound("stock for product", productID)
	}
	st := s.stocks[id]
	return &st, nil
}

func (s *StockStore) ListStocks(ctx context.Context, f store.StockFilter) (models.Page[models.Stock], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Stock
	for _, st := range s.stocks {
		if f.AvailableOnly && st.AvailableQuantity() <= 0 {
			continue
		}
		if f.MinAvailable > 0 && st.AvailableQuantity() < f.MinAvailable {
			continue
		}
		matched = append(matched, st)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ProductID < matched[j].ProductID })
	return paginate(matched, f.Page, f.PageSize), nil
}

// Reservation exposes the ledger entry for assertions.
func (s *StockStore) Reservation(orderID uuid.UUID, productID string) (models.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationKey{orderID, productID}]
	return r, ok
}

type stockTx struct {
	outboxBuffer
	store        *StockStore
	stocks       map[uuid.UUID]models.Stock
	reservations map[reservationKey]models.Reservation
}

func (tx *stockTx) lookup(id uuid.UUID) (models.Stock, bool) {
	if st, ok := tx.stocks[id]; ok {
		return st, true
	}
	st, ok := tx.store.stocks[id]
	return st, ok
}

func (tx *stockTx) productID(productID string) (uuid.UUID, bool) {
	for id, st := range tx.stocks {
		if st.ProductID == productID {
			return id, true
		}
	}
	id, ok := tx.store.byProduct[productID]
	return id, ok
}

func (tx *stockTx) GetStock(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Stock, error) {
	st, ok := tx.lookup(id)
	if !ok {
		return nil, models.NotFound("stock", id)
	}
	return &st, nil
}

func (tx *stockTx) GetStockByProduct(ctx context.Context, productID string, forUpdate bool) (*models.Stock, error) {
	id, ok := tx.productID(productID)
	if !ok {
		return nil, models.NotFound("stock for product", productID)
	}
	return tx.GetStock(ctx, id, forUpdate)
}

func (tx *stockTx) InsertStock(ctx context.Context, s *models.Stock) error {
	if _, ok := tx.productID(s.ProductID); ok {
		return models.ErrConflict
	}
	tx.stocks[s.ID] = *s
	return nil
}

func (tx *stockTx) UpdateStock(ctx context.Context, s *models.Stock) error {
	if _, ok := tx.lookup(s.ID); !ok {
		return models.NotFound("stock", s.ID)
	}
	tx.stocks[s.ID] = *s
	return nil
}

func (tx *stockTx) GetReservation(ctx context.Context, orderID uuid.UUID, productID string) (*models.Reservation, error) {
	k := reservationKey{orderID, productID}
	if r, ok := tx.reservations[k]; ok {
		return &r, nil
	}
	if r, ok := tx.store.reservations[k]; ok {
		return &r, nil
	}
	return nil, models.NotFound("reservation for product", productID)
}

func (tx *stockTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	if _, err := tx.GetReservation(ctx, r.OrderID, r.ProductID); err == nil {
		return models.ErrConflict
	}
	tx.reservations[reservationKey{r.OrderID, r.ProductID}] = *r
	return nil
}

func (tx *stockTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	k := reservationKey{r.OrderID, r.ProductID}
	if _, err := tx.GetReservation(ctx, r.OrderID, r.ProductID); err != nil {
		return err
	}
	tx.reservations[k] = *r
	return nil
}
