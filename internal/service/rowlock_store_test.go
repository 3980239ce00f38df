package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type ledgerKey struct {
	orderID   uuid.UUID
	productID string
}

// rowLockStockStore behaves like PostgreSQL at read committed: statements
// read committed state, FOR UPDATE takes a row lock held until the
// transaction ends, and the ledger's unique key is checked at commit.
type rowLockStockStore struct {
	mu           sync.Mutex
	rows         map[string]*sync.Mutex
	stocks       map[string]models.Stock
	reservations map[ledgerKey]models.Reservation

	// noRowLocks turns FOR UPDATE into a plain read.
	noRowLocks bool
	// onLedgerRead runs before every GetReservation.
	onLedgerRead func()
}

func newRowLockStockStore() *rowLockStockStore {
	return &rowLockStockStore{
		rows:         make(map[string]*sync.Mutex),
		stocks:       make(map[string]models.Stock),
		reservations: make(map[ledgerKey]models.Reservation),
	}
}

func (s *rowLockStockStore) ledger(orderID uuid.UUID, productID string) (models.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[ledgerKey{orderID, productID}]
	return r, ok
}

func (s *rowLockStockStore) InTx(ctx context.Context, fn func(tx store.StockTx) error) error {
	tx := &rowLockTx{
		store:    s,
		stocks:   make(map[string]models.Stock),
		inserted: make(map[ledgerKey]models.Reservation),
		updated:  make(map[ledgerKey]models.Reservation),
	}
	defer func() {
		for _, l := range tx.locks {
			l.Unlock()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range tx.inserted {
		if _, ok := s.reservations[k]; ok {
			return models.ErrConflict
		}
	}
	for pid, st := range tx.stocks {
		s.stocks[pid] = st
	}
	for k, r := range tx.inserted {
		s.reservations[k] = r
	}
	for k, r := range tx.updated {
		s.reservations[k] = r
	}
	return nil
}

func (s *rowLockStockStore) GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stocks {
		if st.ID == id {
			return &st, nil
		}
	}
	return nil, models.NotFound("stock", id)
}

func (s *rowLockStockStore) GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[productID]
	if !ok {
		return nil, models.NotFound("stock for product", productID)
	}
	return &st, nil
}

func (s *rowLockStockStore) ListStocks(ctx context.Context, f store.StockFilter) (models.Page[models.Stock], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Stock
	for _, st := range s.stocks {
		out = append(out, st)
	}
	return models.NewPage(out, 1, len(out), len(out)), nil
}

type rowLockTx struct {
	store    *rowLockStockStore
	locks    []*sync.Mutex
	stocks   map[string]models.Stock
	inserted map[ledgerKey]models.Reservation
	updated  map[ledgerKey]models.Reservation
}

func (tx *rowLockTx) InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error {
	return nil
}

func (tx *rowLockTx) lockRow(productID string) {
	s := tx.store
	s.mu.Lock()
	l, ok := s.rows[productID]
	if !ok {
		l = &sync.Mutex{}
		s.rows[productID] = l
	}
	s.mu.Unlock()
	l.Lock()
	tx.locks = append(tx.locks, l)
}

func (tx *rowLockTx) GetStock(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Stock, error) {
	st, err := tx.store.GetStock(ctx, id)
	if err != nil {
		return nil, err
	}
	return tx.GetStockByProduct(ctx, st.ProductID, forUpdate)
}

func (tx *rowLockTx) GetStockByProduct(ctx context.Context, productID string, forUpdate bool) (*models.Stock, error) {
	if forUpdate && !tx.store.noRowLocks {
		tx.lockRow(productID)
	}
	if st, ok := tx.stocks[productID]; ok {
		return &st, nil
	}
	return tx.store.GetStockByProduct(ctx, productID)
}

func (tx *rowLockTx) InsertStock(ctx context.Context, s *models.Stock) error {
	if _, err := tx.store.GetStockByProduct(ctx, s.ProductID); err == nil {
		return models.ErrConflict
	}
	tx.stocks[s.ProductID] = *s
	return nil
}

func (tx *rowLockTx) UpdateStock(ctx context.Context, s *models.Stock) error {
	tx.stocks[s.ProductID] = *s
	return nil
}

func (tx *rowLockTx) GetReservation(ctx context.Context, orderID uuid.UUID, productID string) (*models.Reservation, error) {
	if tx.store.onLedgerRead != nil {
		tx.store.onLedgerRead()
	}
	k := ledgerKey{orderID, productID}
	if r, ok := tx.updated[k]; ok {
		return &r, nil
	}
	if r, ok := tx.inserted[k]; ok {
		return &r, nil
	}
	if r, ok := tx.store.ledger(orderID, productID); ok {
		return &r, nil
	}
	return nil, models.NotFound("reservation for product", productID)
}

func (tx *rowLockTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	tx.inserted[ledgerKey{r.OrderID, r.ProductID}] = *r
	return nil
}

func (tx *rowLockTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	tx.updated[ledgerKey{r.OrderID, r.ProductID}] = *r
	return nil
}
