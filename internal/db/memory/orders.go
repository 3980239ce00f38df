package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type OrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
	outbox *Outbox
}

func NewOrderStore(outbox *Outbox) *OrderStore {
	return &OrderStore{orders: make(map[uuid.UUID]models.Order), outbox: outbox}
}

func copyOrder(o models.Order) *models.Order {
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return &o
}

func (s *OrderStore) InTx(ctx context.Context, fn func(tx store.OrderTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &orderTx{store: s, staged: make(map[uuid.UUID]models.Order)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, o := range tx.staged {
		s.orders[id] = o
	}
	s.outbox.append(tx.events)
	return nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.NotFound("order", id)
	}
	return copyOrder(o), nil
}

func (s *OrderStore) ListOrders(ctx context.Context, f store.OrderFilter) (models.Page[models.Order], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Order
	for _, o := range s.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, *copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, f.Page, f.PageSize), nil
}

type orderTx struct {
	outboxBuffer
	store  *OrderStore
	staged map[uuid.UUID]models.Order
}

func (tx *orderTx) lookup(id uuid.UUID) (models.Order, bool) {
	if o, ok := tx.staged[id]; ok {
		return o, true
	}
	o, ok := tx.store.orders[id]
	return o, ok
}

func (tx *orderTx) GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	o, ok := tx.lookup(id)
	if !ok {
		return nil, models.NotFound("order", id)
	}
	return copyOrder(o), nil
}

func (tx *orderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, ok := tx.lookup(o.ID); ok {
		return models.ErrConflict
	}
	tx.staged[o.ID] = *copyOrder(*o)
	return nil
}

func (tx *orderTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	if _, ok := tx.lookup(o.ID); !ok {
		return models.NotFound("order", o.ID)
	}
	tx.staged[o.ID] = *copyOrder(*o)
	return nil
}

func paginate[T any](items []T, page, size int) models.Page[T] {
	page, size, offset := models.NormalizePage(page, size)
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + size
	if end > total {
		end = total
	}
	return models.NewPage(items[offset:end], page, size, total)
}
