// Package store declares the persistence ports used by the services. Every
// mutation runs inside InTx so the aggregate change and its outbox rows
// commit together.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

type OrderFilter struct {
	CustomerID string
	Status     models.OrderStatus
	Page       int
	PageSize   int
}

type StockFilter struct {
	AvailableOnly bool
	MinAvailable  int
	Page          int
	PageSize      int
}

type NotificationFilter struct {
	Recipient string
	Status    models.NotificationStatus
	Channel   models.Channel
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type OutboxWriter interface {
	InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error
}

type OrderTx interface {
	OutboxWriter
	// GetOrder loads the order with its lines; forUpdate locks the row until
	// the transaction ends.
	GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
}

type OrderStore interface {
	InTx(ctx context.Context, fn func(tx OrderTx) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) (models.Page[models.Order], error)
}

type StockTx interface {
	OutboxWriter
	GetStock(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Stock, error)
	GetStockByProduct(ctx context.Context, productID string, forUpdate bool) (*models.Stock, error)
	InsertStock(ctx context.Context, s *models.Stock) error
	UpdateStock(ctx context.Context, s *models.Stock) error
	// GetReservation returns ErrNotFound when the order holds nothing for the product.
	GetReservation(ctx context.Context, orderID uuid.UUID, productID string) (*models.Reservation, error)
	// InsertReservation fails with ErrConflict when the order already holds
	// the product.
	InsertReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
}

type StockStore interface {
	InTx(ctx context.Context, fn func(tx StockTx) error) error
	GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error)
	GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error)
	ListStocks(ctx context.Context, f StockFilter) (models.Page[models.Stock], error)
}

type NotificationTx interface {
	OutboxWriter
	GetNotification(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Notification, error)
	// InsertNotification reports false when a notification with the same
	// SourceKey already exists.
	InsertNotification(ctx context.Context, n *models.Notification) (bool, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
}

type NotificationStore interface {
	InTx(ctx context.Context, fn func(tx NotificationTx) error) error
	GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	ListNotifications(ctx context.Context, f NotificationFilter) (models.Page[models.Notification], error)
}

type OutboxStore interface {
	// ProcessPending hands the due rows (oldest first, at most limit) to fn
	// and persists whatever fn did to them. The whole batch is rolled back
	// when fn returns an error.
	ProcessPending(ctx context.Context, limit int, now time.Time, fn func(events []*models.OutboxEvent) error) error
	// DeadLetters lists unprocessed rows that exhausted their retries.
	DeadLetters(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	// Requeue gives a dead-lettered row a fresh retry budget.
	Requeue(ctx context.Context, id uuid.UUID) error
}
