package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

const orderColumns = `id, customer_id, customer_email, status, total_amount, currency, notes, created_at, updated_at`

const lineColumns = `id, order_id, product_id, product_name, unit_price, quantity, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(database *PostgresDB) *OrderRepository {
	return &OrderRepository{db: database.Conn}
}

// InTx runs fn inside one database transaction.
func (r *OrderRepository) InTx(ctx context.Context, fn func(tx store.OrderTx) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&orderTx{tx: tx})
	})
}

// GetOrder returns a single order with its lines
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, r.db, id, false)
}

// ListOrders returns one page of orders, newest first
func (r *OrderRepository) ListOrders(ctx context.Context, f store.OrderFilter) (models.Page[models.Order], error) {
	page, size, offset := models.NormalizePage(f.Page, f.PageSize)

	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return models.Page[models.Order]{}, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, size, offset)...)
	if err != nil {
		return models.Page[models.Order]{}, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []models.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return models.Page[models.Order]{}, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID.String())
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Order]{}, fmt.Errorf("failed to read orders: %w", err)
	}

	if len(orders) > 0 {
		lines, err := linesFor(ctx, r.db, ids)
		if err != nil {
			return models.Page[models.Order]{}, err
		}
		for i := range orders {
			for _, l := range lines[orders[i].ID] {
				l.UnitPrice.Currency = orders[i].Currency()
				orders[i].Lines = append(orders[i].Lines, l)
			}
		}
	}
	return models.NewPage(orders, page, size, total), nil
}

type orderTx struct {
	tx *sql.Tx
}

func (t *orderTx) GetOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	return getOrder(ctx, t.tx, id, forUpdate)
}

// InsertOrder inserts a new order with its lines
func (t *orderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query, o.ID, o.CustomerID, o.CustomerEmail, string(o.Status),
		o.TotalAmount.Amount, string(o.Currency()), o.Notes, o.CreatedAt, nullTime(o.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", models.ErrConflict, o.ID)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return t.insertLines(ctx, o)
}

// UpdateOrder writes the order row and replaces its lines
func (t *orderTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	query := `
		UPDATE orders
		SET customer_email = $2, status = $3, total_amount = $4, notes = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query, o.ID, o.CustomerEmail, string(o.Status),
		o.TotalAmount.Amount, o.Notes, nullTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NotFound("order", o.ID)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("failed to clear order lines: %w", err)
	}
	return t.insertLines(ctx, o)
}

func (t *orderTx) InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, events)
}

func (t *orderTx) insertLines(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO order_lines (` + lineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, l := range o.Lines {
		_, err := t.tx.ExecContext(ctx, query, l.ID, o.ID, l.ProductID, l.ProductName,
			l.UnitPrice.Amount, l.Quantity, l.CreatedAt, nullTime(l.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o         models.Order
		status    string
		currency  string
		updatedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerEmail, &status, &o.TotalAmount.Amount,
		&currency, &o.Notes, &o.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.TotalAmount.Currency = models.Currency(strings.TrimSpace(currency))
	o.UpdatedAt = timePtr(updatedAt)
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + forUpdateClause(forUpdate)

	o, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("order", id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	lines, err := linesFor(ctx, q, []string{id.String()})
	if err != nil {
		return nil, err
	}
	for _, l := range lines[o.ID] {
		l.UnitPrice.Currency = o.Currency()
		o.Lines = append(o.Lines, l)
	}
	return o, nil
}

// linesFor loads the lines of several orders in one query.
func linesFor(ctx context.Context, q querier, orderIDs []string) (map[uuid.UUID][]models.OrderLine, error) {
	query := `
		SELECT ` + lineColumns + `
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY created_at, id
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[uuid.UUID][]models.OrderLine)
	for rows.Next() {
		var (
			l         models.OrderLine
			updatedAt sql.NullTime
		)
		err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.UnitPrice.Amount,
			&l.Quantity, &l.CreatedAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		l.UpdatedAt = timePtr(updatedAt)
		lines[l.OrderID] = append(lines[l.OrderID], l)
	}
	return lines, rows.Err()
}
