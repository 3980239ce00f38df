package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

const stockColumns = `id, product_id, quantity, reserved_quantity, created_at, updated_at`

const reservationColumns = `id, order_id, product_id, quantity, status, created_at, updated_at`

type StockRepository struct {
	db *sql.DB
}

func NewStockRepository(database *PostgresDB) *StockRepository {
	return &StockRepository{db: database.Conn}
}

func (r *StockRepository) InTx(ctx context.Context, fn func(tx store.StockTx) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&stockTx{tx: tx})
	})
}

// GetStock returns a single stock row
func (r *StockRepository) GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error) {
	return getStock(ctx, r.db, "id", id, false)
}

// GetStockByProduct returns the stock row of a product
func (r *StockRepository) GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error) {
	return getStock(ctx, r.db, "product_id", productID, false)
}

// ListStocks returns one page of stock rows ordered by product id
func (r *StockRepository) ListStocks(ctx context.Context, f store.StockFilter) (models.Page[models.Stock], error) {
	page, size, offset := models.NormalizePage(f.Page, f.PageSize)

	var (
		where []string
		args  []any
	)
	if f.AvailableOnly {
		where = append(where, "quantity - reserved_quantity > 0")
	}
	if f.MinAvailable > 0 {
		args = append(args, f.MinAvailable)
		where = append(where, fmt.Sprintf("quantity - reserved_quantity >= $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stocks"+clause, args...).Scan(&total); err != nil {
		return models.Page[models.Stock]{}, fmt.Errorf("failed to count stocks: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM stocks%s ORDER BY product_id LIMIT $%d OFFSET $%d",
		stockColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, size, offset)...)
	if err != nil {
		return models.Page[models.Stock]{}, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var stocks []models.Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return models.Page[models.Stock]{}, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, *s)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Stock]{}, fmt.Errorf("failed to read stocks: %w", err)
	}
	return models.NewPage(stocks, page, size, total), nil
}

type stockTx struct {
	tx *sql.Tx
}

func (t *stockTx) GetStock(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Stock, error) {
	return getStock(ctx, t.tx, "id", id, forUpdate)
}

// GetStockByProduct with forUpdate locks the row, serialising concurrent
// reservations of the same product.
func (t *stockTx) GetStockByProduct(ctx context.Context, productID string, forUpdate bool) (*models.Stock, error) {
	return getStock(ctx, t.tx, "product_id", productID, forUpdate)
}

func (t *stockTx) InsertStock(ctx context.Context, s *models.Stock) error {
	query := `INSERT INTO stocks (` + stockColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.tx.ExecContext(ctx, query, s.ID, s.ProductID, s.Quantity, s.ReservedQuantity,
		s.CreatedAt, nullTime(s.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: stock for product %s already exists", models.ErrConflict, s.ProductID)
		}
		return fmt.Errorf("failed to create stock: %w", err)
	}
	return nil
}

func (t *stockTx) UpdateStock(ctx context.Context, s *models.Stock) error {
	query := `UPDATE stocks SET quantity = $2, reserved_quantity = $3, updated_at = $4 WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, s.ID, s.Quantity, s.ReservedQuantity, nullTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NotFound("stock", s.ID)
	}
	return nil
}

func (t *stockTx) GetReservation(ctx context.Context, orderID uuid.UUID, productID string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM stock_reservations WHERE order_id = $1 AND product_id = $2`

	var (
		res       models.Reservation
		status    string
		updatedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, query, orderID, productID).
		Scan(&res.ID, &res.OrderID, &res.ProductID, &res.Quantity, &status, &res.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("reservation for product", productID)
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	res.Status = models.ReservationStatus(status)
	res.UpdatedAt = timePtr(updatedAt)
	return &res, nil
}

func (t *stockTx) InsertReservation(ctx context.Context, res *models.Reservation) error {
	query := `INSERT INTO stock_reservations (` + reservationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.ExecContext(ctx, query, res.ID, res.OrderID, res.ProductID, res.Quantity,
		string(res.Status), res.CreatedAt, nullTime(res.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already holds product %s", models.ErrConflict, res.OrderID, res.ProductID)
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (t *stockTx) UpdateReservation(ctx context.Context, res *models.Reservation) error {
	query := `UPDATE stock_reservations SET status = $2, updated_at = $3 WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, res.ID, string(res.Status), nullTime(res.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.NotFound("reservation", res.ID)
	}
	return nil
}

func (t *stockTx) InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, events)
}

func scanStock(row rowScanner) (*models.Stock, error) {
	var (
		s         models.Stock
		updatedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ProductID, &s.Quantity, &s.ReservedQuantity, &s.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	s.UpdatedAt = timePtr(updatedAt)
	return &s, nil
}

func getStock(ctx context.Context, q querier, column string, key any, forUpdate bool) (*models.Stock, error) {
	query := `SELECT ` + stockColumns + ` FROM stocks WHERE ` + column + ` = $1` + forUpdateClause(forUpdate)

	s, err := scanStock(q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if column == "product_id" {
				return nil, models.NotFound("stock for product", key)
			}
			return nil, models.NotFound("stock", key)
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return s, nil
}
