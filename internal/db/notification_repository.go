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

const notificationColumns = `id, channel, status, recipient, subject, body, attempt_count, last_error,
	sent_at_utc, source_key, created_at, updated_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(database *PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: database.Conn}
}

func (r *NotificationRepository) InTx(ctx context.Context, fn func(tx store.NotificationTx) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&notificationTx{tx: tx})
	})
}

func (r *NotificationRepository) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return getNotification(ctx, r.db, id, false)
}

// ListNotifications returns one page of notifications, newest first
func (r *NotificationRepository) ListNotifications(ctx context.Context, f store.NotificationFilter) (models.Page[models.Notification], error) {
	page, size, offset := models.NormalizePage(f.Page, f.PageSize)

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Recipient != "" {
		add("recipient = $%d", f.Recipient)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Channel != "" {
		add("channel = $%d", string(f.Channel))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications"+clause, args...).Scan(&total); err != nil {
		return models.Page[models.Notification]{}, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM notifications%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		notificationColumns, clause, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, size, offset)...)
	if err != nil {
		return models.Page[models.Notification]{}, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var items []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return models.Page[models.Notification]{}, fmt.Errorf("failed to scan notification: %w", err)
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Notification]{}, fmt.Errorf("failed to read notifications: %w", err)
	}
	return models.NewPage(items, page, size, total), nil
}

type notificationTx struct {
	tx *sql.Tx
}

func (t *notificationTx) GetNotification(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Notification, error) {
	return getNotification(ctx, t.tx, id, forUpdate)
}

// InsertNotification skips rows whose source_key already exists.
func (t *notificationTx) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source_key) DO NOTHING
	`
	result, err := t.tx.ExecContext(ctx, query, n.ID, string(n.Channel), string(n.Status), n.Recipient,
		n.Subject, n.Body, n.AttemptCount, nullString(n.LastError), nullTime(n.SentAtUtc),
		nullString(n.SourceKey), n.CreatedAt, nullTime(n.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: notification %s already exists", models.ErrConflict, n.ID)
		}
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (t *notificationTx) UpdateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		UPDATE notifications
		SET status = $2, attempt_count = $3, last_error = $4, sent_at_utc = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query, n.ID, string(n.Status), n.AttemptCount,
		nullString(n.LastError), nullTime(n.SentAtUtc), nullTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NotFound("notification", n.ID)
	}
	return nil
}

func (t *notificationTx) InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, events)
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                    models.Notification
		channel, status      string
		lastError, sourceKey sql.NullString
		sentAt, updatedAt    sql.NullTime
	)
	err := row.Scan(&n.ID, &channel, &status, &n.Recipient, &n.Subject, &n.Body, &n.AttemptCount,
		&lastError, &sentAt, &sourceKey, &n.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	n.Channel = models.Channel(channel)
	n.Status = models.NotificationStatus(status)
	n.LastError = lastError.String
	n.SourceKey = sourceKey.String
	n.SentAtUtc = timePtr(sentAt)
	n.UpdatedAt = timePtr(updatedAt)
	return &n, nil
}

func getNotification(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1` + forUpdateClause(forUpdate)

	n, err := scanNotification(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("notification", id)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}
