package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

const outboxColumns = `id, type, data, exchange_name, occurred_on, processed, processed_at,
	error, retry_count, max_retries, next_try_at_utc, created_at, updated_at`

// OutboxRepository reads and updates the outbox_events table of one service.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(database *PostgresDB) *OutboxRepository {
	return &OutboxRepository{db: database.Conn}
}

// insertOutbox writes events with the caller's transaction.
func insertOutbox(ctx context.Context, q querier, events []models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (` + outboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, e := range events {
		_, err := q.ExecContext(ctx, query,
			e.ID, e.Type, e.Data, e.ExchangeName, e.OccurredOn, e.Processed, nullTime(e.ProcessedAt),
			nullString(e.Error), e.RetryCount, e.MaxRetries, nullTime(e.NextTryAtUtc), e.CreatedAt, nullTime(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert outbox event %s: %w", e.Type, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(row rowScanner) (models.OutboxEvent, error) {
	var (
		e                              models.OutboxEvent
		processedAt, nextTry, updateAt sql.NullTime
		errText                        sql.NullString
	)
	err := row.Scan(&e.ID, &e.Type, &e.Data, &e.ExchangeName, &e.OccurredOn, &e.Processed, &processedAt,
		&errText, &e.RetryCount, &e.MaxRetries, &nextTry, &e.CreatedAt, &updateAt)
	if err != nil {
		return e, err
	}
	e.ProcessedAt = timePtr(processedAt)
	e.NextTryAtUtc = timePtr(nextTry)
	e.UpdatedAt = timePtr(updateAt)
	e.Error = errText.String
	return e, nil
}

// ProcessPending locks up to limit due rows with FOR UPDATE SKIP LOCKED so
// concurrent dispatchers never publish the same row, then writes back the
// state fn left on each row in the same transaction.
func (r *OutboxRepository) ProcessPending(ctx context.Context, limit int, now time.Time, fn func([]*models.OutboxEvent) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			SELECT ` + outboxColumns + `
			FROM outbox_events
			WHERE processed = FALSE
			  AND retry_count < max_retries
			  AND (next_try_at_utc IS NULL OR next_try_at_utc <= $1)
			ORDER BY occurred_on ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`
		rows, err := tx.QueryContext(ctx, query, now, limit)
		if err != nil {
			return fmt.Errorf("failed to query outbox events: %w", err)
		}
		var events []*models.OutboxEvent
		for rows.Next() {
			e, err := scanOutbox(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan outbox event: %w", err)
			}
			events = append(events, &e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read outbox events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		if err := fn(events); err != nil {
			return err
		}

		update := `
			UPDATE outbox_events
			SET processed = $2, processed_at = $3, error = $4, retry_count = $5,
			    next_try_at_utc = $6, updated_at = $7
			WHERE id = $1
		`
		for _, e := range events {
			_, err := tx.ExecContext(ctx, update, e.ID, e.Processed, nullTime(e.ProcessedAt),
				nullString(e.Error), e.RetryCount, nullTime(e.NextTryAtUtc), nullTime(e.UpdatedAt))
			if err != nil {
				return fmt.Errorf("failed to update outbox event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// DeadLetters returns unprocessed rows that have used up their retries.
func (r *OutboxRepository) DeadLetters(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE processed = FALSE AND retry_count >= max_retries
		ORDER BY occurred_on ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Requeue resets the retry budget of an unprocessed row.
func (r *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET retry_count = 0, next_try_at_utc = NULL, updated_at = $2
		WHERE id = $1 AND processed = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, id, models.Now())
	if err != nil {
		return fmt.Errorf("failed to requeue outbox event: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.NotFound("unprocessed outbox event", id)
	}
	return nil
}
