// Package memory implements the store ports in process memory. It backs the
// tests and the saga simulator; a transaction holds the store lock and is
// applied only when its function returns nil.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

type Outbox struct {
	mu       sync.Mutex
	events   []models.OutboxEvent
	inFlight map[uuid.UUID]bool
}

func NewOutbox() *Outbox {
	return &Outbox{inFlight: make(map[uuid.UUID]bool)}
}

func (o *Outbox) append(events []models.OutboxEvent) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
}

// All returns a snapshot of every row, processed or not.
func (o *Outbox) All() []models.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.OutboxEvent(nil), o.events...)
}

func (o *Outbox) ProcessPending(ctx context.Context, limit int, now time.Time, fn func([]*models.OutboxEvent) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	var due []int
	for i := range o.events {
		if o.events[i].IsDue(now) && !o.inFlight[o.events[i].ID] {
			due = append(due, i)
		}
	}
	sort.SliceStable(due, func(a, b int) bool {
		return o.events[due[a]].OccurredOn.Before(o.events[due[b]].OccurredOn)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	batch := make([]*models.OutboxEvent, 0, len(due))
	for _, i := range due {
		ev := o.events[i]
		o.inFlight[ev.ID] = true
		batch = append(batch, &ev)
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		for _, ev := range batch {
			delete(o.inFlight, ev.ID)
		}
		o.mu.Unlock()
	}()

	if len(batch) == 0 {
		return nil
	}
	if err := fn(batch); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range batch {
		for i := range o.events {
			if o.events[i].ID == ev.ID {
				o.events[i] = *ev
				break
			}
		}
	}
	return nil
}

func (o *Outbox) DeadLetters(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.OutboxEvent
	for _, ev := range o.events {
		if !ev.Processed && ev.HasExceededMaxRetries() {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (o *Outbox) Requeue(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.events {
		if o.events[i].ID == id && !o.events[i].Processed {
			now := models.Now()
			o.events[i].RetryCount = 0
			o.events[i].NextTryAtUtc = nil
			o.events[i].UpdatedAt = &now
			return nil
		}
	}
	return models.NotFound("unprocessed outbox event", id)
}

type outboxBuffer struct {
	events []models.OutboxEvent
}

func (b *outboxBuffer) InsertOutbox(ctx context.Context, events ...models.OutboxEvent) error {
	b.events = append(b.events, events...)
	return nil
}
