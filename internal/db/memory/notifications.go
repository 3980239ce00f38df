package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type NotificationStore struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]models.Notification
	sourceKeys    map[string]uuid.UUID
	outbox        *Outbox
}

func NewNotificationStore(outbox *Outbox) *NotificationStore {
	return &NotificationStore{
		notifications: make(map[uuid.UUID]models.Notification),
		sourceKeys:    make(map[string]uuid.UUID),
		outbox:        outbox,
	}
}

func (s *NotificationStore) InTx(ctx context.Context, fn func(tx store.NotificationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &notificationTx{store: s, staged: make(map[uuid.UUID]models.Notification)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, n := range tx.staged {
		s.notifications[id] = n
		if n.SourceKey != "" {
			s.sourceKeys[n.SourceKey] = id
		}
	}
	s.outbox.append(tx.events)
	return nil
}

func (s *NotificationStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, models.NotFound("notification", id)
	}
	return &n, nil
}

func (s *NotificationStore) ListNotifications(ctx context.Context, f store.NotificationFilter) (models.Page[models.Notification], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Notification
	for _, n := range s.notifications {
		switch {
		case f.Recipient != "" && n.Recipient != f.Recipient,
			f.Status != "" && n.Status != f.Status,
			f.Channel != "" && n.Channel != f.Channel,
			f.From != nil && n.CreatedAt.Before(*f.From),
			f.To != nil && n.CreatedAt.After(*f.To):
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, f.Page, f.PageSize), nil
}

type notificationTx struct {
	outboxBuffer
	store  *NotificationStore
	staged map[uuid.UUID]models.Notification
}

func (tx *notificationTx) lookup(id uuid.UUID) (models.Notification, bool) {
	if n, ok := tx.staged[id]; ok {
		return n, true
	}
	n, ok := tx.store.notifications[id]
	return n, ok
}

func (tx *notificationTx) GetNotification(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Notification, error) {
	n, ok := tx.lookup(id)
	if !ok {
		return nil, models.NotFound("notification", id)
	}
	return &n, nil
}

func (tx *notificationTx) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if _, ok := tx.lookup(n.ID); ok {
		return false, models.ErrConflict
	}
	if n.SourceKey != "" {
		if _, ok := tx.store.sourceKeys[n.SourceKey]; ok {
			return false, nil
		}
		for _, staged := range tx.staged {
			if staged.SourceKey == n.SourceKey {
				return false, nil
			}
		}
	}
	tx.staged[n.ID] = *n
	return true, nil
}

func (tx *notificationTx) UpdateNotification(ctx context.Context, n *models.Notification) error {
	if _, ok := tx.lookup(n.ID); !ok {
		return models.NotFound("notification", n.ID)
	}
	tx.staged[n.ID] = *n
	return nil
}
