package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/notify"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type NotificationService struct {
	store  store.NotificationStore
	sender notify.Sender
	opts   options
	log    *zap.Logger
}

func NewNotificationService(st store.NotificationStore, sender notify.Sender, log *zap.Logger, opts ...Option) *NotificationService {
	return &NotificationService{store: st, sender: sender, opts: buildOptions(opts), log: log}
}

func (s *NotificationService) CreateEmail(ctx context.Context, recipient, subject, body string) (*models.Notification, error) {
	n, err := models.NewEmailNotification(recipient, subject, body)
	if err != nil {
		return nil, err
	}
	if _, err := s.enqueue(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *NotificationService) CreateSms(ctx context.Context, recipient, text string) (*models.Notification, error) {
	n, err := models.NewSmsNotification(recipient, text)
	if err != nil {
		return nil, err
	}
	if _, err := s.enqueue(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateOrderConfirmationEmail queues the customer email for a confirmed
// order. It reports false when the email was already queued for that order.
func (s *NotificationService) CreateOrderConfirmationEmail(ctx context.Context, ev models.OrderConfirmed) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your order %s has been confirmed.\n", ev.OrderID)
	for _, l := range ev.OrderLines {
		fmt.Fprintf(&b, "- %s x %d\n", l.ProductID, l.Quantity)
	}

	n, err := models.NewEmailNotification(ev.CustomerEmail, "Order confirmed", b.String())
	if err != nil {
		return false, err
	}
	n.SourceKey = models.KeyOrderConfirmed + ":" + ev.OrderID.String()

	created, err := s.enqueue(ctx, n)
	if err != nil {
		return false, err
	}
	if !created {
		s.log.Info("♻️ Order confirmation email already queued", zap.String("order_id", ev.OrderID.String()))
	}
	return created, nil
}

func (s *NotificationService) enqueue(ctx context.Context, n *models.Notification) (bool, error) {
	n.MarkQueued()
	ev, err := models.NewOutboxEvent(n.Channel.EventType(), n.Message(), models.ExchangeNotificationEvents)
	if err != nil {
		return false, err
	}

	created := false
	err = s.store.InTx(ctx, func(tx store.NotificationTx) error {
		inserted, err := tx.InsertNotification(ctx, n)
		if err != nil || !inserted {
			return err
		}
		created = true
		return tx.InsertOutbox(ctx, s.opts.stamp([]models.OutboxEvent{ev})...)
	})
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info("✅ Notification queued",
			zap.String("notification_id", n.ID.String()),
			zap.String("channel", string(n.Channel)))
	}
	return created, nil
}

func (s *NotificationService) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

func (s *NotificationService) ListNotifications(ctx context.Context, f store.NotificationFilter) (models.Page[models.Notification], error) {
	return s.store.ListNotifications(ctx, f)
}

func (s *NotificationService) ListByRecipient(ctx context.Context, recipient string, page, size int) (models.Page[models.Notification], error) {
	return s.store.ListNotifications(ctx, store.NotificationFilter{Recipient: recipient, Page: page, PageSize: size})
}

// UpdateStatus applies an operator-requested status change.
func (s *NotificationService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.NotificationStatus, reason string) (*models.Notification, error) {
	var out *models.Notification
	err := s.store.InTx(ctx, func(tx store.NotificationTx) error {
		n, err := tx.GetNotification(ctx, id, true)
		if err != nil {
			return err
		}
		n.SetStatus(status, reason)
		out = n
		return tx.UpdateNotification(ctx, n)
	})
	return out, err
}

// Deliver sends a queued notification. A transient send failure is recorded
// as a <channel>.failed event instead of being retried here.
func (s *NotificationService) Deliver(ctx context.Context, channel models.Channel, msg models.NotificationMessage) error {
	fields := []zap.Field{
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("channel", string(channel)),
	}

	var outcome string
	err := s.store.InTx(ctx, func(tx store.NotificationTx) error {
		n, err := tx.GetNotification(ctx, msg.NotificationID, true)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				outcome = "missing"
				return nil
			}
			return err
		}
		if n.IsFinal() {
			outcome = "replayed"
			return nil
		}
		if n.Channel != channel {
			n.MarkUndeliverable(fmt.Sprintf("queued on %s but delivered on %s", n.Channel, channel))
			outcome = "undeliverable"
			return tx.UpdateNotification(ctx, n)
		}

		sendErr := s.sender.Send(ctx, *n)
		switch {
		case sendErr == nil:
			n.MarkDelivered(models.Now())
			outcome = "delivered"
		case errors.Is(sendErr, notify.ErrUndeliverable):
			n.MarkUndeliverable(sendErr.Error())
			outcome = "undeliverable"
		default:
			n.RecordAttemptFailure(sendErr.Error())
			failed := msg
			failed.FailureReason = sendErr.Error()
			ev, err := models.NewOutboxEvent(channel.FailedEventType(), failed, models.ExchangeNotificationEvents)
			if err != nil {
				return err
			}
			if err := tx.InsertOutbox(ctx, s.opts.stamp([]models.OutboxEvent{ev})...); err != nil {
				return err
			}
			outcome = "failed"
		}
		return tx.UpdateNotification(ctx, n)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case "missing":
		s.log.Warn("⚠️ Notification to deliver does not exist", fields...)
	case "replayed":
		s.log.Info("♻️ Notification already final", fields...)
	case "delivered":
		s.log.Info("✅ Notification delivered", fields...)
	default:
		s.log.Warn("⚠️ Notification not delivered", append(fields, zap.String("outcome", outcome))...)
	}
	return nil
}

// MarkFailed records the outcome of a <channel>.failed event.
func (s *NotificationService) MarkFailed(ctx context.Context, msg models.NotificationMessage) error {
	return s.store.InTx(ctx, func(tx store.NotificationTx) error {
		n, err := tx.GetNotification(ctx, msg.NotificationID, true)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.log.Warn("⚠️ Failed notification does not exist", zap.String("notification_id", msg.NotificationID.String()))
				return nil
			}
			return err
		}
		if n.IsFinal() {
			return nil
		}
		n.MarkFailed(msg.FailureReason)
		return tx.UpdateNotification(ctx, n)
	})
}
