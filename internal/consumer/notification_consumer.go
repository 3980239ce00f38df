package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
	"github.com/prudhivi99/minisys-saga/internal/service"
)

const (
	EmailQueue = "notification-service-email"
	SmsQueue   = "notification-service-sms"
)

// NotificationConsumer delivers queued notifications and emails customers
// about confirmed orders.
type NotificationConsumer struct {
	notifications *service.NotificationService
	log           *zap.Logger
}

func NewNotificationConsumer(svc *service.NotificationService, log *zap.Logger) *NotificationConsumer {
	return &NotificationConsumer{notifications: svc, log: log}
}

func (c *NotificationConsumer) EmailListener(metrics *observability.Metrics) *Listener {
	return NewListener(EmailQueue, metrics, c.log).
		Handle(models.ExchangeNotificationEvents, models.EventNotificationEmail, c.deliver(models.ChannelEmail)).
		Handle(models.ExchangeNotificationEvents, models.EventNotificationEmailFailed, c.HandleFailed).
		Handle(models.ExchangeOrderEvents, models.KeyOrderConfirmed, c.HandleOrderConfirmed)
}

func (c *NotificationConsumer) SmsListener(metrics *observability.Metrics) *Listener {
	return NewListener(SmsQueue, metrics, c.log).
		Handle(models.ExchangeNotificationEvents, models.EventNotificationSms, c.deliver(models.ChannelSms)).
		Handle(models.ExchangeNotificationEvents, models.EventNotificationSmsFailed, c.HandleFailed)
}

func (c *NotificationConsumer) deliver(ch models.Channel) Handler {
	return func(ctx context.Context, env models.Envelope) error {
		var msg models.NotificationMessage
		if err := env.Decode(&msg); err != nil {
			return Permanent(err)
		}
		return c.notifications.Deliver(ctx, ch, msg)
	}
}

func (c *NotificationConsumer) HandleFailed(ctx context.Context, env models.Envelope) error {
	var msg models.NotificationMessage
	if err := env.Decode(&msg); err != nil {
		return Permanent(err)
	}
	c.log.Warn("⚠️ Notification delivery failed",
		zap.String("notification_id", msg.NotificationID.String()),
		zap.String("reason", msg.FailureReason))
	return c.notifications.MarkFailed(ctx, msg)
}

func (c *NotificationConsumer) HandleOrderConfirmed(ctx context.Context, env models.Envelope) error {
	var ev models.OrderConfirmed
	if err := env.Decode(&ev); err != nil {
		return Permanent(err)
	}
	_, err := c.notifications.CreateOrderConfirmationEmail(ctx, ev)
	return err
}
