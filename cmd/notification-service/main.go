package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/app"
	"github.com/prudhivi99/minisys-saga/internal/consumer"
	"github.com/prudhivi99/minisys-saga/internal/db"
	"github.com/prudhivi99/minisys-saga/internal/handlers"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/notify"
	"github.com/prudhivi99/minisys-saga/internal/service"
)

const (
	serviceName = "notification-service"
	servicePort = 8083
)

func main() {
	ctx := context.Background()

	svc, err := app.New(ctx, serviceName, servicePort, db.NotificationMigrations)
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer svc.Close()

	pubs, err := svc.Publishers(models.ExchangeNotificationEvents)
	if err != nil {
		svc.Log.Fatal("Failed to create publishers", zap.Error(err))
	}
	svc.UseOutbox(db.NewOutboxRepository(svc.DB), pubs)

	sender := notify.NewLogSender(svc.Log, svc.Config.BlockedRecipients...)
	notifications := service.NewNotificationService(db.NewNotificationRepository(svc.DB), sender, svc.Log,
		service.WithMetrics(svc.Telemetry.Metrics),
		service.WithOutboxMaxRetries(svc.Config.OutboxMaxRetries))
	handlers.NewNotificationHandler(notifications, svc.Log).Register(svc.Router)

	c := consumer.NewNotificationConsumer(notifications, svc.Log)
	for _, l := range []*consumer.Listener{
		c.EmailListener(svc.Telemetry.Metrics),
		c.SmsListener(svc.Telemetry.Metrics),
	} {
		if err := svc.AddListener(l); err != nil {
			svc.Log.Fatal("Failed to set up listener", zap.Error(err))
		}
	}

	if err := svc.Run(ctx); err != nil {
		svc.Log.Error("❌ Service exited with error", zap.Error(err))
	}
}
