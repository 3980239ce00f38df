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
	"github.com/prudhivi99/minisys-saga/internal/service"
)

const (
	serviceName = "order-service"
	servicePort = 8082
)

func main() {
	ctx := context.Background()

	svc, err := app.New(ctx, serviceName, servicePort, db.OrderMigrations)
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer svc.Close()

	pubs, err := svc.Publishers(models.ExchangeStockEvents, models.ExchangeOrderEvents)
	if err != nil {
		svc.Log.Fatal("Failed to create publishers", zap.Error(err))
	}
	svc.UseOutbox(db.NewOutboxRepository(svc.DB), pubs)

	orders := service.NewOrderService(db.NewOrderRepository(svc.DB), svc.Log,
		service.WithMetrics(svc.Telemetry.Metrics),
		service.WithOutboxMaxRetries(svc.Config.OutboxMaxRetries))
	handlers.NewOrderHandler(orders, svc.Log).Register(svc.Router)

	listener := consumer.NewOrderConsumer(orders, svc.Log).Listener(svc.Telemetry.Metrics)
	if err := svc.AddListener(listener); err != nil {
		svc.Log.Fatal("Failed to set up listener", zap.Error(err))
	}

	if err := svc.Run(ctx); err != nil {
		svc.Log.Error("❌ Service exited with error", zap.Error(err))
	}
}
