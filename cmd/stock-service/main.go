package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/app"
	"github.com/prudhivi99/minisys-saga/internal/cache"
	"github.com/prudhivi99/minisys-saga/internal/consumer"
	"github.com/prudhivi99/minisys-saga/internal/db"
	"github.com/prudhivi99/minisys-saga/internal/handlers"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

const (
	serviceName = "stock-service"
	servicePort = 8081
)

func main() {
	ctx := context.Background()

	svc, err := app.New(ctx, serviceName, servicePort, db.StockMigrations)
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer svc.Close()

	var stocks store.StockStore = db.NewStockRepository(svc.DB)

	// Redis is optional; without it reads go straight to PostgreSQL
	redisCache, err := cache.NewRedisCache(ctx, svc.Config.RedisAddr, svc.Config.RedisPrefix, svc.Config.RedisTTL, svc.Log)
	if err != nil {
		svc.Log.Warn("⚠️ Redis unavailable, stock cache disabled", zap.Error(err))
	} else {
		defer redisCache.Close()
		// rows may have changed while the service was down
		if err := redisCache.DeleteByPattern(ctx, "stock:*"); err != nil {
			svc.Log.Warn("⚠️ Failed to flush stock cache", zap.Error(err))
		}
		stocks = db.NewCachedStockRepository(stocks, redisCache, svc.Log)
		svc.AddCheck("redis", redisCache.Ping)
	}

	pubs, err := svc.Publishers(models.ExchangeStockEvents)
	if err != nil {
		svc.Log.Fatal("Failed to create publishers", zap.Error(err))
	}
	svc.UseOutbox(db.NewOutboxRepository(svc.DB), pubs)

	stock := service.NewStockService(stocks, svc.Log,
		service.WithMetrics(svc.Telemetry.Metrics),
		service.WithOutboxMaxRetries(svc.Config.OutboxMaxRetries))
	handlers.NewStockHandler(stock, svc.Log).Register(svc.Router)

	listener := consumer.NewStockConsumer(stock, svc.Log).Listener(svc.Telemetry.Metrics)
	if err := svc.AddListener(listener); err != nil {
		svc.Log.Fatal("Failed to set up listener", zap.Error(err))
	}

	if err := svc.Run(ctx); err != nil {
		svc.Log.Error("❌ Service exited with error", zap.Error(err))
	}
}
