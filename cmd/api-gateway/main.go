package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/minisys-saga/internal/config"
	"github.com/prudhivi99/minisys-saga/internal/discovery"
	"github.com/prudhivi99/minisys-saga/internal/gateway"
	"github.com/prudhivi99/minisys-saga/internal/handlers"
	"github.com/prudhivi99/minisys-saga/internal/logging"
	"github.com/prudhivi99/minisys-saga/internal/observability"
)

const (
	serviceName = "api-gateway"
	servicePort = 8080
)

func main() {
	cfg, err := config.Load(serviceName, servicePort)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := observability.Setup(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("Failed to set up telemetry", zap.Error(err))
	}
	defer tel.Shutdown(context.Background())

	var resolver gateway.Resolver
	if cfg.ConsulEnabled {
		consul, err := discovery.NewConsulClient(cfg.ConsulAddr, logger)
		if err != nil {
			logger.Warn("⚠️ Failed to connect to Consul, using fallback routes", zap.Error(err))
		} else {
			resolver = consul
		}
	}

	gw := gateway.New(resolver, cfg.GatewayRoutes, logger)
	gw.Discover()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger), handlers.Tracing(serviceName))
	router.GET("/metrics", gin.WrapH(tel.MetricsHandler))
	gw.Register(router)

	srv := &http.Server{Addr: cfg.Addr(), Handler: router}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Watch(gctx, 10*time.Second) })
	g.Go(func() error {
		logger.Info("🚀 API Gateway starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("❌ Gateway exited with error", zap.Error(err))
	}
}
