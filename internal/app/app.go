// Package app wires and runs one saga service: HTTP API, outbox dispatcher
// and broker listeners under a single signal-aware context.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/minisys-saga/internal/config"
	"github.com/prudhivi99/minisys-saga/internal/consumer"
	"github.com/prudhivi99/minisys-saga/internal/db"
	"github.com/prudhivi99/minisys-saga/internal/discovery"
	"github.com/prudhivi99/minisys-saga/internal/handlers"
	"github.com/prudhivi99/minisys-saga/internal/logging"
	"github.com/prudhivi99/minisys-saga/internal/messaging"
	"github.com/prudhivi99/minisys-saga/internal/observability"
	"github.com/prudhivi99/minisys-saga/internal/outbox"
	"github.com/prudhivi99/minisys-saga/internal/publisher"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type listener struct {
	l  *consumer.Listener
	mq *messaging.RabbitMQ
}

// Service holds the infrastructure of one running service.
type Service struct {
	Config    *config.Config
	Log       *zap.Logger
	Telemetry *observability.Telemetry
	DB        *db.PostgresDB
	MQ        *messaging.RabbitMQ
	Router    *gin.Engine

	checks     map[string]handlers.Check
	dispatcher *outbox.Dispatcher
	listeners  []listener
	closers    []func()
}

// New loads configuration and connects to PostgreSQL and RabbitMQ. The
// service's migrations are applied when MIGRATE_ON_START is set.
func New(ctx context.Context, name string, defaultPort int, migrations string) (*Service, error) {
	cfg, err := config.Load(name, defaultPort)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(name, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	s := &Service{Config: cfg, Log: log, checks: make(map[string]handlers.Check)}
	s.onClose(func() { _ = log.Sync() })

	tel, err := observability.Setup(ctx, name, cfg.OTLPEndpoint, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Telemetry = tel
	s.onClose(func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn("⚠️ Telemetry shutdown failed", zap.Error(err))
		}
	})

	pg, err := db.NewPostgresDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.DB = pg
	s.onClose(func() { _ = pg.Close() })
	s.checks["postgres"] = pg.Ping
	if cfg.MigrateOnStart {
		if err := pg.Migrate(migrations); err != nil {
			s.Close()
			return nil, err
		}
	}

	mq, err := messaging.Dial(ctx, cfg.RabbitMQURL, cfg.BrokerConnectAttempts, cfg.BrokerConnectDelay, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.MQ = mq
	s.onClose(mq.Close)
	s.checks["rabbitmq"] = func(context.Context) error {
		if mq.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	s.Router = gin.New()
	s.Router.Use(gin.Recovery(), handlers.RequestLogger(log), handlers.Tracing(name))
	s.Router.GET("/metrics", gin.WrapH(tel.MetricsHandler))
	return s, nil
}

func (s *Service) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// AddCheck adds a dependency to the /health report.
func (s *Service) AddCheck(name string, check handlers.Check) {
	s.checks[name] = check
}

// Publishers opens a confirm-mode channel and binds one publisher per exchange.
func (s *Service) Publishers(exchanges ...string) (publisher.Registry, error) {
	ch, err := s.MQ.Fork()
	if err != nil {
		return nil, err
	}
	s.onClose(ch.Close)
	if err := ch.EnableConfirms(); err != nil {
		return nil, err
	}

	pubs := make([]publisher.Publisher, 0, len(exchanges))
	for _, ex := range exchanges {
		p, err := publisher.NewEventPublisher(ch, ex, s.Log)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return publisher.NewRegistry(pubs...), nil
}

// UseOutbox relays st through pubs and exposes the dead-letter endpoints.
func (s *Service) UseOutbox(st store.OutboxStore, pubs publisher.Registry) {
	s.dispatcher = outbox.NewDispatcher(st, pubs, outbox.Config{
		Interval:  s.Config.OutboxPollInterval,
		BatchSize: s.Config.OutboxBatchSize,
	}, s.Telemetry.Metrics, s.Log)
	handlers.NewOutboxHandler(s.dispatcher, s.Log).Register(s.Router)
}

// AddListener declares the listener's queue on its own channel.
func (s *Service) AddListener(l *consumer.Listener) error {
	ch, err := s.MQ.Fork()
	if err != nil {
		return err
	}
	s.onClose(ch.Close)
	if err := l.Setup(ch, s.Config.ConsumerPrefetch); err != nil {
		return fmt.Errorf("failed to set up %s: %w", l.Queue().Name, err)
	}
	s.listeners = append(s.listeners, listener{l: l, mq: ch})
	return nil
}

// Run serves until SIGINT/SIGTERM or until a component fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers.NewHealthHandler(s.Config.Service, s.checks).Register(s.Router)

	consul := s.register()

	srv := &http.Server{Addr: s.Config.Addr(), Handler: s.Router}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Log.Info("🚀 Service starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.dispatcher != nil {
		g.Go(func() error { return s.dispatcher.Run(gctx) })
	}
	for _, ln := range s.listeners {
		g.Go(func() error { return ln.l.Run(gctx, ln.mq) })
	}

	err := g.Wait()
	if consul != nil {
		if derr := consul.Deregister(s.Config.ServiceID); derr != nil {
			s.Log.Warn("⚠️ Consul deregistration failed", zap.Error(derr))
		}
	}
	s.Log.Info("👋 Service stopped")
	return err
}

func (s *Service) register() *discovery.ConsulClient {
	if !s.Config.ConsulEnabled {
		return nil
	}
	consul, err := discovery.NewConsulClient(s.Config.ConsulAddr, s.Log)
	if err != nil {
		s.Log.Warn("⚠️ Consul unavailable, running unregistered", zap.Error(err))
		return nil
	}
	err = consul.Register(discovery.ServiceConfig{
		Name: s.Config.Service,
		ID:   s.Config.ServiceID,
		Port: s.Config.HTTPPort,
		Tags: []string{"api", "saga"},
	})
	if err != nil {
		s.Log.Warn("⚠️ Consul registration failed", zap.Error(err))
		return nil
	}
	return consul
}

// Close releases everything New and the setup calls opened, newest first.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
