// Package outbox relays committed outbox rows to the broker.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
	"github.com/prudhivi99/minisys-saga/internal/publisher"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 10
)

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Result summarises one poll cycle.
type Result struct {
	Published    int
	Failed       int
	DeadLettered int
}

type Dispatcher struct {
	store      store.OutboxStore
	publishers publisher.Registry
	interval   time.Duration
	batchSize  int
	metrics    *observability.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func NewDispatcher(st store.OutboxStore, pubs publisher.Registry, cfg Config, metrics *observability.Metrics, log *zap.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Dispatcher{
		store:      st,
		publishers: pubs,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		metrics:    metrics,
		log:        log,
		now:        models.Now,
	}
}

// Run polls until ctx is cancelled. A failed cycle is logged and retried on
// the next tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("🚀 Outbox dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("❌ Outbox cycle rolled back", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			d.log.Info("🛑 Outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes one batch of due rows inside a single transaction.
// Publish failures are recorded per row; an error returned here means the
// whole batch was rolled back.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (Result, error) {
	var res Result
	now := d.now()

	err := d.store.ProcessPending(ctx, d.batchSize, now, func(events []*models.OutboxEvent) error {
		res = Result{}
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.dispatch(ctx, ev, now, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Published+res.Failed+res.DeadLettered > 0 {
		d.log.Info("📤 Outbox cycle finished",
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed),
			zap.Int("dead_lettered", res.DeadLettered))
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *models.OutboxEvent, now time.Time, res *Result) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("event_type", ev.Type),
		zap.String("exchange", ev.ExchangeName),
	}

	pub, ok := d.publishers.Lookup(ev.ExchangeName)
	if !ok {
		ev.MarkAsPermanentlyFailed("unknown exchange name: "+ev.ExchangeName, now)
		res.DeadLettered++
		d.metrics.OutboxDeadLettered(ctx, ev.ExchangeName)
		d.log.Error("☠️ Outbox event has no publisher for its exchange", fields...)
		return nil
	}

	err := pub.Publish(ctx, ev.ID, ev.Type, ev.Data, ev.RoutingKey())
	if err == nil {
		ev.MarkAsProcessed(now)
		res.Published++
		d.metrics.OutboxPublished(ctx, ev.ExchangeName)
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}

	ev.MarkAsFailed(err.Error(), now)
	d.metrics.OutboxPublishFailed(ctx, ev.ExchangeName)
	fields = append(fields, zap.Int("retry_count", ev.RetryCount), zap.Error(err))
	if ev.HasExceededMaxRetries() {
		res.DeadLettered++
		d.metrics.OutboxDeadLettered(ctx, ev.ExchangeName)
		d.log.Error("☠️ Outbox event exhausted its retries", fields...)
		return nil
	}
	res.Failed++
	d.log.Warn("⚠️ Outbox publish failed, will retry", append(fields, zap.Timep("next_try_at", ev.NextTryAtUtc))...)
	return nil
}

// DeadLetters lists rows needing operator attention.
func (d *Dispatcher) DeadLetters(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	return d.store.DeadLetters(ctx, limit)
}

// Requeue returns a dead-lettered row to the dispatcher.
func (d *Dispatcher) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := d.store.Requeue(ctx, id); err != nil {
		return err
	}
	d.log.Info("🔁 Outbox event requeued", zap.String("event_id", id.String()))
	return nil
}
