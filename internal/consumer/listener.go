// Package consumer receives saga events from the broker and routes them to
// the service that reacts to them.
package consumer

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/messaging"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
)

// Handler reacts to one decoded envelope. Returning nil acks the delivery;
// a Permanent error dead-letters it; any other error requeues it.
type Handler func(ctx context.Context, env models.Envelope) error

// Broker is the part of *messaging.RabbitMQ a listener needs.
type Broker interface {
	DeclareQueue(q messaging.Queue) error
	Qos(prefetch int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

var _ Broker = (*messaging.RabbitMQ)(nil)

// Listener consumes one durable queue and dispatches each delivery by
// exchange and routing key.
type Listener struct {
	queue    string
	bindings []messaging.Binding
	routes   map[string]Handler
	metrics  *observability.Metrics
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewListener(queue string, metrics *observability.Metrics, log *zap.Logger) *Listener {
	return &Listener{
		queue:   queue,
		routes:  make(map[string]Handler),
		metrics: metrics,
		tracer:  otel.Tracer("minisys-saga/consumer"),
		log:     log.With(zap.String("queue", queue)),
	}
}

func routeKey(exchange, routingKey string) string {
	return exchange + "/" + routingKey
}

// Handle binds the queue to exchange/routingKey and routes matching
// deliveries to h.
func (l *Listener) Handle(exchange, routingKey string, h Handler) *Listener {
	l.bindings = append(l.bindings, messaging.Binding{Exchange: exchange, RoutingKey: routingKey})
	l.routes[routeKey(exchange, routingKey)] = h
	return l
}

func (l *Listener) Queue() messaging.Queue {
	return messaging.Queue{Name: l.queue, Bindings: l.bindings}
}

// Setup declares the queue topology and the prefetch window.
func (l *Listener) Setup(mq Broker, prefetch int) error {
	if err := mq.DeclareQueue(l.Queue()); err != nil {
		return err
	}
	if prefetch > 0 {
		return mq.Qos(prefetch)
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (l *Listener) Run(ctx context.Context, mq Broker) error {
	messages, err := mq.Consume(l.queue, l.queue)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			l.log.Info("🛑 Listener stopped")
			return nil
		case d, ok := <-messages:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", l.queue)
			}
			l.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery processes a single delivery and settles it.
func (l *Listener) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx = messaging.ExtractTrace(ctx, d.Headers)
	ctx, span := l.tracer.Start(ctx, "consume "+d.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", l.queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
			attribute.String("messaging.message.id", d.MessageId),
			attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
		))
	defer span.End()

	fields := []zap.Field{
		zap.String("exchange", d.Exchange),
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.MessageId),
	}

	h, ok := l.routes[routeKey(d.Exchange, d.RoutingKey)]
	if !ok {
		l.log.Warn("⚠️ No handler for routing key", fields...)
		l.settle(ctx, d, observability.OutcomeIgnored, d.Ack(false))
		return
	}

	env, err := models.DecodeEnvelope(d.Body)
	if err != nil {
		l.log.Error("❌ Failed to parse event", append(fields, zap.Error(err))...)
		span.SetStatus(codes.Error, err.Error())
		l.settle(ctx, d, observability.OutcomeRejected, d.Reject(false))
		return
	}
	fields = append(fields, zap.String("event_id", env.ID.String()))
	l.log.Debug("📥 Received event", fields...)

	err = h(ctx, env)
	switch {
	case err == nil:
		l.settle(ctx, d, observability.OutcomeAcked, d.Ack(false))
	case IsPermanent(err) || errors.Is(err, models.ErrInvalidArgument):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.Error("❌ Event rejected", append(fields, zap.Error(err))...)
		l.settle(ctx, d, observability.OutcomeRejected, d.Nack(false, false))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.Warn("⚠️ Event handling failed, requeued", append(fields, zap.Error(err))...)
		l.settle(ctx, d, observability.OutcomeRequeued, d.Nack(false, true))
	}
}

func (l *Listener) settle(ctx context.Context, d amqp.Delivery, outcome string, ackErr error) {
	if ackErr != nil {
		l.log.Error("❌ Failed to settle delivery",
			zap.String("routing_key", d.RoutingKey),
			zap.String("outcome", outcome),
			zap.Error(ackErr))
	}
	l.metrics.MessageConsumed(ctx, d.RoutingKey, outcome)
}
