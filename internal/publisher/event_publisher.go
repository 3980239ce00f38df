package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/messaging"
	"github.com/prudhivi99/minisys-saga/internal/models"
)

// Publisher relays one serialized event to the exchange it is bound to.
type Publisher interface {
	Exchange() string
	Publish(ctx context.Context, eventID uuid.UUID, eventType, data, routingKey string) error
}

// Channel is the broker surface the publisher needs; *messaging.RabbitMQ
// satisfies it.
type Channel interface {
	DeclareExchange(name, kind string) error
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

var _ Channel = (*messaging.RabbitMQ)(nil)

// EventPublisher wraps events in an Envelope and publishes them to a topic
// exchange.
type EventPublisher struct {
	mq       Channel
	exchange string
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewEventPublisher(mq Channel, exchange string, log *zap.Logger) (*EventPublisher, error) {
	// Declare the exchange
	if err := mq.DeclareExchange(exchange, amqp.ExchangeTopic); err != nil {
		return nil, err
	}

	return &EventPublisher{
		mq:       mq,
		exchange: exchange,
		tracer:   otel.Tracer("minisys-saga/publisher"),
		log:      log,
	}, nil
}

func (p *EventPublisher) Exchange() string {
	return p.exchange
}

// Publish sends the event. An empty routingKey defaults to the lowercased type.
func (p *EventPublisher) Publish(ctx context.Context, eventID uuid.UUID, eventType, data, routingKey string) error {
	if routingKey == "" {
		routingKey = models.RoutingKeyFor(eventType)
	}

	ctx, span := p.tracer.Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		))
	defer span.End()

	env := models.NewEnvelope(eventID, eventType, data)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Type:         eventType,
		Timestamp:    env.Timestamp,
		Headers:      messaging.InjectTrace(ctx, nil),
		Body:         body,
	}
	if err := p.mq.Publish(ctx, p.exchange, routingKey, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.log.Debug("📤 Event published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("event_id", env.ID.String()))
	return nil
}

// Registry maps exchange names to their publishers.
type Registry map[string]Publisher

func NewRegistry(pubs ...Publisher) Registry {
	r := make(Registry, len(pubs))
	for _, p := range pubs {
		r[p.Exchange()] = p
	}
	return r
}

func (r Registry) Lookup(exchange string) (Publisher, bool) {
	p, ok := r[exchange]
	return p, ok
}
