package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/messaging"
	"github.com/prudhivi99/minisys-saga/internal/models"
)

// Subscriber consumes deliveries from one queue; consumer.Listener satisfies it.
type Subscriber interface {
	Queue() messaging.Queue
	HandleDelivery(ctx context.Context, d amqp.Delivery)
}

type busMessage struct {
	queue    string
	delivery amqp.Delivery
	attempts int
}

// InMemoryBus routes published envelopes to subscribed queues inside one
// process. Messages are queued on Publish and handed to subscribers by
// Drain, so a handler may publish without re-entering the bus.
type InMemoryBus struct {
	mu            sync.Mutex
	subscribers   map[string]Subscriber
	bindings      map[string][]string // exchange/routingKey -> queues
	pending       []busMessage
	deadLetters   []amqp.Delivery
	maxRedelivery int
	log           *zap.Logger
}

func NewInMemoryBus(log *zap.Logger) *InMemoryBus {
	return &InMemoryBus{
		subscribers:   make(map[string]Subscriber),
		bindings:      make(map[string][]string),
		maxRedelivery: 5,
		log:           log,
	}
}

func bindingKey(exchange, routingKey string) string {
	return exchange + "/" + routingKey
}

func (b *InMemoryBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := s.Queue()
	b.subscribers[q.Name] = s
	for _, bind := range q.Bindings {
		k := bindingKey(bind.Exchange, bind.RoutingKey)
		b.bindings[k] = append(b.bindings[k], q.Name)
	}
}

// Publisher returns a Publisher bound to exchange.
func (b *InMemoryBus) Publisher(exchange string) Publisher {
	return &busPublisher{bus: b, exchange: exchange}
}

// DeadLetters returns messages rejected without requeue or redelivered too often.
func (b *InMemoryBus) DeadLetters() []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Delivery(nil), b.deadLetters...)
}

func (b *InMemoryBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Drain delivers queued messages until none are left and returns how many
// deliveries were made.
func (b *InMemoryBus) Drain(ctx context.Context) int {
	delivered := 0
	for {
		if ctx.Err() != nil {
			return delivered
		}
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return delivered
		}
		msg := b.pending[0]
		b.pending = b.pending[1:]
		sub := b.subscribers[msg.queue]
		b.mu.Unlock()

		msg.attempts++
		d := msg.delivery
		d.Redelivered = msg.attempts > 1
		d.Acknowledger = &busAck{bus: b, msg: msg}
		sub.HandleDelivery(ctx, d)
		delivered++
	}
}

func (b *InMemoryBus) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queues := b.bindings[bindingKey(exchange, routingKey)]
	if len(queues) == 0 {
		b.log.Debug("📭 No queue bound", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
		return
	}
	for _, q := range queues {
		b.pending = append(b.pending, busMessage{
			queue: q,
			delivery: amqp.Delivery{
				Headers:      msg.Headers,
				ContentType:  msg.ContentType,
				DeliveryMode: msg.DeliveryMode,
				MessageId:    msg.MessageId,
				Timestamp:    msg.Timestamp,
				Type:         msg.Type,
				Exchange:     exchange,
				RoutingKey:   routingKey,
				Body:         msg.Body,
			},
		})
	}
}

type busAck struct {
	bus *InMemoryBus
	msg busMessage
}

func (a *busAck) Ack(tag uint64, multiple bool) error { return nil }

func (a *busAck) Nack(tag uint64, multiple, requeue bool) error {
	return a.Reject(tag, requeue)
}

func (a *busAck) Reject(tag uint64, requeue bool) error {
	b := a.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if requeue && a.msg.attempts < b.maxRedelivery {
		b.pending = append(b.pending, a.msg)
		return nil
	}
	b.log.Warn("☠️ Message dead-lettered",
		zap.String("queue", a.msg.queue),
		zap.String("routing_key", a.msg.delivery.RoutingKey),
		zap.Int("attempts", a.msg.attempts))
	b.deadLetters = append(b.deadLetters, a.msg.delivery)
	return nil
}

type busPublisher struct {
	bus      *InMemoryBus
	exchange string
}

func (p *busPublisher) Exchange() string {
	return p.exchange
}

func (p *busPublisher) Publish(ctx context.Context, eventID uuid.UUID, eventType, data, routingKey string) error {
	if routingKey == "" {
		routingKey = models.RoutingKeyFor(eventType)
	}
	env := models.NewEnvelope(eventID, eventType, data)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	p.bus.publish(ctx, p.exchange, routingKey, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID.String(),
		Type:        eventType,
		Timestamp:   env.Timestamp,
		Headers:     messaging.InjectTrace(ctx, nil),
		Body:        body,
	})
	return nil
}
