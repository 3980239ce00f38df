package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeadLetterExchange receives messages rejected without requeue.
const DeadLetterExchange = "dead-letters"

type Binding struct {
	Exchange   string
	RoutingKey string
}

// Queue is a durable queue and the topic bindings that feed it.
type Queue struct {
	Name     string
	Bindings []Binding
}

type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	owner    bool
	confirms bool
	mu       sync.Mutex
	log      *zap.Logger
}

// Dial connects to the broker, retrying refused or dropped connections up to
// attempts times. Authentication failures are returned immediately.
func Dial(ctx context.Context, url string, attempts int, delay time.Duration, log *zap.Logger) (*RabbitMQ, error) {
	if attempts < 1 {
		attempts = 1
	}

	var conn *amqp.Connection
	var err error
	for i := 1; i <= attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if isFatalDialError(err) {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		log.Warn("⚠️ RabbitMQ not ready, retrying", zap.Int("attempt", i), zap.Int("of", attempts), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	log.Info("✅ Connected to RabbitMQ")

	return &RabbitMQ{
		conn:    conn,
		channel: channel,
		owner:   true,
		log:     log,
	}, nil
}

func isFatalDialError(err error) bool {
	if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) || errors.Is(err, amqp.ErrSASL) {
		return true
	}
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused
}

// Fork opens another channel on the same connection. Each consumer and the
// publisher get their own channel.
func (r *RabbitMQ) Fork() (*RabbitMQ, error) {
	channel, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &RabbitMQ{conn: r.conn, channel: channel, log: r.log}, nil
}

// EnableConfirms puts the channel in confirm mode; Publish then waits for the
// broker ack.
func (r *RabbitMQ) EnableConfirms() error {
	if err := r.channel.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	r.confirms = true
	return nil
}

// DeclareExchange creates a durable exchange if it doesn't exist
func (r *RabbitMQ) DeclareExchange(name, kind string) error {
	err := r.channel.ExchangeDeclare(
		name,  // name
		kind,  // kind
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

// DeclareQueue creates the queue with its dead-letter route and bindings
func (r *RabbitMQ) DeclareQueue(q Queue) error {
	if err := r.DeclareExchange(DeadLetterExchange, amqp.ExchangeFanout); err != nil {
		return err
	}
	if _, err := r.channel.QueueDeclare(DeadLetterExchange, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := r.channel.QueueBind(DeadLetterExchange, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	_, err := r.channel.QueueDeclare(
		q.Name, // queue name
		true,   // durable
		false,  // auto-delete
		false,  // exclusive
		false,  // no-wait
		amqp.Table{"x-dead-letter-exchange": DeadLetterExchange},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}

	for _, b := range q.Bindings {
		if err := r.DeclareExchange(b.Exchange, amqp.ExchangeTopic); err != nil {
			return err
		}
		if err := r.channel.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s/%s: %w", q.Name, b.Exchange, b.RoutingKey, err)
		}
	}

	r.log.Info("✅ Queue declared", zap.String("queue", q.Name), zap.Int("bindings", len(q.Bindings)))
	return nil
}

// Qos limits unacknowledged deliveries per consumer
func (r *RabbitMQ) Qos(prefetch int) error {
	if err := r.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	return nil
}

// Publish sends a message to an exchange
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.confirms {
		if err := r.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
		return nil
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm message: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.MessageId)
	}

	r.log.Debug("📤 Message published", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

// Consume receives messages from a queue
func (r *RabbitMQ) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	messages, err := r.channel.Consume(
		queue,       // queue name
		consumerTag, // consumer tag
		false,       // auto-ack (false = manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	r.log.Info("👂 Listening on queue", zap.String("queue", queue))
	return messages, nil
}

// IsClosed reports whether the underlying connection is gone.
func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

// Close closes the channel, and the connection when r owns it
func (r *RabbitMQ) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.owner && r.conn != nil {
		r.conn.Close()
	}
}
