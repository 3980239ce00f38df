package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Consumer outcomes
const (
	OutcomeAcked    = "acked"
	OutcomeRequeued = "requeued"
	OutcomeRejected = "rejected"
	OutcomeIgnored  = "ignored"
)

// Metrics holds the saga counters. A nil *Metrics records nothing.
type Metrics struct {
	published     metric.Int64Counter
	publishFailed metric.Int64Counter
	deadLettered  metric.Int64Counter
	consumed      metric.Int64Counter
	transitions   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.published, err = meter.Int64Counter("outbox_published",
		metric.WithDescription("Outbox events published to the broker")); err != nil {
		return nil, fmt.Errorf("failed to create outbox_published counter: %w", err)
	}
	if m.publishFailed, err = meter.Int64Counter("outbox_publish_failures",
		metric.WithDescription("Outbox publish attempts that failed")); err != nil {
		return nil, fmt.Errorf("failed to create outbox_publish_failures counter: %w", err)
	}
	if m.deadLettered, err = meter.Int64Counter("outbox_dead_lettered",
		metric.WithDescription("Outbox events that exhausted their retries")); err != nil {
		return nil, fmt.Errorf("failed to create outbox_dead_lettered counter: %w", err)
	}
	if m.consumed, err = meter.Int64Counter("consumer_messages",
		metric.WithDescription("Broker deliveries handled, by routing key and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create consumer_messages counter: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("saga_transitions",
		metric.WithDescription("Aggregate state transitions driven by the saga")); err != nil {
		return nil, fmt.Errorf("failed to create saga_transitions counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) OutboxPublished(ctx context.Context, exchange string) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("exchange", exchange)))
}

func (m *Metrics) OutboxPublishFailed(ctx context.Context, exchange string) {
	if m == nil {
		return
	}
	m.publishFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("exchange", exchange)))
}

func (m *Metrics) OutboxDeadLettered(ctx context.Context, exchange string) {
	if m == nil {
		return
	}
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("exchange", exchange)))
}

func (m *Metrics) MessageConsumed(ctx context.Context, routingKey, outcome string) {
	if m == nil {
		return
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("routing_key", routingKey),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) SagaTransition(ctx context.Context, transition string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}
