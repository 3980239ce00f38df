// Package service holds the application services: each operation loads the
// aggregate inside one store transaction, applies a command and writes the
// aggregate together with the events the command returned.
package service

import (
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/observability"
)

type options struct {
	metrics    *observability.Metrics
	maxRetries int
}

type Option func(*options)

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithOutboxMaxRetries overrides the retry budget stamped on new outbox rows.
func WithOutboxMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

func buildOptions(opts []Option) options {
	o := options{maxRetries: models.DefaultMaxRetries}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) stamp(events []models.OutboxEvent) []models.OutboxEvent {
	if o.maxRetries <= 0 {
		return events
	}
	for i := range events {
		events[i].MaxRetries = o.maxRetries
	}
	return events
}
