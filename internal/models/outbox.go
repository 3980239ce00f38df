package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const DefaultMaxRetries = 3

// OutboxEvent is a domain event waiting to be relayed to the broker. It is
// written in the same transaction as the state change that produced it.
type OutboxEvent struct {
	Entity
	Type         string     `json:"type"`
	Data         string     `json:"data"`
	ExchangeName string     `json:"exchangeName"`
	OccurredOn   time.Time  `json:"occurredOn"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	RetryCount   int        `json:"retryCount"`
	MaxRetries   int        `json:"maxRetries"`
	NextTryAtUtc *time.Time `json:"nextTryAtUtc,omitempty"`
}

func NewOutboxEvent(eventType string, payload any, exchange string) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to serialize %s: %w", eventType, err)
	}
	e := NewEntity()
	return OutboxEvent{
		Entity:       e,
		Type:         eventType,
		Data:         string(data),
		ExchangeName: exchange,
		OccurredOn:   e.CreatedAt,
		MaxRetries:   DefaultMaxRetries,
	}, nil
}

func (e *OutboxEvent) RoutingKey() string {
	return RoutingKeyFor(e.Type)
}

func (e *OutboxEvent) MarkAsProcessed(now time.Time) {
	e.Processed = true
	e.ProcessedAt = &now
	e.Error = ""
	e.NextTryAtUtc = nil
	e.UpdatedAt = &now
}

// MarkAsFailed records a transient publish failure and schedules the next
// attempt 2*retryCount minutes from now.
func (e *OutboxEvent) MarkAsFailed(reason string, now time.Time) {
	e.RetryCount++
	e.Error = reason
	next := now.Add(time.Duration(2*e.RetryCount) * time.Minute)
	e.NextTryAtUtc = &next
	e.UpdatedAt = &now
}

// MarkAsPermanentlyFailed exhausts the retry budget so the row is never
// selected again.
func (e *OutboxEvent) MarkAsPermanentlyFailed(reason string, now time.Time) {
	if e.RetryCount < e.MaxRetries {
		e.RetryCount = e.MaxRetries
	}
	e.Error = reason
	e.NextTryAtUtc = nil
	e.UpdatedAt = &now
}

func (e *OutboxEvent) CanRetry() bool {
	return !e.Processed && e.RetryCount < e.MaxRetries
}

func (e *OutboxEvent) HasExceededMaxRetries() bool {
	return e.RetryCount >= e.MaxRetries
}

// IsDue reports whether the dispatcher should pick the row up at now.
func (e *OutboxEvent) IsDue(now time.Time) bool {
	return e.CanRetry() && (e.NextTryAtUtc == nil || !e.NextTryAtUtc.After(now))
}
