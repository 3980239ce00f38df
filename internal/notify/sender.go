// Package notify delivers notifications to recipients.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/models"
)

// ErrUndeliverable marks a recipient that can never be reached; retrying is
// pointless.
var ErrUndeliverable = errors.New("recipient undeliverable")

type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// LogSender writes each notification to the service log instead of a real
// gateway. Recipients on the configured blocklist fail with ErrUndeliverable.
type LogSender struct {
	log     *zap.Logger
	blocked map[string]bool
}

func NewLogSender(log *zap.Logger, blocked ...string) *LogSender {
	s := &LogSender{log: log, blocked: make(map[string]bool)}
	for _, b := range blocked {
		s.blocked[strings.ToLower(b)] = true
	}
	return s
}

func (s *LogSender) Send(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.blocked[strings.ToLower(n.Recipient)] {
		return ErrUndeliverable
	}
	s.log.Info("✉️ Notification sent",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject))
	return nil
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n models.Notification) error

func (f SenderFunc) Send(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}
