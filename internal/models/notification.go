package models

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "Email"
	ChannelSms   Channel = "Sms"
)

func ParseChannel(s string) (Channel, error) {
	switch {
	case strings.EqualFold(s, string(ChannelEmail)):
		return ChannelEmail, nil
	case strings.EqualFold(s, string(ChannelSms)):
		return ChannelSms, nil
	}
	return "", invalidArgument("unknown notification channel %q", s)
}

// EventType is the outbox event type that requests delivery on c.
func (c Channel) EventType() string {
	if c == ChannelSms {
		return EventNotificationSms
	}
	return EventNotificationEmail
}

func (c Channel) FailedEventType() string {
	return c.EventType() + ".failed"
}

type NotificationStatus string

const (
	NotificationCreated       NotificationStatus = "Created"
	NotificationQueued        NotificationStatus = "Queued"
	NotificationDelivered     NotificationStatus = "Delivered"
	NotificationUndeliverable NotificationStatus = "Undeliverable"
	NotificationFailed        NotificationStatus = "Failed"
)

func ParseNotificationStatus(s string) (NotificationStatus, error) {
	for _, st := range []NotificationStatus{
		NotificationCreated, NotificationQueued, NotificationDelivered,
		NotificationUndeliverable, NotificationFailed,
	} {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", invalidArgument("unknown notification status %q", s)
}

type Notification struct {
	Entity
	Channel      Channel            `json:"channel"`
	Status       NotificationStatus `json:"status"`
	Recipient    string             `json:"recipient"`
	Subject      string             `json:"subject,omitempty"`
	Body         string             `json:"body"`
	AttemptCount int                `json:"attemptCount"`
	LastError    string             `json:"lastError,omitempty"`
	SentAtUtc    *time.Time         `json:"sentAtUtc,omitempty"`
	// SourceKey deduplicates notifications created from broker events.
	SourceKey string `json:"-"`
}

func NewEmailNotification(recipient, subject, body string) (*Notification, error) {
	if !strings.Contains(recipient, "@") {
		return nil, invalidArgument("a valid email recipient is required")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, invalidArgument("email subject is required")
	}
	return newNotification(ChannelEmail, recipient, subject, body)
}

func NewSmsNotification(recipient, text string) (*Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, invalidArgument("sms recipient is required")
	}
	return newNotification(ChannelSms, recipient, "", text)
}

func newNotification(ch Channel, recipient, subject, body string) (*Notification, error) {
	if strings.TrimSpace(body) == "" {
		return nil, invalidArgument("notification content is required")
	}
	return &Notification{
		Entity:    NewEntity(),
		Channel:   ch,
		Status:    NotificationCreated,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	}, nil
}

// Message builds the broker payload requesting delivery.
func (n *Notification) Message() NotificationMessage {
	return NotificationMessage{
		NotificationID: n.ID,
		Recipient:      n.Recipient,
		Subject:        n.Subject,
		Content:        n.Body,
		Metadata:       map[string]string{"channel": string(n.Channel)},
	}
}

func (n *Notification) IsFinal() bool {
	switch n.Status {
	case NotificationDelivered, NotificationFailed, NotificationUndeliverable:
		return true
	}
	return false
}

func (n *Notification) MarkQueued() {
	n.Status = NotificationQueued
	n.touch()
}

func (n *Notification) MarkDelivered(at time.Time) {
	n.Status = NotificationDelivered
	n.AttemptCount++
	n.SentAtUtc = &at
	n.LastError = ""
	n.touch()
}

func (n *Notification) RecordAttemptFailure(reason string) {
	n.AttemptCount++
	n.LastError = reason
	n.touch()
}

func (n *Notification) MarkFailed(reason string) {
	n.Status = NotificationFailed
	if reason != "" {
		n.LastError = reason
	}
	n.touch()
}

func (n *Notification) MarkUndeliverable(reason string) {
	n.Status = NotificationUndeliverable
	n.LastError = reason
	n.touch()
}

// SetStatus applies an operator-requested status.
func (n *Notification) SetStatus(s NotificationStatus, reason string) {
	switch s {
	case NotificationDelivered:
		n.MarkDelivered(Now())
	case NotificationFailed:
		n.MarkFailed(reason)
	case NotificationUndeliverable:
		n.MarkUndeliverable(reason)
	default:
		n.Status = s
		n.touch()
	}
}
