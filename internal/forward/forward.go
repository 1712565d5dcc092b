// Package forward delivers notification events to external systems: MQTT
// brokers, webhooks and shoutrrr services. Each provider runs behind a
// Dispatcher that subscribes to the notification service, queues events and
// retries failed deliveries through a circuit breaker.
package forward

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openans/ansd/internal/notification"
)

// EventKind names the subscriber callback an event came from.
type EventKind string

const (
	EventConsume      EventKind = "consume"
	EventCancel       EventKind = "cancel"
	EventDoNotDisturb EventKind = "dnd"
)

// Event is the unit forwarded to providers.
type Event struct {
	ID           string                         `json:"id" cbor:"id"`
	Kind         EventKind                      `json:"kind" cbor:"kind"`
	Bundle       string                         `json:"bundle,omitempty" cbor:"bundle,omitempty"`
	Notification *notification.Notification    `json:"notification,omitempty" cbor:"notification,omitempty"`
	Reason       string                         `json:"reason,omitempty" cbor:"reason,omitempty"` // cancel only
	DoNotDisturb *notification.DoNotDisturbDate `json:"doNotDisturb,omitempty" cbor:"doNotDisturb,omitempty"`
	Timestamp    time.Time                      `json:"timestamp" cbor:"timestamp"`
}

func newEvent(kind EventKind) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// ConsumeEvent wraps a posted notification.
func ConsumeEvent(n *notification.Notification) *Event {
	ev := newEvent(EventConsume)
	ev.Bundle = n.Request.CreatorBundle
	ev.Notification = n
	return ev
}

// CancelEvent wraps a removed notification.
func CancelEvent(n *notification.Notification, reason notification.RemoveReason) *Event {
	ev := newEvent(EventCancel)
	ev.Bundle = n.Request.CreatorBundle
	ev.Notification = n
	ev.Reason = reason.String()
	return ev
}

// DoNotDisturbEvent wraps a do-not-disturb change.
func DoNotDisturbEvent(date notification.DoNotDisturbDate) *Event {
	ev := newEvent(EventDoNotDisturb)
	ev.DoNotDisturb = &date
	return ev
}

// Title returns the notification title, empty for do-not-disturb events.
func (e *Event) Title() string {
	if b := e.basic(); b != nil {
		return b.Title
	}
	return ""
}

// Text returns the richest body the content variant carries.
func (e *Event) Text() string {
	if e.Notification == nil {
		return ""
	}
	c := &e.Notification.Request.Content
	switch c.Type {
	case notification.ContentLongText:
		if c.LongText != nil && c.LongText.LongText != "" {
			return c.LongText.LongText
		}
	case notification.ContentMultiLine:
		if c.MultiLine != nil && len(c.MultiLine.Lines) > 0 {
			return strings.Join(c.MultiLine.Lines, "\n")
		}
	}
	if b := e.basic(); b != nil {
		return b.Text
	}
	return ""
}

func (e *Event) basic() *notification.BasicContent {
	if e.Notification == nil || e.Notification.Request == nil {
		return nil
	}
	return e.Notification.Request.Content.Basic()
}

// Provider is a delivery backend. Send is called from a single goroutine
// per provider.
type Provider interface {
	Name() string
	Send(ctx context.Context, ev *Event) error
	Close() error
}

// ProviderError lets providers mark failures that retrying cannot fix.
type ProviderError struct {
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

func permanent(err error) error {
	return &ProviderError{Err: err, Retryable: false}
}

// Metrics receives delivery statistics. *metrics.ForwardMetrics implements it.
type Metrics interface {
	RecordDelivery(provider, kind, status string, duration time.Duration)
	RecordDeliveryError(provider, kind, errorCategory string)
	RecordTimeout(provider string)
	RecordRetryAttempt(provider string)
	RecordRetrySuccess(provider string)
	UpdateHealthStatus(provider string, healthy bool)
	UpdateCircuitBreakerState(provider string, state int)
	IncrementConsecutiveFailures(provider string)
	SetQueueDepth(provider string, depth int)
}

type noopMetrics struct{}

func (noopMetrics) RecordDelivery(string, string, string, time.Duration) {}
func (noopMetrics) RecordDeliveryError(string, string, string)          {}
func (noopMetrics) RecordTimeout(string)                                {}
func (noopMetrics) RecordRetryAttempt(string)                           {}
func (noopMetrics) RecordRetrySuccess(string)                           {}
func (noopMetrics) UpdateHealthStatus(string, bool)                     {}
func (noopMetrics) UpdateCircuitBreakerState(string, int)               {}
func (noopMetrics) IncrementConsecutiveFailures(string)                 {}
func (noopMetrics) SetQueueDepth(string, int)                           {}
