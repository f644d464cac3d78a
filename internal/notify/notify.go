// Package notify hands alert notifications to the external dispatcher.
// This engine only requests delivery; push/email/SMS are someone else's
// problem. Requests are best-effort: a failed delivery is logged and
// dropped, never retried inline.
package notify

import (
	"context"
	"time"
)

// Request is one outbound notification request.
type Request struct {
	Channel     string    `json:"channel"`
	AlertID     string    `json:"alert_id"`
	EntityID    string    `json:"entity_id"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Indicators  []string  `json:"indicators,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Priority    string    `json:"priority,omitempty"` // "priority" for escalations
}

// Notifier accepts notification requests. Implementations must not block
// beyond a bounded timeout.
type Notifier interface {
	Request(ctx context.Context, req Request)
}

// Discard is a Notifier that drops everything. Useful in tests and in
// configurations with no channels.
type Discard struct{}

func (Discard) Request(context.Context, Request) {}
