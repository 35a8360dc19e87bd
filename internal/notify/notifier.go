package notify

import (
	"context"
	"time"
)

// Event describes one committed relationship change.
type Event struct {
	EventType string    `json:"event_type"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier defines the interface for delivering relationship events.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send dispatches an event to the notification backend.
	Send(ctx context.Context, event Event) error
}

// Multi sends events to multiple notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a multi-notifier that dispatches to all backends.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Name returns "multi".
func (m *Multi) Name() string {
	return "multi"
}

// Send dispatches the event to all configured notifiers.
func (m *Multi) Send(ctx context.Context, event Event) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
