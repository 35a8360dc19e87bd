package notify

import (
	"context"
	"fmt"
	"time"
)

// StdoutNotifier prints events to stdout.
type StdoutNotifier struct{}

// NewStdoutNotifier creates a new stdout notifier.
func NewStdoutNotifier() *StdoutNotifier {
	return &StdoutNotifier{}
}

// Name returns "stdout".
func (s *StdoutNotifier) Name() string {
	return "stdout"
}

// Send prints the event to stdout.
func (s *StdoutNotifier) Send(_ context.Context, event Event) error {
	ts := event.Timestamp.Format(time.RFC3339)
	fmt.Printf("[%s] %s %s -> %s: %s\n", ts, event.EventType, event.ActorID, event.TargetID, event.Message)
	return nil
}
