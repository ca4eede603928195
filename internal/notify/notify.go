// Package notify is the boundary to the notification layer. Dispatch is
// fire-and-forget: a failed delivery never fails the state change that
// produced it.
package notify

import (
	"context"
	"log/slog"
)

// Event is the payload handed to the notification layer.
type Event struct {
	Type    string         `json:"type"`
	PactID  string         `json:"pact_id"`
	ActorID string         `json:"actor_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Dispatcher consumes pact events. Implementations must not block on
// delivery failures.
type Dispatcher interface {
	Notify(ctx context.Context, evt Event)
}

// Log writes events to the structured log; the default dispatcher.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, evt Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("pact event", "type", evt.Type, "pact_id", evt.PactID, "actor_id", evt.ActorID)
}

// Multi fans out to several dispatchers.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, evt Event) {
	for _, d := range m {
		d.Notify(ctx, evt)
	}
}

// Discard drops everything; used in tests.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}
