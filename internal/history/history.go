package history

import (
	"context"
	"time"

	"github.com/loykin/hookd/internal/webhook"
)

// EventType mirrors the registry transition that produced the event.
type EventType string

const (
	EventActivated    EventType = EventType(webhook.EventActivated)
	EventQueued       EventType = EventType(webhook.EventQueued)
	EventConflict     EventType = EventType(webhook.EventConflict)
	EventRejected     EventType = EventType(webhook.EventRejected)
	EventPromoted     EventType = EventType(webhook.EventPromoted)
	EventDeregistered EventType = EventType(webhook.EventDeregistered)
)

// Record is the flattened listener state captured with an event.
type Record struct {
	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
	ElementID    string `json:"element_id"`
	ContextPath  string `json:"context_path"`
	Type         string `json:"type,omitempty"`
	Health       string `json:"health"`
	Reason       string `json:"reason,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Event represents an ownership transition exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FromRegistry converts a registry event. Health is read at conversion time.
func FromRegistry(e webhook.Event) Event {
	out := Event{Type: EventType(e.Type), OccurredAt: e.OccurredAt}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}
	if l := e.Listener; l != nil {
		h := l.Context.Health()
		out.Record = Record{
			DefinitionID: l.Identity.DefinitionID,
			Version:      l.Identity.Version,
			ElementID:    l.Identity.ElementID,
			ContextPath:  l.Identity.ContextPath,
			Type:         l.Type(),
			Health:       string(h.Status),
			Reason:       h.Reason,
		}
	}
	if e.Owner != nil {
		out.Record.Owner = e.Owner.Identity.String()
	}
	if e.Err != nil {
		out.Record.Error = e.Err.Error()
	}
	return out
}
