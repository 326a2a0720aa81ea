// Package audit records before/after snapshots of allocation mutations.
// Every sink is best-effort: callers log failures and continue, they never
// propagate them into the operation that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one audit record: what entity changed, how, and its before/after
// images as raw JSON.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Action      string          `json:"action"`
	BeforeValue json.RawMessage `json:"beforeValue,omitempty"`
	AfterValue  json.RawMessage `json:"afterValue,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewEvent builds an event, marshalling the before/after values. Marshal
// failures degrade to null snapshots rather than blocking the event.
func NewEvent(entityType, entityID, action string, before, after any) Event {
	ev := Event{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		CreatedAt:  time.Now().UTC(),
	}
	if before != nil {
		if raw, err := json.Marshal(before); err == nil {
			ev.BeforeValue = raw
		}
	}
	if after != nil {
		if raw, err := json.Marshal(after); err == nil {
			ev.AfterValue = raw
		}
	}
	return ev
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Fanout forwards each event to every sink, returning the first error after
// all sinks have seen the event.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemorySink collects events for assertions in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
