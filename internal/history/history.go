package history

import (
	"context"
	"sync"
	"time"

	"github.com/keithk/siteherd/internal/registry"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart     EventType = "start"
	EventStop      EventType = "stop"
	EventRestart   EventType = "restart"
	EventCrashLoop EventType = "crash_loop"
)

// Event represents a lifecycle event exported to external systems, e.g. the
// platform's deploy timeline.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Entry      registry.Entry `json:"entry"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use. Send failures are the
// sink's problem; the supervisor never blocks on them.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// MemorySink buffers events in memory. Used by tests and as a default when no
// external sink is configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of all received events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
