package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/servicegraph/internal/events"
)

// MemorySink retains every consumed event in order. It backs tests and the
// introspection endpoint that exposes the most recent run's event trail.
type MemorySink struct {
	mu     sync.Mutex
	events []events.Event
	limit  int
}

// NewMemorySink builds a sink retaining at most limit events (0 = unbounded).
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Consume appends the batch, evicting the oldest events past the limit.
func (s *MemorySink) Consume(_ context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = append([]events.Event(nil), s.events[len(s.events)-s.limit:]...)
	}
	return nil
}

// Events returns a copy of the retained events.
func (s *MemorySink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// Reset drops all retained events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Close implements the Sink interface; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}
