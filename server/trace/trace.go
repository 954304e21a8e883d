// Package trace records named, timed events for one consolidation or
// retrieval call. A trace is purely additive instrumentation: every method is
// safe on a nil receiver, so its absence never alters the functional result.
package trace

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Event is one named step within an operation.
type Event struct {
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Duration returns the elapsed time of the event, or zero while it is open.
func (e *Event) Duration() time.Duration {
	if e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Trace is the ordered event log of one top-level operation call. One
// instance per call; never shared across concurrent operations.
type Trace struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	StartedAt time.Time `json:"started_at"`

	mu     sync.Mutex
	events []*Event
}

// New creates a trace for one operation call.
func New(operation string) *Trace {
	return &Trace{
		ID:        shortuuid.New(),
		Operation: operation,
		StartedAt: time.Now(),
	}
}

// Begin opens a named event and returns its span. Callers end the span when
// the step completes; an unfinished span stays open in the event log.
func (t *Trace) Begin(name string) *Span {
	if t == nil {
		return nil
	}
	event := &Event{Name: name, StartedAt: time.Now()}
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
	return &Span{trace: t, event: event}
}

// Events returns a snapshot of the recorded events in order.
func (t *Trace) Events() []Event {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make([]Event, 0, len(t.events))
	for _, e := range t.events {
		snapshot = append(snapshot, *e)
	}
	return snapshot
}

// HasEvent reports whether a completed event with the given name exists.
func (t *Trace) HasEvent(name string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.events {
		if e.Name == name && !e.EndedAt.IsZero() {
			return true
		}
	}
	return false
}

// Duration returns the elapsed time since the operation started.
func (t *Trace) Duration() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.StartedAt)
}

// Span is an open event within a trace.
type Span struct {
	trace *Trace
	event *Event
}

// SetMeta attaches a metadata value to the event.
func (s *Span) SetMeta(key string, value any) *Span {
	if s == nil {
		return nil
	}
	s.trace.mu.Lock()
	if s.event.Metadata == nil {
		s.event.Metadata = make(map[string]any)
	}
	s.event.Metadata[key] = value
	s.trace.mu.Unlock()
	return s
}

// End closes the event.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.trace.mu.Lock()
	s.event.EndedAt = time.Now()
	s.trace.mu.Unlock()
}
