package events

import (
	"sync"

	"ramm/core/types"
)

// Event represents a structured state change emitted by the engine host.
type Event interface {
	EventType() string
}

// Renderable events expose their attribute map for transport.
type Renderable interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket clients).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Fanout forwards every event to each emitter.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Render converts evt into its transport form, falling back to a bare type.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if renderable, ok := evt.(Renderable); ok {
		return renderable.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
