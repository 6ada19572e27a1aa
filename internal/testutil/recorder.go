package testutil

import (
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// Recorder is an observer collecting lifecycle events in dispatch order.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// OnEvent implements core.Observer.
func (r *Recorder) OnEvent(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Event(nil), r.events...)
}

// ForAgent returns the events of the named agent.
func (r *Recorder) ForAgent(name string) []core.Event {
	var out []core.Event

	for _, e := range r.Events() {
		if e.Agent.Name == name {
			out = append(out, e)
		}
	}

	return out
}

// Types returns the event types recorded for one context in order.
func (r *Recorder) Types(contextID string) []core.EventType {
	var out []core.EventType

	for _, e := range r.Events() {
		if e.ContextID == contextID {
			out = append(out, e.Type)
		}
	}

	return out
}

// Count returns how many events of type t were recorded for the agent.
func (r *Recorder) Count(agent string, t core.EventType) int {
	n := 0

	for _, e := range r.ForAgent(agent) {
		if e.Type == t {
			n++
		}
	}

	return n
}
