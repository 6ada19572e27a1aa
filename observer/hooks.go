package observer

import (
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// Hook is called for one lifecycle event.
type Hook func(ev core.Event)

// Hooks dispatches events to hooks registered per event type, in
// registration order.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[core.EventType][]Hook
}

// NewHooks creates an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{hooks: make(map[core.EventType][]Hook)}
}

// On registers fn for events of type t and returns h for chaining.
func (h *Hooks) On(t core.EventType, fn Hook) *Hooks {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks[t] = append(h.hooks[t], fn)

	return h
}

// OnStarted registers fn for agentStarted events.
func (h *Hooks) OnStarted(fn Hook) *Hooks { return h.On(core.EventAgentStarted, fn) }

// OnSucceeded registers fn for agentSucceed events.
func (h *Hooks) OnSucceeded(fn Hook) *Hooks { return h.On(core.EventAgentSucceed, fn) }

// OnFailed registers fn for agentFailed events.
func (h *Hooks) OnFailed(fn Hook) *Hooks { return h.On(core.EventAgentFailed, fn) }

// OnEvent implements core.Observer.
func (h *Hooks) OnEvent(ev core.Event) {
	h.mu.RLock()
	hooks := h.hooks[ev.Type]
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(ev)
	}
}
