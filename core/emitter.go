package core

import (
	"fmt"
	"sync"
)

// defaultEventBuffer bounds the per-root event channel.
const defaultEventBuffer = 256

// emitter delivers the lifecycle events of one root context to its
// observers. Writers only enqueue; a single dispatcher goroutine fans events
// out, so observers see a total order consistent with each writer's order.
type emitter struct {
	mu        sync.RWMutex // guards closed and the send side of events
	closed    bool
	events    chan Event
	done      chan struct{}
	obsMu     sync.Mutex
	observers []Observer
	logger    *loggerAdapter
}

func newEmitter(buffer int, logger *loggerAdapter, observers []Observer) *emitter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	e := &emitter{
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
		observers: append([]Observer(nil), observers...),
		logger:    logger,
	}

	go e.dispatch()

	return e
}

// subscribe adds an observer for subsequently dispatched events.
func (e *emitter) subscribe(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()

	e.observers = append(e.observers, o)
}

// emit enqueues ev, blocking while the buffer is full. Events emitted after
// close are dropped.
func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.logger.LogWarn("event dropped after root context closed", "type", ev.Type, "context_id", ev.ContextID, "agent", ev.Agent.Name)
		return
	}

	e.events <- ev
}

// close stops accepting events and waits until every queued event has been
// dispatched. It is idempotent.
func (e *emitter) close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	<-e.done
}

func (e *emitter) dispatch() {
	defer close(e.done)

	for ev := range e.events {
		e.obsMu.Lock()
		observers := append([]Observer(nil), e.observers...)
		e.obsMu.Unlock()

		for _, o := range observers {
			e.notify(o, ev)
		}
	}
}

func (e *emitter) notify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.LogError("observer panicked", "type", ev.Type, "context_id", ev.ContextID, "panic", fmt.Sprint(r))
		}
	}()

	o.OnEvent(ev)
}
