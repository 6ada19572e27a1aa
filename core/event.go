package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition of one context node.
type EventType string

const (
	EventAgentStarted EventType = "agentStarted"
	EventAgentSucceed EventType = "agentSucceed"
	EventAgentFailed  EventType = "agentFailed"
)

// Event is emitted for every agent invocation: agentStarted first, then
// exactly one of agentSucceed or agentFailed for the same ContextID. After
// emission it should be treated as immutable.
//
// Input is set on agentStarted, Output on agentSucceed and Err on
// agentFailed. Usage is the node's aggregated usage at emission time.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	ContextID       string    `json:"contextId"`
	ParentContextID string    `json:"parentContextId,omitempty"`
	RootID          string    `json:"rootId"`
	Agent           AgentInfo `json:"agent"`
	Input           Message   `json:"input"`
	Output          Message   `json:"output"`
	Err             error     `json:"-"`
	Usage           Usage     `json:"usage"`
	Timestamp       time.Time `json:"timestamp"`
}

// newEvent stamps an event for the given node.
func newEvent(t EventType, node *ExecutionContext, agent Agent) Event {
	return Event{
		ID:              NewID(),
		Type:            t,
		ContextID:       node.id,
		ParentContextID: node.parentID,
		RootID:          node.root.id,
		Agent:           InfoOf(agent),
		Usage:           node.Usage(),
		Timestamp:       time.Now().UTC(),
	}
}

// IsTerminal reports whether the event ends its context's lifecycle.
func (e Event) IsTerminal() bool { return e.Type == EventAgentSucceed || e.Type == EventAgentFailed }

// Duration returns the time elapsed since started, convenient for observers
// that remember the agentStarted timestamp.
func (e Event) Duration(started time.Time) time.Duration { return e.Timestamp.Sub(started) }

// NewID generates a new unique identifier for contexts and events.
func NewID() string { return uuid.NewString() }

// Observer consumes lifecycle events. OnEvent is called from a single
// dispatcher goroutine per root context, in emission order.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
