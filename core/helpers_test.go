package core

import (
	"sync"
)

// stubAgent is a configurable agent for pipeline tests.
type stubAgent struct {
	name       string
	process    func(ctx *ExecutionContext, input Message, opts ProcessOptions) (Response, error)
	inSchema   map[string]any
	outSchema  map[string]any
	rails      []Agent
	memory     *MemoryConfig
	shutdowns  int
	shutdownMu sync.Mutex
}

func (a *stubAgent) Name() string        { return a.name }
func (a *stubAgent) Description() string { return "stub " + a.name }

func (a *stubAgent) Process(ctx *ExecutionContext, input Message, opts ProcessOptions) (Response, error) {
	if a.process == nil {
		return MessageResponse(input), nil
	}

	return a.process(ctx, input, opts)
}

func (a *stubAgent) Shutdown() error {
	a.shutdownMu.Lock()
	defer a.shutdownMu.Unlock()

	a.shutdowns++

	return nil
}

// schemaAgent, railAgent and memoryAgent expose the optional capabilities
// only when configured.
type schemaAgent struct{ *stubAgent }

func (a schemaAgent) InputSchema() map[string]any  { return a.inSchema }
func (a schemaAgent) OutputSchema() map[string]any { return a.outSchema }

type railAgent struct{ *stubAgent }

func (a railAgent) GuideRails() []Agent { return a.rails }

type memoryAgent struct{ *stubAgent }

func (a memoryAgent) Memory() *MemoryConfig { return a.memory }

func echo(name string) *stubAgent { return &stubAgent{name: name} }

func constant(name string, out Message) *stubAgent {
	return &stubAgent{name: name, process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return MessageResponse(out.Clone()), nil
	}}
}

// recorder collects events in dispatch order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event

	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}

	return out
}
