package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// BaseOptions holds the settings every agent kind shares. Concrete option
// structs embed it so callers set e.g. o.OutputKey directly.
type BaseOptions struct {
	Description  string             // Detailed description of the agent's purpose
	OutputKey    string             // Key under which composites store this agent's result
	InputSchema  map[string]any     // JSON schema validated before Process
	OutputSchema map[string]any     // JSON schema validated after Process
	GuideRails   []core.Agent       // Validators run on the final output
	Memory       *core.MemoryConfig // Retriever/recorder wiring
}

// BaseAgent bundles identity, the optional agent capabilities and an
// idempotent Shutdown. Embed it in concrete agent implementations and supply
// a Process method to satisfy core.Agent. All exported methods are
// goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	outputKey   string
	inSchema    map[string]any
	outSchema   map[string]any
	guideRails  []core.Agent
	memory      *core.MemoryConfig
	skills      []core.Agent
	helpers     []core.Agent // owned agents that are not skills

	shutdownOnce sync.Once
	shutdownErr  error
}

// init populates the embedded base of a freshly allocated agent.
func (b *BaseAgent) init(name string, opts BaseOptions, skills []core.Agent) {
	b.name = name
	b.description = opts.Description

	if b.description == "" {
		b.description = fmt.Sprintf("Agent %s", name)
	}

	b.outputKey = opts.OutputKey
	b.inSchema = opts.InputSchema
	b.outSchema = opts.OutputSchema
	b.guideRails = append([]core.Agent(nil), opts.GuideRails...)
	b.memory = opts.Memory
	b.skills = append([]core.Agent(nil), skills...)
}

// adopt makes Shutdown release agents that are not skills, like a router's
// triage or an orchestrator's planner.
func (b *BaseAgent) adopt(agents ...core.Agent) {
	for _, a := range agents {
		if a != nil {
			b.helpers = append(b.helpers, a)
		}
	}
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// OutputKey returns the key composites store this agent's result under.
func (b *BaseAgent) OutputKey() string { return b.outputKey }

// InputSchema returns the declared input schema or nil.
func (b *BaseAgent) InputSchema() map[string]any { return b.inSchema }

// OutputSchema returns the declared output schema or nil.
func (b *BaseAgent) OutputSchema() map[string]any { return b.outSchema }

// GuideRails returns the guard rail agents.
func (b *BaseAgent) GuideRails() []core.Agent { return b.guideRails }

// Memory returns the memory wiring or nil.
func (b *BaseAgent) Memory() *core.MemoryConfig { return b.memory }

// Skills returns a shallow copy of the agents this agent may call.
func (b *BaseAgent) Skills() []core.Agent {
	out := make([]core.Agent, len(b.skills))
	copy(out, b.skills)

	return out
}

// FindAgent performs a depth-first search over this agent's skills
// returning the first agent whose Name matches, or nil.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	for _, s := range b.skills {
		if s.Name() == name {
			return s
		}

		if found := core.FindSkill(s, name); found != nil {
			return found
		}
	}

	return nil
}

// Shutdown releases the agent's skills, guard rails and memory agents. Only
// the first call has an effect; later calls return the first result.
func (b *BaseAgent) Shutdown() error {
	b.shutdownOnce.Do(func() {
		var errs []error

		for _, a := range b.owned() {
			if err := a.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", a.Name(), err))
			}
		}

		b.shutdownErr = errors.Join(errs...)
	})

	return b.shutdownErr
}

func (b *BaseAgent) owned() []core.Agent {
	out := append([]core.Agent(nil), b.skills...)
	out = append(out, b.helpers...)
	out = append(out, b.guideRails...)

	if b.memory != nil {
		if b.memory.Retriever != nil {
			out = append(out, b.memory.Retriever)
		}

		if b.memory.Recorder != nil {
			out = append(out, b.memory.Recorder)
		}
	}

	return out
}

// catalog lists name and description of each agent, the shape routers and
// planners receive.
func catalog(agents []core.Agent) []map[string]any {
	out := make([]map[string]any, 0, len(agents))

	for _, a := range agents {
		out = append(out, map[string]any{"name": a.Name(), "description": a.Description()})
	}

	return out
}

// storeResult merges out into acc under key. An output that already is
// {key: value} is unwrapped so results do not nest twice; an empty key
// merges the output's fields directly.
func storeResult(acc *core.Message, key string, out core.Message) {
	if key == "" {
		acc.Merge(out)
		return
	}

	if out.Len() == 1 && out.Has(key) {
		acc.Set(key, out.Value(key))
		return
	}

	acc.Set(key, out)
}
