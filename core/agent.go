package core

// Agent defines the contract every unit of work in agentweave satisfies.
//
// Agents are constructed once and reused across many invocations. They never
// call each other directly: nested work goes through the ExecutionContext
// (ctx.Invoke), which is what threads usage accounting, limits and lifecycle
// events through the call tree.
//
// Process is the only behavior a concrete agent supplies. The invocation
// pipeline in this package wraps it with schema validation, memory hooks,
// guard rails and event emission. Implementations must:
//   - Respect ctx.Context() cancellation
//   - Return exactly one of a message, a stream or a handoff target
//   - Keep Shutdown idempotent and safe on agents that never ran
type Agent interface {
	Name() string
	Description() string
	Process(ctx *ExecutionContext, input Message, opts ProcessOptions) (Response, error)
	Shutdown() error
}

// ProcessOptions carries per-call flags from the caller to Process.
type ProcessOptions struct {
	// Streaming asks the agent to produce a Stream when it can. Agents that
	// cannot stream may still return a Message; the pipeline normalizes.
	Streaming bool
}

// Response is what Process produces. Exactly one field is set.
type Response struct {
	Message Message
	Stream  Stream
	Handoff Agent
}

// MessageResponse wraps a fully known output.
func MessageResponse(m Message) Response { return Response{Message: m} }

// StreamResponse wraps a streamed output.
func StreamResponse(s Stream) Response { return Response{Stream: s} }

// HandoffResponse transfers control to another agent for the remainder of
// the session.
func HandoffResponse(a Agent) Response { return Response{Handoff: a} }

// SchemaProvider is implemented by agents declaring JSON schemas for their
// input and output. A nil schema disables validation for that side.
type SchemaProvider interface {
	InputSchema() map[string]any
	OutputSchema() map[string]any
}

// SkillProvider is implemented by agents composed of sub-agents.
type SkillProvider interface {
	Skills() []Agent
}

// OutputKeyProvider is implemented by agents whose result lands under a
// specific key of an enclosing composite's result.
type OutputKeyProvider interface {
	OutputKey() string
}

// GuideRailProvider is implemented by agents guarded by post-hoc validators.
type GuideRailProvider interface {
	GuideRails() []Agent
}

// MemoryProvider is implemented by agents that read and write memories
// around their own invocation.
type MemoryProvider interface {
	Memory() *MemoryConfig
}

// AgentInfo carries identifying details about an agent used in events.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InfoOf returns the AgentInfo describing a.
func InfoOf(a Agent) AgentInfo {
	if a == nil {
		return AgentInfo{}
	}

	return AgentInfo{Name: a.Name(), Description: a.Description()}
}

// OutputKeyOf returns the output key declared by a or "".
func OutputKeyOf(a Agent) string {
	if p, ok := a.(OutputKeyProvider); ok {
		return p.OutputKey()
	}

	return ""
}

// SkillsOf returns the skills declared by a or nil.
func SkillsOf(a Agent) []Agent {
	if p, ok := a.(SkillProvider); ok {
		return p.Skills()
	}

	return nil
}

// FindSkill performs a depth-first search over a's skills (not a itself)
// returning the first agent named name.
func FindSkill(a Agent, name string) Agent {
	for _, s := range SkillsOf(a) {
		if s.Name() == name {
			return s
		}

		if found := FindSkill(s, name); found != nil {
			return found
		}
	}

	return nil
}
