package memory

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
)

// Defaults of the retriever and recorder agents.
const (
	DefaultScopeKey = "sessionId"
	DefaultScope    = "global"
	DefaultLimit    = 10
)

// AgentOptions configure the retriever and recorder agents.
type AgentOptions struct {
	Name        string
	Description string
	// ScopeKey names the user context value holding the scope.
	ScopeKey string
	// Scope overrides how the scope is derived from the context.
	Scope func(ctx *core.ExecutionContext) string
	// Limit applies when the retriever input carries none.
	Limit int
}

func defaultOptions(name, description string, optFns []func(o *AgentOptions)) AgentOptions {
	opts := AgentOptions{Name: name, Description: description, ScopeKey: DefaultScopeKey, Limit: DefaultLimit}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Scope == nil {
		key := opts.ScopeKey
		opts.Scope = func(ctx *core.ExecutionContext) string {
			if v, ok := ctx.UserValue(key); ok {
				if s := fmt.Sprint(v); s != "" {
					return s
				}
			}

			return DefaultScope
		}
	}

	return opts
}

// NewRetrieverAgent exposes store.Search as a retriever:
// {search?, limit?} -> {memories}.
func NewRetrieverAgent(store Store, optFns ...func(o *AgentOptions)) *agent.FunctionAgent {
	opts := defaultOptions("memory_retriever", "Retrieves relevant memories", optFns)

	return agent.NewFunctionAgent(opts.Name, func(ctx *core.ExecutionContext, input core.Message) (core.Message, error) {
		limit := opts.Limit

		if v, ok := input.Get(core.MemoryKeyLimit); ok {
			if n, ok := asInt(v); ok && n > 0 {
				limit = n
			}
		}

		mems, err := store.Search(ctx.Context(), opts.Scope(ctx), input.String(core.MemoryKeySearch), limit)
		if err != nil {
			return core.Message{}, fmt.Errorf("search memories: %w", err)
		}

		return core.NewMessage(core.MemoryKeyMemories, mems), nil
	}, func(o *agent.FunctionAgentOptions) { o.Description = opts.Description })
}

// NewRecorderAgent exposes store.Add as a recorder:
// {content: [{input, output, source}]} -> {memories}.
func NewRecorderAgent(store Store, optFns ...func(o *AgentOptions)) *agent.FunctionAgent {
	opts := defaultOptions("memory_recorder", "Records exchanges as memories", optFns)

	return agent.NewFunctionAgent(opts.Name, func(ctx *core.ExecutionContext, input core.Message) (core.Message, error) {
		var payload struct {
			Content []core.RecordEntry `json:"content"`
		}

		if err := input.Decode(&payload); err != nil {
			return core.Message{}, &core.ValidationError{Agent: opts.Name, Stage: core.StageInput, Message: err.Error(), Cause: err}
		}

		now := time.Now().UTC()
		mems := make([]core.Memory, 0, len(payload.Content))

		for _, e := range payload.Content {
			mems = append(mems, core.Memory{
				ID:        core.NewID(),
				Content:   map[string]any{"input": e.Input, "output": e.Output},
				Source:    e.Source,
				CreatedAt: now,
			})
		}

		stored, err := store.Add(ctx.Context(), opts.Scope(ctx), mems)
		if err != nil {
			return core.Message{}, fmt.Errorf("add memories: %w", err)
		}

		return core.NewMessage(core.MemoryKeyMemories, stored), nil
	}, func(o *agent.FunctionAgentOptions) { o.Description = opts.Description })
}

// asInt accepts the numeric types a limit arrives as in-process or after
// JSON decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
