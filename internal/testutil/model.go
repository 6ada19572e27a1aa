package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// CompletionBuilder provides a fluent helper for scripting model replies.
// Example:
//
//	c := NewCompletion().ToolCall("call-1", "search", map[string]any{"q": "go"}).Build()
//
// Chain only the parts you need.
type CompletionBuilder struct {
	c model.Completion
}

// NewCompletion creates a builder with finish reason "stop".
func NewCompletion() *CompletionBuilder {
	return &CompletionBuilder{c: model.Completion{FinishReason: "stop"}}
}

// Text sets the reply text (chainable).
func (b *CompletionBuilder) Text(s string) *CompletionBuilder { b.c.Text = s; return b }

// JSON sets the structured reply (chainable).
func (b *CompletionBuilder) JSON(v map[string]any) *CompletionBuilder { b.c.JSON = v; return b }

// Usage sets the reported token usage (chainable).
func (b *CompletionBuilder) Usage(in, out int64) *CompletionBuilder {
	b.c.Usage = model.Usage{InputTokens: in, OutputTokens: out}
	return b
}

// ToolCall appends a tool call with JSON encoded arguments (chainable).
func (b *CompletionBuilder) ToolCall(id, name string, args map[string]any) *CompletionBuilder {
	if args == nil {
		args = map[string]any{}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}

	b.c.ToolCalls = append(b.c.ToolCalls, model.ToolCall{
		ID:       id,
		Type:     "function",
		Function: model.ToolCallFunction{Name: name, Arguments: string(raw)},
	})
	b.c.FinishReason = "tool_calls"

	return b
}

// Build returns the completion.
func (b *CompletionBuilder) Build() model.Completion { return b.c }

// ScriptedModel is a ChatModel replaying scripted completions in order.
// Once the script is exhausted the last completion repeats. Text is streamed
// one word-sized delta at a time; the remaining fields arrive in a final
// json chunk like real backends deliver them.
type ScriptedModel struct {
	info model.Info

	mu       sync.Mutex
	script   []model.Completion
	err      error
	requests []model.Request
}

// NewScriptedModel creates a model replaying script.
func NewScriptedModel(name string, script ...model.Completion) *ScriptedModel {
	return &ScriptedModel{
		info:   model.Info{Name: name, Provider: "scripted", SupportsTools: true},
		script: script,
	}
}

// FailWith makes every call fail with err.
func (m *ScriptedModel) FailWith(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err

	return m
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]model.Request(nil), m.requests...)
}

// Info implements model.ChatModel.
func (m *ScriptedModel) Info() model.Info { return m.info }

// Process implements model.ChatModel.
func (m *ScriptedModel) Process(ctx context.Context, req model.Request) (core.Stream, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, model.UpstreamError(m.info, err)
	}

	if len(m.script) == 0 {
		return nil, model.UpstreamError(m.info, fmt.Errorf("empty script"))
	}

	c := m.script[min(n, len(m.script)-1)]

	return core.Generate(ctx, func(_ context.Context, yield core.YieldFunc) error {
		for _, delta := range splitWords(c.Text) {
			if err := yield(core.TextChunk(model.KeyText, delta)); err != nil {
				return err
			}
		}

		final := core.NewMessage(model.KeyUsage, c.Usage, model.KeyModel, m.info.Name, model.KeyFinishReason, c.FinishReason)
		if len(c.ToolCalls) > 0 {
			final.Set(model.KeyToolCalls, c.ToolCalls)
		}

		if c.JSON != nil {
			final.Set(model.KeyJSON, c.JSON)
		}

		return yield(core.Chunk{JSON: final})
	}), nil
}

// splitWords cuts s after every space so the pieces concatenate back to s.
func splitWords(s string) []string {
	var out []string

	start := 0

	for i, r := range s {
		if r == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}

	if start < len(s) {
		out = append(out, s[start:])
	}

	return out
}
