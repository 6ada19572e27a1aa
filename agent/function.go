package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/internal/util"
)

// FunctionFunc computes a complete output from an input.
type FunctionFunc func(ctx *core.ExecutionContext, input core.Message) (core.Message, error)

// StreamFunc produces an output incrementally through yield.
type StreamFunc func(ctx *core.ExecutionContext, input core.Message, yield core.YieldFunc) error

// FunctionAgentOptions configure a FunctionAgent.
type FunctionAgentOptions struct {
	BaseOptions
}

// FunctionAgent exposes a plain Go function as an agent.
//
// A FunctionAgent has no internal mutable state after construction and is
// safe for concurrent use by multiple goroutines.
type FunctionAgent struct {
	BaseAgent
	fn     FunctionFunc
	stream StreamFunc
}

// NewFunctionAgent wraps fn.
func NewFunctionAgent(name string, fn FunctionFunc, optFns ...func(o *FunctionAgentOptions)) *FunctionAgent {
	opts := FunctionAgentOptions{}

	for _, f := range optFns {
		f(&opts)
	}

	a := &FunctionAgent{fn: fn}
	a.init(name, opts.BaseOptions, nil)

	return a
}

// NewStreamFunctionAgent wraps a producer. Non-streaming callers receive the
// merged result.
func NewStreamFunctionAgent(name string, fn StreamFunc, optFns ...func(o *FunctionAgentOptions)) *FunctionAgent {
	opts := FunctionAgentOptions{}

	for _, f := range optFns {
		f(&opts)
	}

	a := &FunctionAgent{stream: fn}
	a.init(name, opts.BaseOptions, nil)

	return a
}

// Process implements core.Agent.
func (a *FunctionAgent) Process(ctx *core.ExecutionContext, input core.Message, _ core.ProcessOptions) (core.Response, error) {
	if a.stream != nil {
		return core.StreamResponse(core.Generate(ctx.Context(), func(_ context.Context, yield core.YieldFunc) error {
			return a.stream(ctx, input, yield)
		})), nil
	}

	out, err := a.fn(ctx, input)
	if err != nil {
		return core.Response{}, err
	}

	return core.MessageResponse(out), nil
}

// NewTypedFunctionAgent wraps a function over Go types. The input schema is
// derived from In's struct tags; input and output are converted through
// their JSON encodings.
func NewTypedFunctionAgent[In, Out any](name string, fn func(ctx *core.ExecutionContext, in In) (Out, error), optFns ...func(o *FunctionAgentOptions)) *FunctionAgent {
	var zero In

	schemaFn := func(o *FunctionAgentOptions) {
		if o.InputSchema == nil {
			o.InputSchema = util.CreateSchema(zero)
		}
	}

	return NewFunctionAgent(name, func(ctx *core.ExecutionContext, input core.Message) (core.Message, error) {
		var in In
		if err := input.Decode(&in); err != nil {
			return core.Message{}, &core.ValidationError{Agent: name, Stage: core.StageInput, Message: err.Error(), Cause: err}
		}

		out, err := fn(ctx, in)
		if err != nil {
			return core.Message{}, err
		}

		return toMessage(out)
	}, append(optFns, schemaFn)...)
}

// toMessage converts a Go value into a message through its JSON encoding.
func toMessage(v any) (core.Message, error) {
	if m, ok := v.(core.Message); ok {
		return m, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return core.Message{}, fmt.Errorf("encode output: %w", err)
	}

	var m core.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Message{}, fmt.Errorf("output is not a JSON object: %w", err)
	}

	return m, nil
}
