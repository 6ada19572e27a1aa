package model

import (
	"context"
	"errors"

	"github.com/hupe1980/agentweave/core"
)

// AgentOptions configure a model adapter agent.
type AgentOptions struct {
	Name        string
	Description string
}

// Agent exposes a ChatModel through the agent pipeline so model calls are
// counted against limits, emit lifecycle events and record token usage.
//
// Input is a request message (see RequestMessage); output merges to the
// completion fields (text, toolCalls, json, usage, model, finishReason).
type Agent struct {
	model       ChatModel
	name        string
	description string
}

// NewAgent wraps m in an adapter agent.
func NewAgent(m ChatModel, optFns ...func(o *AgentOptions)) *Agent {
	info := m.Info()

	opts := AgentOptions{
		Name:        "model:" + info.Name,
		Description: "Chat model " + info.Name + " (" + info.Provider + ")",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Agent{model: m, name: opts.Name, description: opts.Description}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Model returns the wrapped chat model.
func (a *Agent) Model() ChatModel { return a.model }

// Process calls the model and streams its completion. Usage chunks are
// recorded on ctx as they pass.
func (a *Agent) Process(ctx *core.ExecutionContext, input core.Message, _ core.ProcessOptions) (core.Response, error) {
	req, err := RequestFrom(input)
	if err != nil {
		return core.Response{}, &core.ValidationError{Agent: a.name, Stage: core.StageInput, Message: err.Error(), Cause: err}
	}

	info := a.model.Info()

	s, err := a.model.Process(ctx.Context(), req)
	if err != nil {
		return core.Response{}, upstream(info, err)
	}

	tapped := core.Tap(ctx.Context(), s, func(c core.Chunk) {
		if u, ok := UsageFrom(c.JSON); ok {
			ctx.AddUsage(core.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens})
		}
	}, nil)

	return core.StreamResponse(tapped), nil
}

// Shutdown implements core.Agent; the adapter holds no resources.
func (a *Agent) Shutdown() error { return nil }

// upstream wraps provider failures unless they already are taxonomy errors
// or cancellations.
func upstream(info Info, err error) error {
	if err == nil {
		return nil
	}

	if core.ErrorType(err) != "Error" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &core.UpstreamModelError{Provider: info.Provider, Model: info.Name, Err: err}
}

// UpstreamError wraps err as a core.UpstreamModelError for the model
// described by info. Providers use it for both returned and streamed errors.
func UpstreamError(info Info, err error) error { return upstream(info, err) }
