package agent

import (
	"fmt"

	"github.com/hupe1980/agentweave/core"
)

// TransferAgent hands control to a fixed target. A ModelAgent that lists it
// as a skill exposes it as the tool "transfer_to_<target>"; calling the tool
// ends the model's turn and the target takes over the conversation.
type TransferAgent struct {
	BaseAgent
	target core.Agent
}

// TransferAgentOptions configure NewTransferAgent.
type TransferAgentOptions struct {
	BaseOptions
	// Name defaults to "transfer_to_<target>".
	Name string
}

// NewTransferAgent constructs a transfer helper for target.
func NewTransferAgent(target core.Agent, optFns ...func(o *TransferAgentOptions)) *TransferAgent {
	opts := TransferAgentOptions{Name: "transfer_to_" + target.Name()}
	opts.Description = fmt.Sprintf("Transfer the conversation to %s. %s", target.Name(), target.Description())

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &TransferAgent{target: target}
	// The target is not a skill: it is reached by handoff only and shut down by
	// whoever owns it.
	a.init(opts.Name, opts.BaseOptions, nil)

	return a
}

// Target returns the agent control is transferred to.
func (a *TransferAgent) Target() core.Agent { return a.target }

// Process implements core.Agent.
func (a *TransferAgent) Process(_ *core.ExecutionContext, _ core.Message, _ core.ProcessOptions) (core.Response, error) {
	return core.HandoffResponse(a.target), nil
}

// TransferByNameAgent hands control to one of several candidates selected
// by the "agent" field of its input.
type TransferByNameAgent struct {
	BaseAgent
	targets []core.Agent
}

// NewTransferByNameAgent constructs the transfer_to_agent helper.
func NewTransferByNameAgent(targets []core.Agent, optFns ...func(o *FunctionAgentOptions)) *TransferByNameAgent {
	opts := FunctionAgentOptions{}
	opts.Description = "Request transfer of control to another agent by name. Use when another agent is better suited."
	opts.InputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{
				"type":        "string",
				"description": "Target agent name",
				"enum":        names(targets),
			},
		},
		"required": []any{"agent"},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &TransferByNameAgent{targets: append([]core.Agent(nil), targets...)}
	a.init("transfer_to_agent", opts.BaseOptions, nil)

	return a
}

// Process implements core.Agent.
func (a *TransferByNameAgent) Process(_ *core.ExecutionContext, input core.Message, _ core.ProcessOptions) (core.Response, error) {
	name := input.String("agent")

	for _, t := range a.targets {
		if t.Name() == name {
			return core.HandoffResponse(t), nil
		}
	}

	return core.Response{}, &core.AgentNotFoundError{Name: name}
}

func names(agents []core.Agent) []any {
	out := make([]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Name())
	}

	return out
}
