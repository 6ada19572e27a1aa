package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// Defaults of a ModelAgent.
const (
	DefaultOutputKey     = "output"
	DefaultMaxToolRounds = 10
	DefaultToolTimeout   = 15 * time.Second
)

// KeyMessage is the input field used verbatim as the user turn of a
// ModelAgent. Inputs without it are sent as JSON.
const KeyMessage = "message"

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	BaseOptions
	Instruction Instruction
	// Skills are offered to the model as tools.
	Skills []core.Agent
	// MaxToolRounds bounds the model calls of one invocation.
	MaxToolRounds int
	// ToolTimeout bounds each skill call made on behalf of the model (0 disables).
	ToolTimeout time.Duration
}

// ModelAgent drives a chat model to answer its input.
//
// This agent implementation supports:
//   - Instructions rendered as templates over the input fields
//   - Memories loaded by the pipeline appended to the instructions
//   - Skills exposed as tools, executed in the order the model called them
//   - Handoffs produced by any skill it calls
//   - Structured output when an output schema is declared
//
// The result is {outputKey: text}, or the parsed JSON object when an output
// schema is declared. Model calls go through the ExecutionContext, so they
// count against limits and record token usage.
type ModelAgent struct {
	BaseAgent
	model         *model.Agent
	instruction   Instruction
	maxToolRounds int
	toolTimeout   time.Duration
}

// NewModelAgent creates a new model-based agent with sensible defaults.
func NewModelAgent(name string, m model.ChatModel, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:   NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MaxToolRounds: DefaultMaxToolRounds,
		ToolTimeout:   DefaultToolTimeout,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.OutputKey == "" {
		opts.OutputKey = DefaultOutputKey
	}

	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}

	a := &ModelAgent{
		model:         model.NewAgent(m),
		instruction:   opts.Instruction,
		maxToolRounds: opts.MaxToolRounds,
		toolTimeout:   opts.ToolTimeout,
	}
	a.init(name, opts.BaseOptions, opts.Skills)
	a.adopt(a.model)

	return a
}

// ChatModel returns the model behind the agent.
func (a *ModelAgent) ChatModel() model.ChatModel { return a.model.Model() }

// Process implements core.Agent.
func (a *ModelAgent) Process(ctx *core.ExecutionContext, input core.Message, opts core.ProcessOptions) (core.Response, error) {
	req, err := a.buildRequest(ctx, input)
	if err != nil {
		return core.Response{}, err
	}

	if opts.Streaming {
		return core.StreamResponse(core.Generate(ctx.Context(), func(_ context.Context, yield core.YieldFunc) error {
			return a.stream(ctx, input, req, yield)
		})), nil
	}

	for round := 0; round < a.maxToolRounds; round++ {
		out, err := ctx.Invoke(a.model, model.RequestMessage(req))
		if err != nil {
			return core.Response{}, err
		}

		comp, err := model.CompletionFrom(out)
		if err != nil {
			return core.Response{}, err
		}

		if len(comp.ToolCalls) == 0 {
			result, err := a.result(comp)
			if err != nil {
				return core.Response{}, err
			}

			return core.MessageResponse(result), nil
		}

		handoff, err := a.runTools(ctx, &req, comp)
		if err != nil {
			return core.Response{}, err
		}

		if handoff != nil {
			return core.HandoffResponse(handoff), nil
		}
	}

	return core.Response{}, &core.MaxIterationsExceededError{Agent: a.name, MaxIterations: a.maxToolRounds}
}

// stream mirrors Process but forwards text deltas under the output key while
// the model produces them. A handoff cannot be returned once streaming
// started, so the target's stream is forwarded inline instead.
func (a *ModelAgent) stream(ctx *core.ExecutionContext, input core.Message, req model.Request, yield core.YieldFunc) error {
	structured := a.outSchema != nil
	forwarded := false

	for round := 0; round < a.maxToolRounds; round++ {
		s, err := ctx.InvokeStream(a.model, model.RequestMessage(req))
		if err != nil {
			return err
		}

		acc := core.NewMessage()

		for c := range s {
			if err := core.Merge(&acc, c); err != nil {
				go drainStream(s)
				return err
			}

			if delta := c.Text[model.KeyText]; delta != "" && !structured {
				forwarded = true

				if err := yield(core.TextChunk(a.outputKey, delta)); err != nil {
					go drainStream(s)
					return err
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		comp, err := model.CompletionFrom(acc)
		if err != nil {
			return err
		}

		if len(comp.ToolCalls) == 0 {
			result, err := a.result(comp)
			if err != nil {
				return err
			}

			// Settles the field even when earlier rounds streamed text too.
			return yield(core.Chunk{JSON: result})
		}

		handoff, err := a.runTools(ctx, &req, comp)
		if err != nil {
			return err
		}

		if handoff != nil {
			return a.forwardHandoff(ctx, handoff, input, forwarded, yield)
		}
	}

	return &core.MaxIterationsExceededError{Agent: a.name, MaxIterations: a.maxToolRounds}
}

func (a *ModelAgent) forwardHandoff(ctx *core.ExecutionContext, target core.Agent, input core.Message, forwarded bool, yield core.YieldFunc) error {
	ctx.LogDebug("forwarding handoff stream", "agent", a.name, "to", target.Name())

	s, err := ctx.InvokeStream(target, input)
	if err != nil {
		return err
	}

	if forwarded {
		if err := yield(core.JSONChunk(a.outputKey, "")); err != nil {
			go drainStream(s)
			return err
		}
	}

	for c := range s {
		if c.Err != nil {
			return c.Err
		}

		if err := yield(c); err != nil {
			go drainStream(s)
			return err
		}
	}

	return ctx.Err()
}

// buildRequest assembles the first model request of an invocation.
func (a *ModelAgent) buildRequest(ctx *core.ExecutionContext, input core.Message) (model.Request, error) {
	instructions, err := a.instruction.Resolve(ctx, input)
	if err != nil {
		return model.Request{}, fmt.Errorf("resolve instruction: %w", err)
	}

	if mems := formatMemories(ctx.Memories()); mems != "" {
		instructions = strings.TrimSpace(instructions + "\n\n" + mems)
	}

	user := input.String(KeyMessage)
	if user == "" {
		raw, err := json.Marshal(input)
		if err != nil {
			return model.Request{}, fmt.Errorf("encode input: %w", err)
		}

		user = string(raw)
	}

	return model.Request{
		Instructions:   instructions,
		Messages:       []model.ChatMessage{{Role: model.RoleUser, Content: user}},
		Tools:          toolDefinitions(a.skills),
		ResponseSchema: a.outSchema,
	}, nil
}

// runTools executes the tool calls of comp in order and appends the
// exchange to req. A skill answering with a handoff ends the round.
func (a *ModelAgent) runTools(ctx *core.ExecutionContext, req *model.Request, comp *model.Completion) (core.Agent, error) {
	req.Messages = append(req.Messages, model.ChatMessage{Role: model.RoleAssistant, Content: comp.Text, ToolCalls: comp.ToolCalls})

	for _, call := range comp.ToolCalls {
		skill := a.skill(call.Function.Name)
		if skill == nil {
			return nil, &core.AgentNotFoundError{Name: call.Function.Name}
		}

		args, err := toolArguments(call.Function.Arguments)
		if err != nil {
			return nil, &core.ValidationError{Agent: skill.Name(), Stage: core.StageInput, Message: err.Error(), Cause: err}
		}

		start := time.Now()

		res, err := a.invokeTool(ctx, skill, args)

		ctx.LogInfo("agent.tool.executed", "agent", a.name, "tool", skill.Name(), "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", skill.Name(), err)
		}

		if res.Handoff != nil {
			return res.Handoff, nil
		}

		content, err := json.Marshal(res.Message)
		if err != nil {
			return nil, fmt.Errorf("encode tool result: %w", err)
		}

		req.Messages = append(req.Messages, model.ChatMessage{Role: model.RoleTool, Content: string(content), ToolCallID: call.ID})
	}

	return nil, nil
}

func (a *ModelAgent) invokeTool(ctx *core.ExecutionContext, skill core.Agent, args core.Message) (*core.Result, error) {
	if a.toolTimeout <= 0 {
		return ctx.InvokeResult(skill, args)
	}

	tctx, cancel := context.WithTimeout(ctx.Context(), a.toolTimeout)
	defer cancel()

	return ctx.WithContext(tctx).InvokeResult(skill, args)
}

func (a *ModelAgent) skill(name string) core.Agent {
	for _, s := range a.skills {
		if s.Name() == name {
			return s
		}
	}

	return nil
}

// result shapes the final completion as the agent output.
func (a *ModelAgent) result(comp *model.Completion) (core.Message, error) {
	if a.outSchema == nil {
		return core.NewMessage(a.outputKey, comp.Text), nil
	}

	if comp.JSON != nil {
		return core.MessageFromMap(comp.JSON), nil
	}

	var out core.Message
	if err := json.Unmarshal([]byte(extractJSON(comp.Text)), &out); err != nil {
		return core.Message{}, &core.ValidationError{
			Agent:   a.name,
			Stage:   core.StageOutput,
			Message: "model did not return a JSON object",
			Cause:   err,
		}
	}

	return out, nil
}

// extractJSON strips a markdown code fence around a JSON document.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	return strings.TrimSpace(text)
}

func toolArguments(raw string) (core.Message, error) {
	if raw = strings.TrimSpace(raw); raw == "" || raw == "null" {
		return core.NewMessage(), nil
	}

	var args core.Message
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return core.Message{}, fmt.Errorf("invalid tool arguments: %w", err)
	}

	return args, nil
}

// toolDefinitions exposes skills to the model. Skills without an input
// schema accept any object.
func toolDefinitions(skills []core.Agent) []model.ToolDefinition {
	if len(skills) == 0 {
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(skills))

	for _, s := range skills {
		params := map[string]any{"type": "object", "additionalProperties": true}

		if sp, ok := s.(core.SchemaProvider); ok && sp.InputSchema() != nil {
			params = sp.InputSchema()
		}

		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        s.Name(),
				Description: s.Description(),
				Parameters:  params,
			},
		})
	}

	return defs
}

func formatMemories(mems []core.Memory) string {
	if len(mems) == 0 {
		return ""
	}

	var sb strings.Builder

	sb.WriteString("Relevant memories:")

	for _, m := range mems {
		content, ok := m.Content.(string)
		if !ok {
			raw, err := json.Marshal(m.Content)
			if err != nil {
				continue
			}

			content = string(raw)
		}

		sb.WriteString("\n- ")
		sb.WriteString(content)
	}

	return sb.String()
}
