// Package openai provides a model.ChatModel backed by the OpenAI Chat
// Completions API (streaming + tool calling). It adapts agentweave's
// normalized Request into the SDK's message format and streams completions
// back as chunks.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// until the finish reason is seen.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey and BaseURL override the environment of the default client.
	APIKey  string
	BaseURL string
}

// Model wraps the OpenAI Chat Completions API behind model.ChatModel.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client configured
// from the environment (OPENAI_API_KEY) unless Options say otherwise.
func NewModel(optFns ...func(o *Options)) *Model {
	var probe Options
	for _, fn := range optFns {
		fn(&probe)
	}

	var clientOpts []option.RequestOption
	if probe.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(probe.APIKey))
	}

	if probe.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(probe.BaseURL))
	}

	client := openai.NewClient(clientOpts...)

	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// Process implements model.ChatModel. Text deltas are forwarded as they
// arrive; tool calls, usage and the finish reason follow once the provider
// closes the choice.
func (m *Model) Process(ctx context.Context, req model.Request) (core.Stream, error) {
	params := m.buildParams(req)

	return core.Generate(ctx, func(ctx context.Context, yield core.YieldFunc) error {
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close() //nolint:errcheck

		var (
			text    strings.Builder
			toolAgg = map[int64]*aggCall{}
			finish  string
			usage   model.Usage
		)

		for stream.Next() {
			ck := stream.Current()

			if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
				usage = model.Usage{InputTokens: ck.Usage.PromptTokens, OutputTokens: ck.Usage.CompletionTokens}
			}

			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					text.WriteString(ch.Delta.Content)

					if req.ResponseSchema == nil {
						if err := yield(core.TextChunk(model.KeyText, ch.Delta.Content)); err != nil {
							return err
						}
					}
				}

				aggregateToolCalls(ch, toolAgg)

				if ch.FinishReason != "" {
					finish = ch.FinishReason
				}
			}
		}

		if err := stream.Err(); err != nil {
			return model.UpstreamError(m.Info(), fmt.Errorf("openai streaming error: %w", err))
		}

		final := core.NewMessage()

		if req.ResponseSchema != nil {
			obj, err := parseJSONObject(text.String())
			if err != nil {
				return model.UpstreamError(m.Info(), err)
			}

			final.Set(model.KeyJSON, obj)
		}

		if calls := toolCalls(toolAgg); len(calls) > 0 {
			final.Set(model.KeyToolCalls, calls)
		}

		final.Set(model.KeyUsage, usage)
		final.Set(model.KeyModel, m.opts.Model)
		final.Set(model.KeyFinishReason, finish)

		return yield(core.Chunk{JSON: final})
	}), nil
}

func aggregateToolCalls(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{}
			agg[tc.Index] = ac
		}

		if tc.ID != "" {
			ac.id = tc.ID
		}

		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}

		ac.args += tc.Function.Arguments
	}
}

// toolCalls returns the aggregated calls ordered by their stream index.
func toolCalls(agg map[int64]*aggCall) []model.ToolCall {
	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}

	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	calls := make([]model.ToolCall, 0, len(idx))
	for _, i := range idx {
		ac := agg[i]
		calls = append(calls, model.ToolCall{
			ID:       ac.id,
			Type:     "function",
			Function: model.ToolCallFunction{Name: ac.name, Arguments: ac.args},
		})
	}

	return calls
}

func parseJSONObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}

	return obj, nil
}

// buildMessages converts normalized chat messages into OpenAI messages.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	if system := systemPrompt(req); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case model.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}

			asst := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toToolCallParams(msg.ToolCalls),
			}

			if msg.Content != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	return messages
}

func systemPrompt(req model.Request) string {
	if req.ResponseSchema == nil {
		return req.Instructions
	}

	schema, err := json.Marshal(req.ResponseSchema)
	if err != nil {
		return req.Instructions
	}

	return strings.TrimSpace(req.Instructions + "\n\nRespond only with a JSON object matching this schema:\n" + string(schema))
}

func toToolCallParams(calls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))

	for _, tc := range calls {
		out = append(out, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return out
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
		StreamOptions:       openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	}

	if req.ResponseSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}

	params.Tools = tools

	return params
}
