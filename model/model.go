// Package model defines the chat model contract used by model-backed agents
// together with the adapter agent that exposes any ChatModel through the
// agent pipeline. Provider backends live in subpackages (openai, anthropic).
package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentweave/core"
)

// Roles of chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Keys of the chunks a ChatModel streams. Text deltas arrive under KeyText;
// the remaining keys are json deltas.
const (
	KeyText         = "text"
	KeyToolCalls    = "toolCalls"
	KeyJSON         = "json"
	KeyUsage        = "usage"
	KeyModel        = "model"
	KeyFinishReason = "finishReason"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON encoded arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatMessage is one turn of the conversation sent to a model.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions,omitempty"`
	Messages     []ChatMessage    `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	// ResponseSchema asks for a JSON object matching the schema instead of
	// free text, delivered under KeyJSON when the provider supports it.
	ResponseSchema map[string]any `json:"responseSchema,omitempty"`
}

// Usage is the token usage a provider reported for one call.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// ChatModel is the minimal interface model-backed agents drive.
//
// Process streams the completion: text deltas under KeyText and json deltas
// under KeyToolCalls (complete calls), KeyJSON, KeyUsage, KeyModel and
// KeyFinishReason. Failures are reported either as the returned error or as
// a terminal error chunk, wrapped in a core.UpstreamModelError.
type ChatModel interface {
	Info() Info
	Process(ctx context.Context, req Request) (core.Stream, error)
}

// Completion is a fully merged model response.
type Completion struct {
	Text         string         `json:"text,omitempty"`
	ToolCalls    []ToolCall     `json:"toolCalls,omitempty"`
	JSON         map[string]any `json:"json,omitempty"`
	Usage        Usage          `json:"usage"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

// CompletionFrom decodes a merged model output.
func CompletionFrom(m core.Message) (*Completion, error) {
	var c Completion
	if err := m.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	return &c, nil
}

// Message renders the completion as the adapter agent output.
func (c *Completion) Message() core.Message {
	m := core.NewMessage()

	if c.Text != "" {
		m.Set(KeyText, c.Text)
	}

	if len(c.ToolCalls) > 0 {
		m.Set(KeyToolCalls, c.ToolCalls)
	}

	if c.JSON != nil {
		m.Set(KeyJSON, c.JSON)
	}

	m.Set(KeyUsage, c.Usage)

	if c.Model != "" {
		m.Set(KeyModel, c.Model)
	}

	if c.FinishReason != "" {
		m.Set(KeyFinishReason, c.FinishReason)
	}

	return m
}

// Keys of the adapter agent input.
const (
	KeyInstructions   = "instructions"
	KeyMessages       = "messages"
	KeyTools          = "tools"
	KeyResponseSchema = "responseSchema"
)

// RequestMessage encodes req as the input of a model adapter agent.
func RequestMessage(req Request) core.Message {
	m := core.NewMessage(KeyMessages, req.Messages)

	if req.Instructions != "" {
		m.Set(KeyInstructions, req.Instructions)
	}

	if len(req.Tools) > 0 {
		m.Set(KeyTools, req.Tools)
	}

	if req.ResponseSchema != nil {
		m.Set(KeyResponseSchema, req.ResponseSchema)
	}

	return m
}

// RequestFrom decodes an adapter agent input. Inputs without a messages
// field are treated as a single user turn holding the whole input as JSON.
func RequestFrom(m core.Message) (Request, error) {
	if !m.Has(KeyMessages) {
		raw, err := json.Marshal(m)
		if err != nil {
			return Request{}, fmt.Errorf("encode input: %w", err)
		}

		return Request{Messages: []ChatMessage{{Role: RoleUser, Content: string(raw)}}}, nil
	}

	var req Request
	if err := m.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode model request: %w", err)
	}

	return req, nil
}

// UsageFrom extracts a usage delta from a chunk's json part.
func UsageFrom(m core.Message) (Usage, bool) {
	v, ok := m.Get(KeyUsage)
	if !ok || v == nil {
		return Usage{}, false
	}

	if u, ok := v.(Usage); ok {
		return u, true
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Usage{}, false
	}

	var u Usage
	if err := json.Unmarshal(raw, &u); err != nil {
		return Usage{}, false
	}

	return u, true
}
