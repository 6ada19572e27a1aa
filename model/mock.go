package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// MockModel is a lightweight in-memory ChatModel useful for tests & examples.
// It answers the last user message with a canned response (or an echo) and
// streams it rune by rune.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	calls     []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Calls returns the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.calls...)
}

// Info implements ChatModel.
func (m *MockModel) Info() Info { return m.info }

// Process implements ChatModel.
func (m *MockModel) Process(ctx context.Context, req Request) (core.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, UpstreamError(m.info, fmt.Errorf("no messages provided"))
	}

	prompt := lastUserContent(req.Messages)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	full := m.responses[prompt]
	m.mu.Unlock()

	if full == "" {
		full = "Mock response to: " + prompt
	}

	usage := Usage{
		InputTokens:  int64(len(strings.Fields(req.Instructions + " " + prompt))),
		OutputTokens: int64(len(strings.Fields(full))),
	}

	return core.Generate(ctx, func(_ context.Context, yield core.YieldFunc) error {
		for _, r := range full {
			if err := yield(core.TextChunk(KeyText, string(r))); err != nil {
				return err
			}
		}

		return yield(core.Chunk{JSON: core.NewMessage(
			KeyUsage, usage,
			KeyModel, m.info.Name,
			KeyFinishReason, "stop",
		)})
	}), nil
}

func lastUserContent(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}

	return msgs[len(msgs)-1].Content
}
