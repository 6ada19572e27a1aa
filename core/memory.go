package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Memory is one remembered fact or exchange visible to descendants of the
// context that loaded it.
type Memory struct {
	ID        string         `json:"id"`
	Content   any            `json:"content"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MemoryConfig wires a retriever and/or recorder agent around an agent's
// own invocation. Either may be nil.
//
// The retriever receives {search, limit} and answers {memories: []Memory};
// the recorder receives {content: [{input, output, source}]} and answers
// {memories: []Memory}. Both are invoked through the normal pipeline, so they
// count against limits and emit lifecycle events like any other agent.
type MemoryConfig struct {
	Retriever Agent
	Recorder  Agent
	// Limit caps the number of retrieved memories (0 lets the retriever decide).
	Limit int
	// SearchKey names the input field used as the search query. When empty
	// the whole input is rendered as JSON.
	SearchKey string
}

// Message keys used by the memory contract.
const (
	MemoryKeySearch   = "search"
	MemoryKeyLimit    = "limit"
	MemoryKeyMemories = "memories"
	MemoryKeyContent  = "content"
)

// RecordEntry is one exchange handed to a recorder.
type RecordEntry struct {
	Input  Message `json:"input"`
	Output Message `json:"output"`
	Source string  `json:"source"`
}

// MemoriesFrom extracts the memories field of a retriever or recorder
// output. Values that already are []Memory are returned as is; anything else
// is converted through its JSON encoding.
func MemoriesFrom(m Message) ([]Memory, error) {
	raw, ok := m.Get(MemoryKeyMemories)
	if !ok || raw == nil {
		return nil, nil
	}

	if mems, ok := raw.([]Memory); ok {
		return mems, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode memories: %w", err)
	}

	var mems []Memory
	if err := json.Unmarshal(b, &mems); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}

	return mems, nil
}

// searchQuery derives the retriever query from an agent input.
func (mc *MemoryConfig) searchQuery(input Message) string {
	if mc.SearchKey != "" {
		if s := input.String(mc.SearchKey); s != "" {
			return s
		}

		if v, ok := input.Get(mc.SearchKey); ok {
			return fmt.Sprint(v)
		}
	}

	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}

	return string(b)
}

// retrieve invokes the retriever under node and returns what it found.
func (mc *MemoryConfig) retrieve(node *ExecutionContext, input Message) ([]Memory, error) {
	if mc == nil || mc.Retriever == nil {
		return nil, nil
	}

	query := NewMessage(MemoryKeySearch, mc.searchQuery(input))
	if mc.Limit > 0 {
		query.Set(MemoryKeyLimit, mc.Limit)
	}

	out, err := node.Invoke(mc.Retriever, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	return MemoriesFrom(out)
}

// record hands one exchange to the recorder.
func (mc *MemoryConfig) record(node *ExecutionContext, source string, input, output Message) error {
	if mc == nil || mc.Recorder == nil {
		return nil
	}

	entry := RecordEntry{Input: input, Output: output, Source: source}

	if _, err := node.Invoke(mc.Recorder, NewMessage(MemoryKeyContent, []RecordEntry{entry})); err != nil {
		return fmt.Errorf("record memories: %w", err)
	}

	return nil
}
