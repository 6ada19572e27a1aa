package session

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/hupe1980/agentweave/core"
)

// ErrNotFound is returned by stores for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Turn is one completed exchange of a conversation.
type Turn struct {
	Agent     string       `json:"agent"`
	Input     core.Message `json:"input"`
	Output    core.Message `json:"output"`
	Usage     core.Usage   `json:"usage"`
	Timestamp time.Time    `json:"timestamp"`
}

// State is the persisted state of one conversation.
type State struct {
	ID string `json:"id"`
	// ActiveAgent names the agent answering the next turn ("" = entry agent).
	ActiveAgent string `json:"activeAgent,omitempty"`
	// UserContext is merged into the user context of every turn.
	UserContext map[string]any `json:"userContext,omitempty"`
	History     []Turn         `json:"history,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with s.
func (s *State) Clone() *State {
	c := *s
	c.UserContext = maps.Clone(s.UserContext)
	c.History = append([]Turn(nil), s.History...)

	return &c
}

// Store persists session state.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, id string) error
}
