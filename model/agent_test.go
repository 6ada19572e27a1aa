package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentweave/core"
)

type failingModel struct{ err error }

func (f failingModel) Info() Info { return Info{Name: "broken", Provider: "test"} }

func (f failingModel) Process(context.Context, Request) (core.Stream, error) { return nil, f.err }

func TestAgent_RecordsUsageAndMergesCompletion(t *testing.T) {
	mock := NewMockModel("mock-1", "mock")
	mock.AddResponse("hello there", "general kenobi")

	root := core.NewContext(context.Background())
	defer root.Close() //nolint:errcheck

	adapter := NewAgent(mock)
	assert.Equal(t, "model:mock-1", adapter.Name())

	out, err := root.Invoke(adapter, RequestMessage(Request{
		Instructions: "be brief",
		Messages:     []ChatMessage{{Role: RoleUser, Content: "hello there"}},
	}))
	require.NoError(t, err)

	completion, err := CompletionFrom(out)
	require.NoError(t, err)

	assert.Equal(t, "general kenobi", completion.Text)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Equal(t, "mock-1", completion.Model)

	usage := root.RootUsage()
	assert.Equal(t, int64(4), usage.InputTokens)
	assert.Equal(t, int64(2), usage.OutputTokens)
	assert.Equal(t, int64(1), usage.AgentInvokes)

	require.Len(t, mock.Calls(), 1)
	assert.Equal(t, "be brief", mock.Calls()[0].Instructions)
}

func TestAgent_StreamsTextDeltas(t *testing.T) {
	mock := NewMockModel("mock", "mock")
	mock.AddResponse("q", "abc")

	s, err := core.InvokeStream(context.Background(), NewAgent(mock), RequestMessage(Request{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	}))
	require.NoError(t, err)

	var deltas []string

	for c := range s {
		require.NoError(t, c.Err)

		if d, ok := c.Text[KeyText]; ok {
			deltas = append(deltas, d)
		}
	}

	assert.Equal(t, []string{"a", "b", "c"}, deltas)
}

func TestAgent_PlainInputBecomesUserTurn(t *testing.T) {
	mock := NewMockModel("mock", "mock")

	out, err := core.Invoke(context.Background(), NewAgent(mock), core.NewMessage("topic", "go"))
	require.NoError(t, err)

	assert.Equal(t, `Mock response to: {"topic":"go"}`, out.String(KeyText))
}

func TestAgent_WrapsUpstreamErrors(t *testing.T) {
	boom := errors.New("503 service unavailable")

	_, err := core.Invoke(context.Background(), NewAgent(failingModel{err: boom}), RequestMessage(Request{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	}))

	var ue *core.UpstreamModelError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "test", ue.Provider)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "UpstreamModelError", core.ErrorType(err))
}

func TestAgent_TokenLimitAppliesToModelCalls(t *testing.T) {
	mock := NewMockModel("mock", "mock")
	mock.AddResponse("q", "one two three four five")

	root := core.NewContext(context.Background(), core.WithLimits(core.Limits{MaxTokens: 5}))
	defer root.Close() //nolint:errcheck

	req := RequestMessage(Request{Messages: []ChatMessage{{Role: RoleUser, Content: "q"}}})

	_, err := root.Invoke(NewAgent(mock), req)
	require.NoError(t, err)

	_, err = root.Invoke(NewAgent(mock), req)
	assert.ErrorIs(t, err, core.ErrLimitExceeded)
}

func TestRateLimited_WaitHonorsContext(t *testing.T) {
	limited := NewRateLimited(NewMockModel("mock", "mock"), rate.Every(time.Hour), 1)
	req := Request{Messages: []ChatMessage{{Role: RoleUser, Content: "q"}}}

	s, err := limited.Process(context.Background(), req)
	require.NoError(t, err)

	_, err = core.ToObject(context.Background(), s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = limited.Process(ctx, req)
	assert.Error(t, err)
	assert.Equal(t, "mock", limited.Info().Name)
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Instructions: "sys",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Type: "function", Function: ToolCallFunction{Name: "search", Arguments: `{"q":"x"}`}}}},
			{Role: RoleTool, ToolCallID: "c1", Content: "result"},
		},
		Tools: []ToolDefinition{{Type: "function", Function: FunctionDefinition{Name: "search"}}},
	}

	decoded, err := RequestFrom(RequestMessage(req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}
