package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_RootIdentity(t *testing.T) {
	root := NewContext(context.Background())
	defer root.Close() //nolint:errcheck

	assert.True(t, root.IsRoot())
	assert.Equal(t, root.ID(), root.RootID())
	assert.Empty(t, root.ParentID())

	child := root.NewChildContext(false)
	assert.False(t, child.IsRoot())
	assert.Equal(t, root.ID(), child.ParentID())
	assert.Equal(t, root.RootID(), child.RootID())
	assert.NotEqual(t, root.ID(), child.ID())
}

func TestExecutionContext_ResetStartsFreshAccounting(t *testing.T) {
	root := NewContext(context.Background(), WithLimits(Limits{MaxAgentInvokes: 1}))
	defer root.Close() //nolint:errcheck

	_, err := root.Invoke(echo("a"), NewMessage())
	require.NoError(t, err)

	_, err = root.Invoke(echo("b"), NewMessage())
	require.ErrorIs(t, err, ErrLimitExceeded)

	fresh := root.NewChildContext(true)
	assert.NotEqual(t, root.RootID(), fresh.RootID())
	assert.Equal(t, root.ID(), fresh.ParentID())

	_, err = fresh.Invoke(echo("c"), NewMessage())
	require.NoError(t, err)

	assert.Equal(t, int64(1), fresh.RootUsage().AgentInvokes)
	assert.Equal(t, int64(1), root.RootUsage().AgentInvokes)
}

func TestExecutionContext_UserContextIsCopyOnWrite(t *testing.T) {
	root := NewContext(context.Background(), WithInitialUserContext(map[string]any{"tenant": "acme"}))
	defer root.Close() //nolint:errcheck

	view := root.WithUserContext(map[string]any{"user": "u1"})

	assert.Equal(t, root.ID(), view.ID())
	assert.Len(t, root.UserContext(), 1)
	assert.Len(t, view.UserContext(), 2)

	var seen map[string]any

	probe := &stubAgent{name: "probe", process: func(ctx *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		seen = ctx.UserContext()
		return MessageResponse(input), nil
	}}

	_, err := view.Invoke(probe, NewMessage(), func(o *InvokeOptions) {
		o.UserContext = map[string]any{"request": "r1"}
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"tenant": "acme", "user": "u1", "request": "r1"}, seen)

	v, ok := view.UserValue("user")
	assert.True(t, ok)
	assert.Equal(t, "u1", v)
}

func TestExecutionContext_ViewsShareUsage(t *testing.T) {
	root := NewContext(context.Background())
	defer root.Close() //nolint:errcheck

	view := root.WithMemories(Memory{ID: "m"})
	view.AddUsage(Usage{InputTokens: 3})

	assert.Equal(t, int64(3), root.Usage().InputTokens)
	assert.Len(t, view.Memories(), 1)
	assert.Empty(t, root.Memories())
}

func TestExecutionContext_CloseIsIdempotentAndDropsLateEvents(t *testing.T) {
	rec := &recorder{}
	root := NewContext(context.Background(), WithObservers(rec))

	_, err := root.Invoke(echo("a"), NewMessage())
	require.NoError(t, err)

	require.NoError(t, root.Close())
	require.NoError(t, root.Close())

	assert.Len(t, rec.all(), 2)

	_, err = root.Invoke(echo("b"), NewMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.all(), 2)
}

func TestExecutionContext_ObserverPanicIsContained(t *testing.T) {
	rec := &recorder{}
	root := NewContext(context.Background(), WithObservers(ObserverFunc(func(Event) { panic("observer bug") }), rec))

	_, err := root.Invoke(echo("a"), NewMessage())
	require.NoError(t, err)
	require.NoError(t, root.Close())

	assert.Len(t, rec.all(), 2)
}

func TestExecutionContext_Subscribe(t *testing.T) {
	rec := &recorder{}
	root := NewContext(context.Background())
	root.Subscribe(rec)

	_, err := root.Invoke(echo("a"), NewMessage())
	require.NoError(t, err)
	require.NoError(t, root.Close())

	require.Len(t, rec.all(), 2)
	assert.True(t, rec.all()[1].IsTerminal())
}

// captureLogger keeps the key/value pairs of every entry.
type captureLogger struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (l *captureLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := map[string]any{"msg": msg}
	for i := 0; i+1 < len(args); i += 2 {
		entry[args[i].(string)] = args[i+1]
	}

	l.entries = append(l.entries, entry)
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.record(msg, args) }

func (l *captureLogger) rootIDs(msg string) []any {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []any

	for _, e := range l.entries {
		if e["msg"] == msg {
			out = append(out, e["root_id"])
		}
	}

	return out
}

func TestExecutionContext_DiagnosticsCarryRootID(t *testing.T) {
	logger := &captureLogger{}

	root := NewContext(context.Background(), WithLogger(logger))
	defer root.Close() //nolint:errcheck

	_, err := root.Invoke(echo("first"), NewMessage())
	require.NoError(t, err)

	reset := root.NewChildContext(true)
	_, err = reset.Invoke(echo("second"), NewMessage())
	require.NoError(t, err)

	assert.Equal(t, []any{root.RootID(), reset.RootID()}, logger.rootIDs("agent started"))
	assert.NotEqual(t, root.RootID(), reset.RootID())
}
