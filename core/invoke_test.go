package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_EmitsLifecycleEventsWithHierarchy(t *testing.T) {
	rec := &recorder{}
	child := constant("child", NewMessage("from", "child"))

	parent := &stubAgent{name: "parent", process: func(ctx *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		out, err := ctx.Invoke(child, input)
		if err != nil {
			return Response{}, err
		}

		return MessageResponse(out.Merged(NewMessage("from", "parent"))), nil
	}}

	out, err := Invoke(context.Background(), parent, NewMessage("q", "hi"), WithObservers(rec))
	require.NoError(t, err)
	assert.Equal(t, "parent", out.String("from"))

	events := rec.all()
	require.Len(t, events, 4)

	assert.Equal(t, EventAgentStarted, events[0].Type)
	assert.Equal(t, "parent", events[0].Agent.Name)
	assert.Equal(t, "hi", events[0].Input.String("q"))

	assert.Equal(t, EventAgentStarted, events[1].Type)
	assert.Equal(t, "child", events[1].Agent.Name)
	assert.Equal(t, events[0].ContextID, events[1].ParentContextID)

	assert.Equal(t, EventAgentSucceed, events[2].Type)
	assert.Equal(t, events[1].ContextID, events[2].ContextID)

	assert.Equal(t, EventAgentSucceed, events[3].Type)
	assert.Equal(t, events[0].ContextID, events[3].ContextID)
	assert.Equal(t, int64(2), events[3].Usage.AgentInvokes)

	for _, e := range events {
		assert.Equal(t, events[0].RootID, e.RootID)
	}
}

func TestInvoke_FailureEmitsAgentFailed(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	failing := &stubAgent{name: "failing", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return Response{}, boom
	}}

	_, err := Invoke(context.Background(), failing, NewMessage(), WithObservers(rec))
	require.ErrorIs(t, err, boom)

	failed := rec.ofType(EventAgentFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, boom)
	assert.Empty(t, rec.ofType(EventAgentSucceed))
}

func TestInvoke_UsageRollsUpToRoot(t *testing.T) {
	model := &stubAgent{name: "model", process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
		ctx.AddUsage(Usage{InputTokens: 10, OutputTokens: 5})
		return MessageResponse(NewMessage("ok", true)), nil
	}}

	parent := &stubAgent{name: "parent", process: func(ctx *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		for i := 0; i < 3; i++ {
			if _, err := ctx.Invoke(model, input); err != nil {
				return Response{}, err
			}
		}

		return MessageResponse(NewMessage()), nil
	}}

	root := NewContext(context.Background())
	defer root.Close() //nolint:errcheck

	_, err := root.Invoke(parent, NewMessage())
	require.NoError(t, err)

	usage := root.RootUsage()
	assert.Equal(t, int64(30), usage.InputTokens)
	assert.Equal(t, int64(15), usage.OutputTokens)
	assert.Equal(t, int64(4), usage.AgentInvokes)
	assert.Equal(t, usage, root.Usage())
}

func TestInvoke_MaxAgentInvokes(t *testing.T) {
	rec := &recorder{}
	leaf := echo("leaf")

	parent := &stubAgent{name: "parent", process: func(ctx *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		for i := 0; i < 5; i++ {
			if _, err := ctx.Invoke(leaf, input); err != nil {
				return Response{}, err
			}
		}

		return MessageResponse(input), nil
	}}

	_, err := Invoke(context.Background(), parent, NewMessage(), WithLimits(Limits{MaxAgentInvokes: 3}), WithObservers(rec))

	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LimitAgentInvokes, le.Kind)
	assert.Equal(t, int64(3), le.Used)
	assert.Equal(t, "Exceeded max agent invokes 3/3", le.Error())

	// parent + two leaves ran; the third leaf was refused.
	assert.Len(t, rec.ofType(EventAgentSucceed), 2)
}

func TestInvoke_MaxAgentInvokesConcurrent(t *testing.T) {
	leaf := echo("leaf")
	root := NewContext(context.Background(), WithLimits(Limits{MaxAgentInvokes: 5}))
	defer root.Close() //nolint:errcheck

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := root.Invoke(leaf, NewMessage()); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Equal(t, int64(5), root.RootUsage().AgentInvokes)
}

func TestInvoke_TokenLimitIsSoftThenHard(t *testing.T) {
	calls := 0
	model := &stubAgent{name: "model", process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
		calls++
		ctx.AddUsage(Usage{InputTokens: 60, OutputTokens: 0})

		return MessageResponse(NewMessage()), nil
	}}

	root := NewContext(context.Background(), WithLimits(Limits{MaxTokens: 100}))
	defer root.Close() //nolint:errcheck

	_, err := root.Invoke(model, NewMessage())
	require.NoError(t, err)

	// Crosses the budget but still succeeds.
	_, err = root.Invoke(model, NewMessage())
	require.NoError(t, err)

	_, err = root.Invoke(model, NewMessage())

	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LimitTokens, le.Kind)
	assert.Equal(t, int64(120), le.Used)
	assert.Equal(t, 2, calls)
}

func TestInvoke_TimeoutSurfacesAsTimeoutError(t *testing.T) {
	rec := &recorder{}
	slow := &stubAgent{name: "slow", process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}}

	start := time.Now()
	_, err := Invoke(context.Background(), slow, NewMessage(), WithLimits(Limits{Timeout: 50 * time.Millisecond}), WithObservers(rec))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	failed := rec.ofType(EventAgentFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrTimeout)
}

func TestInvoke_AfterRootTimeoutFailsImmediately(t *testing.T) {
	rec := &recorder{}
	root := NewContext(context.Background(), WithLimits(Limits{Timeout: 20 * time.Millisecond}), WithObservers(rec))

	select {
	case <-root.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("root deadline did not expire")
	}

	var mu sync.Mutex
	calls := 0
	fast := &stubAgent{name: "fast", process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		return MessageResponse(input), nil
	}}

	_, err := root.Invoke(fast, NewMessage("q", 1))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "fast", te.Agent)

	require.NoError(t, root.Close())

	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventAgentStarted, events[0].Type)
	assert.Equal(t, EventAgentFailed, events[1].Type)
	assert.Equal(t, events[0].ContextID, events[1].ContextID)
	assert.ErrorIs(t, events[1].Err, ErrTimeout)
}

func TestInvoke_TimeoutInterruptsUncooperativeAgent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := &stubAgent{name: "stuck", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		<-release
		return MessageResponse(NewMessage()), nil
	}}

	_, err := Invoke(context.Background(), stuck, NewMessage(), WithLimits(Limits{Timeout: 20 * time.Millisecond}))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInvoke_StreamingNormalizesMessages(t *testing.T) {
	agent := constant("plain", NewMessage("a", 1, "b", "two"))

	s, err := InvokeStream(context.Background(), agent, NewMessage())
	require.NoError(t, err)

	out, err := ToObject(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Keys())
}

func TestInvoke_NonStreamingCollectsStreams(t *testing.T) {
	rec := &recorder{}
	streamer := &stubAgent{name: "streamer", process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
		return StreamResponse(Generate(ctx.Context(), func(_ context.Context, yield YieldFunc) error {
			for _, part := range []string{"a", "b", "c"} {
				if err := yield(TextChunk("text", part)); err != nil {
					return err
				}
			}

			return nil
		})), nil
	}}

	out, err := Invoke(context.Background(), streamer, NewMessage(), WithObservers(rec))
	require.NoError(t, err)
	assert.Equal(t, "abc", out.String("text"))

	succeeded := rec.ofType(EventAgentSucceed)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "abc", succeeded[0].Output.String("text"))
}

func TestInvokeStream_SucceedEventAfterDrain(t *testing.T) {
	rec := &recorder{}
	streamer := &stubAgent{name: "streamer", process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
		return StreamResponse(streamOf(TextChunk("text", "x"), TextChunk("text", "y"))), nil
	}}

	root := NewContext(context.Background(), WithObservers(rec))

	s, err := root.InvokeStream(streamer, NewMessage())
	require.NoError(t, err)

	out, err := ToObject(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "xy", out.String("text"))

	require.NoError(t, root.Close())

	succeeded := rec.ofType(EventAgentSucceed)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "xy", succeeded[0].Output.String("text"))
}

func TestInvokeStream_ErrorChunkFailsNode(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	streamer := &stubAgent{name: "streamer", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return StreamResponse(streamOf(TextChunk("text", "x"), ErrorChunk(boom))), nil
	}}

	s, err := InvokeStream(context.Background(), streamer, NewMessage(), WithObservers(rec))
	require.NoError(t, err)

	_, err = ToObject(context.Background(), s)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrStream)
}

func TestInvoke_SchemaValidation(t *testing.T) {
	agent := schemaAgent{&stubAgent{
		name: "typed",
		inSchema: map[string]any{
			"type":     "object",
			"required": []any{"question"},
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
			},
		},
		outSchema: map[string]any{
			"type":     "object",
			"required": []any{"answer"},
		},
		process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
			if input.String("question") == "bad" {
				return MessageResponse(NewMessage("wrong", true)), nil
			}

			return MessageResponse(NewMessage("answer", "42")), nil
		},
	}}

	out, err := Invoke(context.Background(), agent, NewMessage("question", "why"))
	require.NoError(t, err)
	assert.Equal(t, "42", out.String("answer"))

	_, err = Invoke(context.Background(), agent, NewMessage("question", 7))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, StageInput, ve.Stage)
	assert.Contains(t, ve.Paths, "/question")

	_, err = Invoke(context.Background(), agent, NewMessage("question", "bad"))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, StageOutput, ve.Stage)
}

func TestInvoke_GuideRailAbortReplacesOutput(t *testing.T) {
	var railCalls []string

	pass := &stubAgent{name: "pass", process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		railCalls = append(railCalls, "pass")
		return MessageResponse(PassVerdict()), nil
	}}

	block := &stubAgent{name: "block", process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		railCalls = append(railCalls, "block")

		out, _ := input.Value(GuideRailKeyOutput).(Message)
		if out.String("text") == "secret" {
			return MessageResponse(AbortVerdict("leak")), nil
		}

		return MessageResponse(PassVerdict()), nil
	}}

	never := &stubAgent{name: "never", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		railCalls = append(railCalls, "never")
		return MessageResponse(PassVerdict()), nil
	}}

	guarded := railAgent{&stubAgent{
		name:  "guarded",
		rails: []Agent{pass, block, never},
		process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
			return MessageResponse(NewMessage("text", input.String("text"))), nil
		},
	}}

	out, err := Invoke(context.Background(), guarded, NewMessage("text", "secret"))
	require.NoError(t, err)
	assert.True(t, IsAborted(out))
	assert.Equal(t, "leak", out.String(GuideRailKeyReason))
	assert.Equal(t, []string{"pass", "block"}, railCalls)

	railCalls = nil

	out, err = Invoke(context.Background(), guarded, NewMessage("text", "fine"))
	require.NoError(t, err)
	assert.Equal(t, "fine", out.String("text"))
	assert.Equal(t, []string{"pass", "block", "never"}, railCalls)
}

func TestInvokeStream_GuideRailsBufferOutput(t *testing.T) {
	block := constant("block", AbortVerdict("nope"))

	guarded := railAgent{&stubAgent{
		name:  "guarded",
		rails: []Agent{block},
		process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
			return StreamResponse(streamOf(TextChunk("text", "partial"))), nil
		},
	}}

	s, err := InvokeStream(context.Background(), guarded, NewMessage())
	require.NoError(t, err)

	var chunks []Chunk
	for c := range s {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Text)
	assert.True(t, IsAborted(chunks[0].JSON))
}

func TestInvoke_MemoryHooks(t *testing.T) {
	var recorded []RecordEntry

	retriever := &stubAgent{name: "retriever", process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		return MessageResponse(NewMessage(MemoryKeyMemories, []Memory{{ID: "m1", Content: "likes tea " + input.String(MemoryKeySearch)}})), nil
	}}

	recorder := &stubAgent{name: "recorder", process: func(_ *ExecutionContext, input Message, _ ProcessOptions) (Response, error) {
		entries, _ := input.Value(MemoryKeyContent).([]RecordEntry)
		recorded = append(recorded, entries...)

		return MessageResponse(NewMessage(MemoryKeyMemories, []Memory{})), nil
	}}

	agent := memoryAgent{&stubAgent{
		name:   "assistant",
		memory: &MemoryConfig{Retriever: retriever, Recorder: recorder, SearchKey: "q"},
		process: func(ctx *ExecutionContext, _ Message, _ ProcessOptions) (Response, error) {
			mems := ctx.Memories()
			if len(mems) != 1 {
				return Response{}, errors.New("memories not visible")
			}

			return MessageResponse(NewMessage("recall", mems[0].Content)), nil
		},
	}}

	root := NewContext(context.Background())
	defer root.Close() //nolint:errcheck

	out, err := root.Invoke(agent, NewMessage("q", "drinks"))
	require.NoError(t, err)
	assert.Equal(t, "likes tea drinks", out.Value("recall"))

	require.Len(t, recorded, 1)
	assert.Equal(t, "assistant", recorded[0].Source)
	assert.Equal(t, "likes tea drinks", recorded[0].Output.Value("recall"))

	// assistant, retriever and recorder each count as one invocation.
	assert.Equal(t, int64(3), root.RootUsage().AgentInvokes)
	assert.Empty(t, root.Memories())
}

func TestInvoke_FollowsHandoffs(t *testing.T) {
	rec := &recorder{}
	target := constant("billing", NewMessage("handled", "billing"))
	triage := &stubAgent{name: "triage", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return HandoffResponse(target), nil
	}}

	root := NewContext(context.Background(), WithObservers(rec))

	res, err := root.Follow(triage, NewMessage("q", "refund"))
	require.NoError(t, err)
	assert.Equal(t, "billing", res.Agent.Name())
	assert.Equal(t, "billing", res.Message.String("handled"))

	require.NoError(t, root.Close())

	succeeded := rec.ofType(EventAgentSucceed)
	require.Len(t, succeeded, 2)
	assert.Equal(t, "billing", succeeded[0].Output.String(KeyTransferTo))

	single, err := NewContext(context.Background()).InvokeResult(triage, NewMessage())
	require.NoError(t, err)
	assert.Equal(t, target, single.Handoff)
}

func TestInvoke_HandoffLoopIsBounded(t *testing.T) {
	var ping, pong *stubAgent

	ping = &stubAgent{name: "ping", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return HandoffResponse(pong), nil
	}}
	pong = &stubAgent{name: "pong", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		return HandoffResponse(ping), nil
	}}

	_, err := Invoke(context.Background(), ping, NewMessage())

	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LimitHandoffs, le.Kind)
}

func TestInvoke_PanicBecomesError(t *testing.T) {
	bad := &stubAgent{name: "bad", process: func(*ExecutionContext, Message, ProcessOptions) (Response, error) {
		panic("nil map")
	}}

	_, err := Invoke(context.Background(), bad, NewMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
}
