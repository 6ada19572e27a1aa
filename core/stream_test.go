package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamOf(chunks ...Chunk) Stream {
	out := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}

	close(out)

	return out
}

func TestMerge_TextConcatenatesAndJSONWins(t *testing.T) {
	acc := NewMessage()

	require.NoError(t, Merge(&acc, TextChunk("answer", "Hel")))
	require.NoError(t, Merge(&acc, TextChunk("answer", "lo")))
	assert.Equal(t, "Hello", acc.String("answer"))

	c := Chunk{Text: map[string]string{"answer": "!"}, JSON: NewMessage("answer", "replaced")}
	require.NoError(t, Merge(&acc, c))
	assert.Equal(t, "replaced", acc.String("answer"))
}

func TestMerge_TextOntoNonStringFails(t *testing.T) {
	acc := NewMessage("count", 3)

	err := Merge(&acc, TextChunk("count", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStream)

	var mte *MergeTypeError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, "count", mte.Field)
	assert.Equal(t, "int", mte.Have)
	assert.Equal(t, 3, acc.Value("count"))
}

func TestMerge_SplitAtAnyIndexMatchesSinglePass(t *testing.T) {
	seq := []Chunk{
		TextChunk("answer", "Hel"),
		{Text: map[string]string{"answer": "lo"}, JSON: NewMessage("meta", 1)},
		{JSON: NewMessage("answer", "Hi")},
		{Text: map[string]string{"answer": " there", "note": "a"}},
		{Text: map[string]string{"note": "b"}, JSON: NewMessage("meta", 2)},
	}

	want, err := ToObject(context.Background(), streamOf(seq...))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", want.String("answer"))
	assert.Equal(t, "ab", want.String("note"))

	for k := 0; k <= len(seq); k++ {
		acc := NewMessage()
		require.NoError(t, MergeInto(context.Background(), &acc, streamOf(seq[:k]...)))
		require.NoError(t, MergeInto(context.Background(), &acc, streamOf(seq[k:]...)))

		assert.Equal(t, want.ToMap(), acc.ToMap(), "split at %d", k)
	}
}

func TestToObject_RoundTripsToStream(t *testing.T) {
	m := NewMessage("b", 1, "a", []any{"x"}, "c", NewMessage("nested", true))

	out, err := ToObject(context.Background(), ToStream(m))
	require.NoError(t, err)

	assert.Equal(t, m.Keys(), out.Keys())
	assert.Equal(t, m.Value("a"), out.Value("a"))
}

func TestToObject_ErrorChunkSurfaces(t *testing.T) {
	boom := errors.New("boom")

	_, err := ToObject(context.Background(), streamOf(TextChunk("a", "x"), ErrorChunk(boom)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, err, boom)

	limit := &LimitExceededError{Kind: LimitTokens, Used: 5, Max: 4}

	_, err = ToObject(context.Background(), streamOf(ErrorChunk(limit)))
	assert.Same(t, limit, err)
}

func TestGenerate_ProducerErrorIsLastChunk(t *testing.T) {
	s := Generate(context.Background(), func(_ context.Context, yield YieldFunc) error {
		if err := yield(TextChunk("a", "1")); err != nil {
			return err
		}

		return errors.New("late failure")
	})

	var chunks []Chunk
	for c := range s {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 2)
	assert.Equal(t, "1", chunks[0].Text["a"])
	assert.EqualError(t, chunks[1].Err, "late failure")
}

func TestGenerate_RecoversPanics(t *testing.T) {
	s := Generate(context.Background(), func(context.Context, YieldFunc) error {
		panic("kaboom")
	})

	_, err := ToObject(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestMergeStreams_InterleavesAll(t *testing.T) {
	a := streamOf(JSONChunk("a", 1), TextChunk("text", "x"))
	b := streamOf(JSONChunk("b", 2))

	out, err := ToObject(context.Background(), MergeStreams(context.Background(), a, b))
	require.NoError(t, err)

	assert.Equal(t, 1, out.Value("a"))
	assert.Equal(t, 2, out.Value("b"))
	assert.Equal(t, "x", out.String("text"))
}

func TestMergeStreams_ErrorEndsStream(t *testing.T) {
	boom := errors.New("boom")

	slow := Generate(context.Background(), func(ctx context.Context, yield YieldFunc) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return yield(JSONChunk("late", true))
		}
	})

	_, err := ToObject(context.Background(), MergeStreams(context.Background(), streamOf(ErrorChunk(boom)), slow))
	assert.ErrorIs(t, err, boom)
}

func TestTap_CallsHooks(t *testing.T) {
	var (
		seen   int
		doneCh = make(chan error, 1)
	)

	s := Tap(context.Background(), streamOf(JSONChunk("a", 1), JSONChunk("b", 2)), func(Chunk) { seen++ }, func(err error) { doneCh <- err })

	out, err := ToObject(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, 2, seen)
	assert.NoError(t, <-doneCh)
}

func TestToObject_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := make(chan Chunk)
	defer close(blocked)

	_, err := ToObject(ctx, blocked)
	assert.ErrorIs(t, err, context.Canceled)
}
