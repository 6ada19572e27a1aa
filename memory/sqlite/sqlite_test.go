package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_AddSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	stored, err := s.Add(ctx, "s1", []core.Memory{
		{Content: "user prefers green tea", Source: "chat", CreatedAt: base},
		{Content: "user lives in Berlin", CreatedAt: base.Add(time.Minute), Metadata: map[string]any{"kind": "fact"}},
		{Content: map[string]any{"drink": "tea", "city": "Berlin"}, CreatedAt: base.Add(2 * time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, stored, 3)

	all, err := s.Search(ctx, "s1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, stored[2].ID, all[0].ID)
	assert.Equal(t, map[string]any{"drink": "tea", "city": "Berlin"}, all[0].Content)
	assert.Equal(t, "fact", all[1].Metadata["kind"])
	assert.Equal(t, "chat", all[2].Source)
	assert.True(t, all[2].CreatedAt.Equal(base))

	tea, err := s.Search(ctx, "s1", "TEA in berlin", 10)
	require.NoError(t, err)
	require.Len(t, tea, 3)
	assert.Equal(t, stored[2].ID, tea[0].ID)

	limited, err := s.Search(ctx, "s1", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other, err := s.Search(ctx, "s2", "", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.Delete(ctx, "s1", stored[0].ID))
	assert.ErrorIs(t, s.Delete(ctx, "s1", stored[0].ID), memory.ErrNotFound)
}

func TestStore_BacksRetrieverAndRecorder(t *testing.T) {
	s := newTestStore(t)

	rec, err := core.Invoke(context.Background(), memory.NewRecorderAgent(s), core.NewMessage(core.MemoryKeyContent, []core.RecordEntry{{
		Input:  core.NewMessage("question", "favourite colour?"),
		Output: core.NewMessage("answer", "blue"),
		Source: "assistant",
	}}))
	require.NoError(t, err)

	recorded, err := core.MemoriesFrom(rec)
	require.NoError(t, err)
	require.Len(t, recorded, 1)

	out, err := core.Invoke(context.Background(), memory.NewRetrieverAgent(s), core.NewMessage(core.MemoryKeySearch, "colour"))
	require.NoError(t, err)

	mems, err := core.MemoriesFrom(out)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, recorded[0].ID, mems[0].ID)
	assert.Contains(t, memory.Text(mems[0]), "blue")
}
