package playground

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeHistoryOrdersByStartTime(t *testing.T) {
	base := time.Now()
	tools := []Execution{
		{ID: "t1", Kind: KindTool, Target: "echo", Status: ExecutionSuccess, StartedAt: base.Add(2 * time.Second)},
		{ID: "t2", Kind: KindTool, Target: "add", Status: ExecutionError, StartedAt: base.Add(5 * time.Second)},
	}
	resources := []Execution{
		{ID: "r1", Kind: KindResource, Target: "file:///a", Status: ExecutionSuccess, StartedAt: base},
	}
	prompts := []Execution{
		{ID: "p1", Kind: KindPrompt, Target: "summarize", Status: ExecutionCancelled, StartedAt: base.Add(3 * time.Second)},
	}

	merged := mergeHistory(tools, resources, prompts)

	require.Len(t, merged, 4)
	assert.Equal(t, []string{"r1", "t1", "p1", "t2"}, []string{
		merged[0].ID, merged[1].ID, merged[2].ID, merged[3].ID,
	})
	assert.Equal(t, KindResource, merged[0].Kind)
}

func TestMergeHistoryEmpty(t *testing.T) {
	assert.Empty(t, mergeHistory(nil, nil))
}

func TestHistoryEntryDerivesDuration(t *testing.T) {
	start := time.Now()
	e := historyEntry(Execution{
		ID:          "x",
		Status:      ExecutionSuccess,
		StartedAt:   start,
		CompletedAt: start.Add(250 * time.Millisecond),
	})
	assert.Equal(t, 250*time.Millisecond, e.Duration)
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	store, err := NewHistoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	start := time.Now().Truncate(time.Millisecond)
	entries := []HistoryEntry{
		{
			ID: "a", Kind: KindTool, Target: "echo", Status: ExecutionSuccess,
			StartedAt: start, CompletedAt: start.Add(time.Second), Duration: time.Second,
		},
		{
			ID: "b", Kind: KindResource, Target: "file:///x", Status: ExecutionError,
			Err: "read denied", StartedAt: start.Add(time.Second),
		},
	}

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, entries))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, KindTool, loaded[0].Kind)
	assert.Equal(t, ExecutionSuccess, loaded[0].Status)
	assert.True(t, loaded[0].StartedAt.Equal(start))
	assert.Equal(t, time.Second, loaded[0].Duration)

	assert.Equal(t, "read denied", loaded[1].Err)
	assert.True(t, loaded[1].CompletedAt.IsZero(), "unfinished entries keep a zero completion time")
}

func TestHistoryStoreUpsertsByID(t *testing.T) {
	store, err := NewHistoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	start := time.Now()

	require.NoError(t, store.Save(ctx, []HistoryEntry{
		{ID: "a", Kind: KindTool, Target: "echo", Status: ExecutionRunning, StartedAt: start},
	}))
	require.NoError(t, store.Save(ctx, []HistoryEntry{
		{ID: "a", Kind: KindTool, Target: "echo", Status: ExecutionSuccess,
			StartedAt: start, CompletedAt: start.Add(time.Second), Duration: time.Second},
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, ExecutionSuccess, loaded[0].Status)
	assert.Equal(t, time.Second, loaded[0].Duration)
}

func TestHistoryStoreClear(t *testing.T) {
	store, err := NewHistoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []HistoryEntry{
		{ID: "a", Kind: KindTool, Target: "echo", Status: ExecutionSuccess, StartedAt: time.Now()},
	}))
	require.NoError(t, store.Clear(ctx))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
