package playground

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	conn   *ConnectionManager
	bus    *EventBus
	cache  *Cache
	tools  *ToolManager
	res    *ResourceManager
	pr     *PromptManager
	ft     *fakeTransport
	rec    *eventRecorder
	dedupe *Deduplicator
}

func newHarness(t *testing.T, ft *fakeTransport, cfg Config) *testHarness {
	t.Helper()

	bus := NewEventBus(nil)
	cache := NewCache()
	dedupe := NewDeduplicator()
	conn := NewConnectionManager(cfg, bus, WithTransportFactory(ft.factory()))
	t.Cleanup(func() { conn.Close() })

	tools, err := NewToolManager(conn, bus, cache, dedupe, cfg, nil)
	require.NoError(t, err)

	return &testHarness{
		conn:   conn,
		bus:    bus,
		cache:  cache,
		tools:  tools,
		res:    NewResourceManager(conn, bus, cache, dedupe, cfg, nil),
		pr:     NewPromptManager(conn, bus, cache, dedupe, cfg, nil),
		ft:     ft,
		rec:    recordEvents(bus),
		dedupe: dedupe,
	}
}

func connectedHarness(t *testing.T, ft *fakeTransport) *testHarness {
	t.Helper()
	h := newHarness(t, ft, testConfig())
	require.NoError(t, h.conn.Connect(context.Background(), wsConfig()))
	return h
}

func toolDescriptors(names ...string) []CapabilityDescriptor {
	out := make([]CapabilityDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, CapabilityDescriptor{Kind: KindTool, Name: n})
	}
	return out
}

func TestLoadServesCachedList(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("echo", "add"), nil
		},
	}
	h := connectedHarness(t, ft)

	first, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ft.mu.Lock()
	assert.Equal(t, 1, ft.lists)
	ft.mu.Unlock()
	assert.Equal(t, 1, h.rec.count(EventToolsLoaded))
}

func TestRefreshBypassesCache(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("echo"), nil
		},
	}
	h := connectedHarness(t, ft)

	_, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	_, err = h.tools.Refresh(context.Background())
	require.NoError(t, err)

	ft.mu.Lock()
	assert.Equal(t, 2, ft.lists)
	ft.mu.Unlock()
}

func TestConcurrentLoadsCollapseToOneCall(t *testing.T) {
	const callers = 5

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			once.Do(func() { close(entered) })
			<-release
			return toolDescriptors("echo"), nil
		},
	}
	h := connectedHarness(t, ft)

	var wg sync.WaitGroup
	results := make([][]CapabilityDescriptor, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = h.tools.Load(context.Background())
	}()
	<-entered

	// The leader is inside the transport call; everybody arriving now must
	// ride along instead of issuing another one.
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.tools.Load(context.Background())
		}(i)
	}
	assert.Eventually(t, func() bool {
		return h.dedupe.InFlight(h.tools.cacheKey())
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	ft.mu.Lock()
	assert.Equal(t, 1, ft.lists)
	ft.mu.Unlock()
	assert.Equal(t, 1, h.rec.count(EventToolsLoaded))
}

func TestLoadFailureRetainsPriorList(t *testing.T) {
	var fail bool
	ft := &fakeTransport{}
	ft.listFn = func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
		if fail {
			return nil, connectionError("list lost", nil)
		}
		return toolDescriptors("echo"), nil
	}
	h := connectedHarness(t, ft)

	_, err := h.tools.Load(context.Background())
	require.NoError(t, err)

	fail = true
	_, err = h.tools.Refresh(context.Background())
	require.Error(t, err)

	list := h.tools.List()
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].Name)
	assert.Equal(t, 1, h.rec.count(EventToolsLoadFailed))
}

func TestLoadWithoutSessionFails(t *testing.T) {
	ft := &fakeTransport{}
	h := newHarness(t, ft, testConfig())

	_, err := h.tools.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, h.rec.count(EventToolsLoadFailed))
}

func TestStaleReflectsCacheAge(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("echo"), nil
		},
	}
	h := connectedHarness(t, ft)

	assert.True(t, h.tools.Stale())

	_, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, h.tools.Stale())

	// Age the cache past the TTL; the list should survive as a stale value
	// while Load goes back to the network.
	h.cache.now = func() time.Time {
		return time.Now().Add(2 * testConfig().CacheTTL)
	}
	assert.True(t, h.tools.Stale())

	stale, ok := h.cache.GetStale(h.tools.cacheKey())
	require.True(t, ok)
	assert.Len(t, stale.([]CapabilityDescriptor), 1)

	_, err = h.tools.Load(context.Background())
	require.NoError(t, err)
	ft.mu.Lock()
	assert.Equal(t, 2, ft.lists)
	ft.mu.Unlock()
}

func TestInvokeRecordsSuccessfulExecution(t *testing.T) {
	ft := &fakeTransport{
		invokeFn: func(_ context.Context, kind CapabilityKind, sessionID, name string,
			params json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			return json.RawMessage(`{"content":"hi"}`), nil
		},
	}
	h := connectedHarness(t, ft)

	exec, err := h.tools.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, ExecutionSuccess, exec.Status)
	assert.Equal(t, KindTool, exec.Kind)
	assert.Equal(t, "echo", exec.Target)
	assert.JSONEq(t, `{"content":"hi"}`, string(exec.Result))
	assert.Empty(t, exec.Err)
	assert.False(t, exec.CompletedAt.IsZero())
	assert.NotEmpty(t, exec.ID)

	assert.Equal(t, 1, h.rec.count(EventExecutionStarted))
	assert.Equal(t, 1, h.rec.count(EventExecutionFinished))
	assert.Zero(t, h.tools.RunningCount())
}

func TestInvokeCapturesRemoteFailure(t *testing.T) {
	ft := &fakeTransport{
		invokeFn: func(context.Context, CapabilityKind, string, string,
			json.RawMessage, CallOptions,
		) (json.RawMessage, error) {
			return nil, remoteError("tools/call", &JSONRPCError{Code: -32000, Message: "boom"})
		},
	}
	h := connectedHarness(t, ft)

	exec, err := h.tools.Execute(context.Background(), "echo", nil)
	require.NoError(t, err, "remote failure must land in the record, not the error return")

	assert.Equal(t, ExecutionError, exec.Status)
	assert.Contains(t, exec.Err, "boom")

	execs := h.tools.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionError, execs[0].Status)
}

func TestCancelRunningExecution(t *testing.T) {
	ft := &fakeTransport{
		invokeFn: func(ctx context.Context, _ CapabilityKind, _, _ string,
			_ json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, cancelledError("invoke aborted", ctx.Err())
		},
	}
	h := connectedHarness(t, ft)

	done := make(chan Execution, 1)
	go func() {
		exec, err := h.tools.Execute(context.Background(), "slow", nil)
		assert.NoError(t, err)
		done <- exec
	}()

	require.Eventually(t, func() bool {
		return h.tools.RunningCount() == 1
	}, time.Second, time.Millisecond)

	execs := h.tools.Executions()
	require.Len(t, execs, 1)
	id := execs[0].ID

	assert.True(t, h.tools.CancelExecution(id))
	exec := <-done
	assert.Equal(t, ExecutionCancelled, exec.Status)
	assert.Zero(t, h.tools.RunningCount())

	// Cancelling again, or cancelling an unknown id, changes nothing.
	assert.False(t, h.tools.CancelExecution(id))
	assert.False(t, h.tools.CancelExecution("no-such-id"))
	assert.Equal(t, 1, h.rec.count(EventExecutionCancelled))
}

func TestExecutionHistoryIsBounded(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxExecutions = 3
	h := newHarness(t, ft, cfg)
	require.NoError(t, h.conn.Connect(context.Background(), wsConfig()))

	for range 5 {
		_, err := h.tools.Execute(context.Background(), "echo", nil)
		require.NoError(t, err)
	}

	assert.Len(t, h.tools.Executions(), 3)
}

func TestResourceReadByURI(t *testing.T) {
	var gotName string
	ft := &fakeTransport{
		invokeFn: func(_ context.Context, kind CapabilityKind, _, name string,
			_ json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			gotName = name
			return json.RawMessage(`{"contents":[{"text":"data"}]}`), nil
		},
	}
	h := connectedHarness(t, ft)

	exec, err := h.res.Read(context.Background(), "file:///tmp/notes.txt")
	require.NoError(t, err)

	assert.Equal(t, "file:///tmp/notes.txt", gotName)
	assert.Equal(t, KindResource, exec.Kind)
	assert.Equal(t, ExecutionSuccess, exec.Status)
}

func TestPromptRequiredArguments(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(_ context.Context, kind CapabilityKind, _ string) ([]CapabilityDescriptor, error) {
			return []CapabilityDescriptor{{
				Kind: KindPrompt,
				Name: "summarize",
				Arguments: []PromptArgument{
					{Name: "text", Required: true},
					{Name: "style"},
				},
			}}, nil
		},
	}
	h := connectedHarness(t, ft)

	_, err := h.pr.Load(context.Background())
	require.NoError(t, err)

	_, err = h.pr.Get(context.Background(), "summarize", map[string]string{"style": "short"})
	require.Error(t, err)
	assert.Equal(t, ErrKindConfiguration, KindOf(err))

	exec, err := h.pr.Get(context.Background(), "summarize", map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, exec.Status)
	assert.JSONEq(t, `{"text":"hello"}`, string(exec.Params))
}

func TestManagersShareOneSessionButSeparateKeys(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(_ context.Context, kind CapabilityKind, _ string) ([]CapabilityDescriptor, error) {
			return []CapabilityDescriptor{{Kind: kind, Name: string(kind) + "-1"}}, nil
		},
	}
	h := connectedHarness(t, ft)

	_, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	_, err = h.res.Load(context.Background())
	require.NoError(t, err)
	_, err = h.pr.Load(context.Background())
	require.NoError(t, err)

	ft.mu.Lock()
	assert.Equal(t, 3, ft.lists)
	ft.mu.Unlock()

	assert.Equal(t, "tool-1", h.tools.List()[0].Name)
	assert.Equal(t, "resource-1", h.res.List()[0].Name)
	assert.Equal(t, "prompt-1", h.pr.List()[0].Name)
}
