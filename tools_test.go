package playground

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolAllowlist(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("get_weather", "get_time", "delete_everything"), nil
		},
	}
	cfg := testConfig()
	cfg.AllowedTools = []string{"get_*"}
	h := newHarness(t, ft, cfg)
	require.NoError(t, h.conn.Connect(context.Background(), wsConfig()))

	assert.True(t, h.tools.Allowed("get_weather"))
	assert.False(t, h.tools.Allowed("delete_everything"))

	list, err := h.tools.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, d := range list {
		assert.True(t, h.tools.Allowed(d.Name))
	}

	_, err = h.tools.Execute(context.Background(), "delete_everything", nil)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfiguration, KindOf(err))
	ft.mu.Lock()
	assert.Zero(t, ft.invokes)
	ft.mu.Unlock()
}

func TestToolAllowlistEmptyAdmitsEverything(t *testing.T) {
	ft := &fakeTransport{}
	h := connectedHarness(t, ft)

	assert.True(t, h.tools.Allowed("anything_at_all"))
}

func TestToolAllowlistRejectsBadPattern(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedTools = []string{"["}

	_, err := NewToolManager(nil, NewEventBus(nil), NewCache(), NewDeduplicator(), cfg, nil)
	require.Error(t, err)
	assert.Equal(t, ErrKindConfiguration, KindOf(err))
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"city": {"type": "string"}},
		"required": ["city"]
	}`)
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return []CapabilityDescriptor{
				{Kind: KindTool, Name: "get_weather", InputSchema: schema},
			}, nil
		},
	}
	h := connectedHarness(t, ft)
	_, err := h.tools.Load(context.Background())
	require.NoError(t, err)

	_, err = h.tools.Execute(context.Background(), "get_weather", json.RawMessage(`{"city":42}`))
	require.Error(t, err)
	assert.Equal(t, ErrKindConfiguration, KindOf(err))

	_, err = h.tools.Execute(context.Background(), "get_weather", json.RawMessage(`{}`))
	require.Error(t, err, "missing required property must fail before the network")

	ft.mu.Lock()
	assert.Zero(t, ft.invokes)
	ft.mu.Unlock()

	exec, err := h.tools.Execute(context.Background(), "get_weather", json.RawMessage(`{"city":"Oslo"}`))
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, exec.Status)
}

func TestExecuteSkipsValidationForUnlistedTool(t *testing.T) {
	ft := &fakeTransport{}
	h := connectedHarness(t, ft)

	// Never listed, so there is no schema to check against.
	exec, err := h.tools.Execute(context.Background(), "mystery", json.RawMessage(`"anything"`))
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, exec.Status)
}

func TestExecuteBatchKeepsRequestOrder(t *testing.T) {
	ft := &fakeTransport{
		invokeFn: func(_ context.Context, _ CapabilityKind, _, name string,
			_ json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			return json.RawMessage(`{"tool":"` + name + `"}`), nil
		},
	}
	h := connectedHarness(t, ft)

	reqs := []BatchRequest{
		{Name: "alpha"}, {Name: "beta"}, {Name: "gamma"}, {Name: "delta"},
	}
	results := h.tools.ExecuteBatch(context.Background(), reqs, BatchOptions{Concurrency: 3})

	require.Len(t, results, len(reqs))
	for i, req := range reqs {
		assert.Equal(t, req.Name, results[i].Target)
		assert.Equal(t, ExecutionSuccess, results[i].Status)
	}
}

func TestExecuteBatchStopOnError(t *testing.T) {
	var invoked []string
	var mu sync.Mutex
	ft := &fakeTransport{
		invokeFn: func(_ context.Context, _ CapabilityKind, _, name string,
			_ json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			mu.Lock()
			invoked = append(invoked, name)
			mu.Unlock()
			if name == "second" {
				return nil, remoteError("tools/call", &JSONRPCError{Code: -32000, Message: "boom"})
			}
			return json.RawMessage(`{}`), nil
		},
	}
	h := connectedHarness(t, ft)

	reqs := []BatchRequest{
		{Name: "first"}, {Name: "second"}, {Name: "third"},
		{Name: "fourth"}, {Name: "fifth"},
	}
	results := h.tools.ExecuteBatch(context.Background(), reqs,
		BatchOptions{Concurrency: 1, StopOnError: true})

	require.Len(t, results, len(reqs))
	assert.Equal(t, ExecutionSuccess, results[0].Status)
	assert.Equal(t, ExecutionError, results[1].Status)
	for i := 2; i < len(reqs); i++ {
		assert.Equal(t, ExecutionCancelled, results[i].Status, "request %d must be skipped", i)
		assert.Equal(t, reqs[i].Name, results[i].Target)
		assert.Contains(t, results[i].Err, "not started")
	}

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, invoked)
	mu.Unlock()
}

func TestExecuteBatchLocalRejectionStopsScheduling(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.AllowedTools = []string{"good_*"}
	h := newHarness(t, ft, cfg)
	require.NoError(t, h.conn.Connect(context.Background(), wsConfig()))

	reqs := []BatchRequest{
		{Name: "good_one"}, {Name: "bad_one"}, {Name: "good_two"},
	}
	results := h.tools.ExecuteBatch(context.Background(), reqs,
		BatchOptions{Concurrency: 1, StopOnError: true})

	require.Len(t, results, 3)
	assert.Equal(t, ExecutionSuccess, results[0].Status)
	assert.Equal(t, ExecutionError, results[1].Status)
	assert.Equal(t, ExecutionCancelled, results[2].Status)
}

func TestExecuteBatchHonorsConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32
	ft := &fakeTransport{
		invokeFn: func(context.Context, CapabilityKind, string, string,
			json.RawMessage, CallOptions,
		) (json.RawMessage, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return json.RawMessage(`{}`), nil
		},
	}
	h := connectedHarness(t, ft)

	reqs := make([]BatchRequest, 8)
	for i := range reqs {
		reqs[i] = BatchRequest{Name: "tool"}
	}
	results := h.tools.ExecuteBatch(context.Background(), reqs, BatchOptions{Concurrency: 2})

	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
