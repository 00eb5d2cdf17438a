package playground

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlayground(t *testing.T, ft *fakeTransport, cfg Config) *Playground {
	t.Helper()
	p, err := New(cfg, WithPlaygroundTransportFactory(ft.factory()))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPlaygroundReadiness(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPlayground(t, ft, testConfig())

	assert.False(t, p.IsReady())
	assert.False(t, p.HasCapability(KindTool))

	require.NoError(t, p.Connect(context.Background(), wsConfig()))
	assert.True(t, p.IsReady())
	assert.True(t, p.HasCapability(KindTool))
	assert.True(t, p.HasCapability(KindResource))

	require.NoError(t, p.Disconnect(context.Background()))
	assert.False(t, p.IsReady())
	assert.False(t, p.HasCapability(KindTool))
}

func TestPlaygroundSelectionClearedOnDisconnect(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPlayground(t, ft, testConfig())

	var cleared int
	p.On(EventSelectionCleared, func(Event) { cleared++ })

	require.NoError(t, p.Connect(context.Background(), wsConfig()))
	p.SelectTool("echo")

	sel, ok := p.Selected()
	require.True(t, ok)
	assert.Equal(t, Selection{Kind: KindTool, Name: "echo"}, sel)

	require.NoError(t, p.Disconnect(context.Background()))

	_, ok = p.Selected()
	assert.False(t, ok)
	assert.Equal(t, 1, cleared)

	// Disconnecting with nothing selected stays quiet.
	require.NoError(t, p.Connect(context.Background(), wsConfig()))
	require.NoError(t, p.Disconnect(context.Background()))
	assert.Equal(t, 1, cleared)
}

func TestPlaygroundSessionLossResetsManagers(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("echo"), nil
		},
	}
	p := newTestPlayground(t, ft, testConfig())

	require.NoError(t, p.Connect(context.Background(), wsConfig()))
	_, err := p.Tools.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Tools.List(), 1)

	require.NoError(t, p.Disconnect(context.Background()))
	assert.Empty(t, p.Tools.List())
	assert.True(t, p.Tools.Stale())
}

func TestPlaygroundFullScenario(t *testing.T) {
	ft := &fakeTransport{
		listFn: func(context.Context, CapabilityKind, string) ([]CapabilityDescriptor, error) {
			return toolDescriptors("echo"), nil
		},
		invokeFn: func(_ context.Context, _ CapabilityKind, _, name string,
			params json.RawMessage, _ CallOptions,
		) (json.RawMessage, error) {
			return json.RawMessage(`{"echoed":true}`), nil
		},
	}
	p := newTestPlayground(t, ft, testConfig())
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, wsConfig()))

	tools, err := p.Tools.Load(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	exec, err := p.Tools.Execute(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, exec.Status)

	history := p.History()
	require.Len(t, history, 1)
	assert.Equal(t, exec.ID, history[0].ID)
	assert.Equal(t, KindTool, history[0].Kind)

	require.NoError(t, p.Disconnect(ctx))

	// Operations against the dead session fail locally.
	_, err = p.Tools.Execute(ctx, "echo", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPlaygroundHistoryPersistence(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	p := newTestPlayground(t, ft, cfg)
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, wsConfig()))
	_, err := p.Tools.Execute(ctx, "echo", nil)
	require.NoError(t, err)

	require.NoError(t, p.SaveHistory(ctx))

	loaded, err := p.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "echo", loaded[0].Target)
}

func TestPlaygroundHistoryWithoutStore(t *testing.T) {
	ft := &fakeTransport{}
	p := newTestPlayground(t, ft, testConfig())

	err := p.SaveHistory(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindConfiguration, KindOf(err))

	_, err = p.LoadHistory(context.Background())
	require.Error(t, err)
}

func TestPlaygroundInstancesAreIsolated(t *testing.T) {
	ftA := &fakeTransport{}
	ftB := &fakeTransport{}
	a := newTestPlayground(t, ftA, testConfig())
	b := newTestPlayground(t, ftB, testConfig())

	var bEvents int
	b.On(EventWildcard, func(Event) { bEvents++ })

	require.NoError(t, a.Connect(context.Background(), wsConfig()))

	assert.True(t, a.IsReady())
	assert.False(t, b.IsReady())
	assert.Zero(t, bEvents, "one instance's lifecycle must not leak onto another's bus")
}
