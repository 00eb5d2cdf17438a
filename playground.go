package playground

import (
	"context"
	"log/slog"
	"sync"
)

// Selection identifies the capability the UI is currently focused on.
type Selection struct {
	Kind CapabilityKind
	Name string
}

// PlaygroundOption configures a Playground.
type PlaygroundOption func(*Playground)

// WithLogger sets the logger shared by every component the Playground owns.
func WithLogger(logger *slog.Logger) PlaygroundOption {
	return func(p *Playground) {
		p.logger = logger
	}
}

// WithPlaygroundTransportFactory overrides how transports are built,
// primarily for tests.
func WithPlaygroundTransportFactory(factory TransportFactory) PlaygroundOption {
	return func(p *Playground) {
		p.transportFactory = factory
	}
}

// Playground is the single entry point tying the session runtime together:
// one connection manager, one capability manager per kind, a shared cache,
// and a shared event bus. All components of one Playground observe the same
// session; separate Playgrounds are fully isolated.
type Playground struct {
	logger           *slog.Logger
	transportFactory TransportFactory

	cfg    Config
	bus    *EventBus
	cache  *Cache
	dedupe *Deduplicator
	conn   *ConnectionManager

	Tools     *ToolManager
	Resources *ResourceManager
	Prompts   *PromptManager

	store *HistoryStore

	mu        sync.Mutex
	selection *Selection

	unsubscribe []func()
}

// New builds a Playground from cfg. When cfg.HistoryPath is set the sqlite
// execution-history store is opened eagerly, so a bad path fails here rather
// than at the first save.
func New(cfg Config, opts ...PlaygroundOption) (*Playground, error) {
	p := &Playground{
		logger:           slog.Default(),
		transportFactory: NewTransport,
		cfg:              cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(p)
	}
	cfg = p.cfg

	p.bus = NewEventBus(p.logger)
	p.cache = NewCache()
	p.dedupe = NewDeduplicator()
	p.conn = NewConnectionManager(cfg, p.bus,
		WithTransportFactory(p.transportFactory),
		WithConnectionLogger(p.logger),
	)

	tools, err := NewToolManager(p.conn, p.bus, p.cache, p.dedupe, cfg, p.logger)
	if err != nil {
		return nil, err
	}
	p.Tools = tools
	p.Resources = NewResourceManager(p.conn, p.bus, p.cache, p.dedupe, cfg, p.logger)
	p.Prompts = NewPromptManager(p.conn, p.bus, p.cache, p.dedupe, cfg, p.logger)

	if cfg.HistoryPath != "" {
		store, err := NewHistoryStore(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		p.store = store
	}

	// Session loss invalidates everything derived from the session: the
	// selection, the cached lists, and the per-manager state.
	for _, t := range []EventType{EventDisconnected, EventConnectionError} {
		p.unsubscribe = append(p.unsubscribe, p.bus.On(t, p.onSessionLost))
	}

	return p, nil
}

func (p *Playground) onSessionLost(Event) {
	p.mu.Lock()
	cleared := p.selection != nil
	p.selection = nil
	p.mu.Unlock()

	p.cache.Clear()
	p.Tools.reset()
	p.Resources.reset()
	p.Prompts.reset()

	if cleared {
		p.bus.Emit(EventSelectionCleared, nil)
	}
}

// Connect establishes a session over the transport cfg describes.
func (p *Playground) Connect(ctx context.Context, cfg TransportConfig) error {
	return p.conn.Connect(ctx, cfg)
}

// ConnectWithRetry connects with exponential backoff per the configured
// retry policy.
func (p *Playground) ConnectWithRetry(ctx context.Context, cfg TransportConfig) error {
	return p.conn.ConnectWithRetry(ctx, cfg, p.cfg.Retry)
}

// Disconnect tears the session down. Safe to call in any state.
func (p *Playground) Disconnect(ctx context.Context) error {
	return p.conn.Disconnect(ctx)
}

// Reconnect re-establishes the session using the last transport config.
// Rapid calls inside the debounce window collapse into one attempt.
func (p *Playground) Reconnect(ctx context.Context) error {
	return p.conn.Reconnect(ctx)
}

// Status returns the connection status.
func (p *Playground) Status() ConnectionStatus {
	return p.conn.Status()
}

// Session returns a snapshot of the live session, if any.
func (p *Playground) Session() (SessionInfo, bool) {
	return p.conn.Session()
}

// IsReady reports whether the session is connected and has an identifier,
// i.e. capability operations can be issued.
func (p *Playground) IsReady() bool {
	return p.conn.Status() == StatusConnected && p.conn.SessionID() != ""
}

// HasCapability reports whether the connected server advertised kind.
func (p *Playground) HasCapability(kind CapabilityKind) bool {
	session, ok := p.conn.Session()
	if !ok {
		return false
	}
	return session.Capabilities.Has(kind)
}

// On subscribes fn to events of type t on the shared bus. The returned
// function removes the subscription.
func (p *Playground) On(t EventType, fn func(Event)) func() {
	return p.bus.On(t, fn)
}

// SelectTool marks name as the focused tool.
func (p *Playground) SelectTool(name string) {
	p.setSelection(KindTool, name)
}

// SelectResource marks uri as the focused resource.
func (p *Playground) SelectResource(uri string) {
	p.setSelection(KindResource, uri)
}

// SelectPrompt marks name as the focused prompt.
func (p *Playground) SelectPrompt(name string) {
	p.setSelection(KindPrompt, name)
}

func (p *Playground) setSelection(kind CapabilityKind, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection = &Selection{Kind: kind, Name: name}
}

// Selected returns the current selection, if any.
func (p *Playground) Selected() (Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selection == nil {
		return Selection{}, false
	}
	return *p.selection, true
}

// ClearSelection drops the current selection.
func (p *Playground) ClearSelection() {
	p.mu.Lock()
	cleared := p.selection != nil
	p.selection = nil
	p.mu.Unlock()

	if cleared {
		p.bus.Emit(EventSelectionCleared, nil)
	}
}

// History merges the execution records of all three managers into one
// timeline ordered by start time.
func (p *Playground) History() []HistoryEntry {
	return mergeHistory(
		p.Tools.Executions(),
		p.Resources.Executions(),
		p.Prompts.Executions(),
	)
}

// SaveHistory persists the merged timeline to the configured store.
func (p *Playground) SaveHistory(ctx context.Context) error {
	if p.store == nil {
		return configError("no history store configured", nil)
	}
	return p.store.Save(ctx, p.History())
}

// LoadHistory reads previously persisted entries from the configured store.
func (p *Playground) LoadHistory(ctx context.Context) ([]HistoryEntry, error) {
	if p.store == nil {
		return nil, configError("no history store configured", nil)
	}
	return p.store.Load(ctx)
}

// Close releases everything the Playground owns. The Playground is unusable
// afterwards.
func (p *Playground) Close() error {
	for _, unsub := range p.unsubscribe {
		unsub()
	}
	err := p.conn.Close()
	if p.store != nil {
		if cerr := p.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
