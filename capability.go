package playground

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// capabilityManager carries the contract shared by the tools, resources, and
// prompts managers: cached, deduplicated listing and tracked invocation. One
// implementation parameterized by kind keeps the three from drifting apart.
//
// Caching and deduplication apply only to listing. Invocations are not
// assumed idempotent and always hit the network.
type capabilityManager struct {
	kind   CapabilityKind
	conn   *ConnectionManager
	bus    *EventBus
	cache  *Cache
	dedupe *Deduplicator
	logger *slog.Logger

	cacheTTL      time.Duration
	callTimeout   time.Duration
	maxExecutions int

	// filter post-processes a fetched list before it replaces the current
	// one. Nil means keep everything.
	filter func([]CapabilityDescriptor) []CapabilityDescriptor

	mu         sync.Mutex
	list       []CapabilityDescriptor
	executions []*Execution
	cancels    map[string]context.CancelFunc
}

func newCapabilityManager(
	kind CapabilityKind,
	conn *ConnectionManager,
	bus *EventBus,
	cache *Cache,
	dedupe *Deduplicator,
	cfg Config,
	logger *slog.Logger,
) *capabilityManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &capabilityManager{
		kind:          kind,
		conn:          conn,
		bus:           bus,
		cache:         cache,
		dedupe:        dedupe,
		logger:        logger,
		cacheTTL:      cfg.CacheTTL,
		callTimeout:   cfg.RequestTimeout,
		maxExecutions: cfg.MaxExecutions,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// cacheKey scopes list results to the session, so a fresh session never
// serves a dead session's list.
func (m *capabilityManager) cacheKey() string {
	return string(m.kind) + ":list:" + m.conn.SessionID()
}

// Load returns the capability list, serving a fresh cached result when one
// exists. Concurrent callers collapse to a single network round trip.
func (m *capabilityManager) Load(ctx context.Context) ([]CapabilityDescriptor, error) {
	key := m.cacheKey()
	if v, ok := m.cache.Get(key); ok {
		return v.([]CapabilityDescriptor), nil
	}
	return m.fetch(ctx, key)
}

// Refresh always bypasses the cache and re-queries the server. Like Load, it
// is deduplicated.
func (m *capabilityManager) Refresh(ctx context.Context) ([]CapabilityDescriptor, error) {
	key := m.cacheKey()
	m.cache.Delete(key)
	return m.fetch(ctx, key)
}

func (m *capabilityManager) fetch(ctx context.Context, key string) ([]CapabilityDescriptor, error) {
	loadedEv, failedEv := loadedEvents(m.kind)

	v, err := m.dedupe.Do(ctx, key, func() (any, error) {
		transport, sessionID, err := m.conn.currentSession()
		if err != nil {
			m.bus.Emit(failedEv, err.Error())
			return nil, err
		}

		lCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()

		descs, err := transport.ListCapability(lCtx, m.kind, sessionID)
		if err != nil {
			// The prior list is retained on purpose; a transient error must
			// not blank the UI.
			m.bus.Emit(failedEv, err.Error())
			return nil, err
		}
		if m.filter != nil {
			descs = m.filter(descs)
		}

		// The server is authoritative: the new list fully replaces the prior
		// set, no incremental merge.
		m.mu.Lock()
		m.list = slices.Clone(descs)
		m.mu.Unlock()

		m.cache.Set(key, descs, m.cacheTTL)
		m.bus.Emit(loadedEv, descs)
		return descs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]CapabilityDescriptor), nil
}

// List returns a snapshot of the most recently loaded capability set.
func (m *capabilityManager) List() []CapabilityDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.list)
}

// Stale reports whether the list needs a refresh: never loaded for this
// session, or loaded longer than the cache TTL ago.
func (m *capabilityManager) Stale() bool {
	key := m.cacheKey()
	if _, ok := m.cache.GetStale(key); !ok {
		return true
	}
	return m.cache.IsStale(key)
}

// Descriptor finds a listed capability by name.
func (m *capabilityManager) Descriptor(name string) (CapabilityDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.list {
		if d.Name == name {
			return d, true
		}
	}
	return CapabilityDescriptor{}, false
}

// invoke runs one tracked invocation. Remote failures, timeouts, and aborts
// are captured into the Execution record, never returned as errors; the error
// return covers only local precondition violations such as a missing session.
func (m *capabilityManager) invoke(ctx context.Context, target string, params json.RawMessage) (Execution, error) {
	transport, sessionID, err := m.conn.currentSession()
	if err != nil {
		return Execution{}, err
	}

	exec := &Execution{
		ID:        uuid.New().String(),
		Kind:      m.kind,
		Target:    target,
		Params:    params,
		Status:    ExecutionPending,
		StartedAt: time.Now(),
	}
	m.record(exec)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cancels[exec.ID] = cancel
	exec.Status = ExecutionRunning
	snap := cloneExecution(exec)
	m.mu.Unlock()

	m.bus.Emit(EventExecutionStarted, snap)

	result, callErr := transport.InvokeCapability(
		cctx, m.kind, sessionID, target, params, CallOptions{Timeout: m.callTimeout})

	m.mu.Lock()
	delete(m.cancels, exec.ID)

	if exec.Status.terminal() {
		// CancelExecution won the race and already sealed the record.
		snap = cloneExecution(exec)
		m.mu.Unlock()
		return snap, nil
	}

	exec.CompletedAt = time.Now()
	event := EventExecutionFinished
	switch {
	case callErr == nil:
		exec.Status = ExecutionSuccess
		exec.Result = result
	case IsCancelled(callErr):
		exec.Status = ExecutionCancelled
		exec.Err = callErr.Error()
		event = EventExecutionCancelled
	default:
		exec.Status = ExecutionError
		exec.Err = callErr.Error()
	}
	snap = cloneExecution(exec)
	m.mu.Unlock()

	m.bus.Emit(event, snap)
	return snap, nil
}

// CancelExecution marks a pending or running execution cancelled and aborts
// its underlying network call. It reports whether a transition happened:
// completed executions are unaffected and later cancels on the same id are
// no-ops.
func (m *capabilityManager) CancelExecution(id string) bool {
	m.mu.Lock()
	var exec *Execution
	for _, e := range m.executions {
		if e.ID == id {
			exec = e
			break
		}
	}
	if exec == nil || exec.Status.terminal() {
		m.mu.Unlock()
		return false
	}

	exec.Status = ExecutionCancelled
	exec.CompletedAt = time.Now()
	exec.Messages = append(exec.Messages, "cancelled by caller")
	cancel := m.cancels[id]
	delete(m.cancels, id)
	snap := cloneExecution(exec)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.bus.Emit(EventExecutionCancelled, snap)
	return true
}

// Executions returns a snapshot of the tracked execution records, oldest
// first.
func (m *capabilityManager) Executions() []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Execution, 0, len(m.executions))
	for _, e := range m.executions {
		out = append(out, cloneExecution(e))
	}
	return out
}

// RunningCount returns the number of executions not yet in a terminal state.
func (m *capabilityManager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.executions {
		if !e.Status.terminal() {
			n++
		}
	}
	return n
}

// record appends an execution, dropping the oldest entries past the
// configured bound so long-running sessions keep bounded memory.
func (m *capabilityManager) record(exec *Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions = append(m.executions, exec)
	if m.maxExecutions > 0 && len(m.executions) > m.maxExecutions {
		m.executions = m.executions[len(m.executions)-m.maxExecutions:]
	}
}

// reset drops the loaded list. Called when the owning session dies so a new
// session starts clean.
func (m *capabilityManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = nil
}

func cloneExecution(e *Execution) Execution {
	out := *e
	out.Messages = slices.Clone(e.Messages)
	return out
}
