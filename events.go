package playground

import (
	"log/slog"
	"sync"
	"time"
)

// EventType tags events published on the bus.
type EventType string

// Lifecycle and operation events.
const (
	// EventWildcard subscribes a listener to every event type.
	EventWildcard EventType = "*"

	EventConnecting      EventType = "connecting"
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventConnectionError EventType = "connection:error"
	EventHeartbeat       EventType = "heartbeat"

	EventToolsLoaded         EventType = "tools:loaded"
	EventToolsLoadFailed     EventType = "tools:load_failed"
	EventResourcesLoaded     EventType = "resources:loaded"
	EventResourcesLoadFailed EventType = "resources:load_failed"
	EventPromptsLoaded       EventType = "prompts:loaded"
	EventPromptsLoadFailed   EventType = "prompts:load_failed"

	EventExecutionStarted   EventType = "execution:started"
	EventExecutionFinished  EventType = "execution:finished"
	EventExecutionCancelled EventType = "execution:cancelled"

	EventSelectionCleared EventType = "selection:cleared"
)

// loadedEvents maps a capability kind to its loaded and load-failed events.
func loadedEvents(kind CapabilityKind) (loaded, failed EventType) {
	switch kind {
	case KindResource:
		return EventResourcesLoaded, EventResourcesLoadFailed
	case KindPrompt:
		return EventPromptsLoaded, EventPromptsLoadFailed
	default:
		return EventToolsLoaded, EventToolsLoadFailed
	}
}

// Event is one published occurrence. Payload content depends on the type:
// connection events carry a SessionInfo or error message, loaded events carry
// the descriptor slice, execution events carry an Execution snapshot.
type Event struct {
	Type    EventType
	Payload any
	Time    time.Time
}

// HeartbeatEvent is the payload of EventHeartbeat.
type HeartbeatEvent struct {
	OK bool
	// Failures counts consecutive failed probes; reset on success.
	Failures int
}

// Listener receives published events. Listeners run on the emitter's
// goroutine; panics are recovered and logged so one bad listener cannot break
// the emitter or its siblings.
type Listener func(Event)

// EventBus is a typed publish/subscribe channel carrying lifecycle and
// operation events to any number of listeners. It decouples state changes from
// UI updates and other subsystems. One bus is scoped to one Playground
// instance; buses are not shared across instances.
type EventBus struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[EventType]map[int]Listener
}

// NewEventBus creates an empty bus logging listener panics to logger, which
// falls back to slog.Default when nil.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger:    logger,
		listeners: make(map[EventType]map[int]Listener),
	}
}

// On registers fn for events of type t, or for all events when t is
// EventWildcard. It returns an unsubscribe function that is safe to call more
// than once, including from inside the listener itself.
func (b *EventBus) On(t EventType, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	set, ok := b.listeners[t]
	if !ok {
		set = make(map[int]Listener)
		b.listeners[t] = set
	}
	set[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[t], id)
	}
}

// Emit publishes an event to type-specific listeners and to wildcard
// listeners. Dispatch iterates a snapshot of the listener sets, so a listener
// unsubscribing itself (or anyone else) during dispatch is safe.
func (b *EventBus) Emit(t EventType, payload any) {
	ev := Event{Type: t, Payload: payload, Time: time.Now()}

	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.listeners[t])+len(b.listeners[EventWildcard]))
	for _, fn := range b.listeners[t] {
		snapshot = append(snapshot, fn)
	}
	for _, fn := range b.listeners[EventWildcard] {
		snapshot = append(snapshot, fn)
	}
	b.mu.Unlock()

	for _, fn := range snapshot {
		b.dispatch(fn, ev)
	}
}

func (b *EventBus) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "type", string(ev.Type), "panic", r)
		}
	}()
	fn(ev)
}
