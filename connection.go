package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionManagerOption configures a ConnectionManager.
type ConnectionManagerOption func(*ConnectionManager)

// WithTransportFactory overrides how transports are built from configs.
func WithTransportFactory(factory TransportFactory) ConnectionManagerOption {
	return func(m *ConnectionManager) {
		m.transportFactory = factory
	}
}

// WithConnectionLogger sets the manager's logger.
func WithConnectionLogger(logger *slog.Logger) ConnectionManagerOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// ConnectionManager owns session identity, the capability negotiation result,
// the heartbeat loop, and the reconnect policy. Status transitions are
// serialized: an in-progress guard ensures only one connect sequence runs at
// a time, and a second call while one is active is a logged no-op.
type ConnectionManager struct {
	bus              *EventBus
	logger           *slog.Logger
	transportFactory TransportFactory

	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	reconnectDebounce *debouncer

	mu            sync.Mutex
	status        ConnectionStatus
	session       SessionInfo
	transport     Transport
	lastConfig    *TransportConfig
	connecting    bool
	connectCancel context.CancelFunc
	hbStop        chan struct{}
	hbFailures    int
	closed        bool
}

// NewConnectionManager creates a manager publishing lifecycle events on bus.
func NewConnectionManager(cfg Config, bus *EventBus, opts ...ConnectionManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		bus:               bus,
		logger:            slog.Default(),
		transportFactory:  NewTransport,
		connectTimeout:    cfg.ConnectTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatTimeout:  cfg.HeartbeatTimeout,
		reconnectDebounce: newDebouncer(cfg.ReconnectDebounce),
		status:            StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the current connection status.
func (m *ConnectionManager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Session returns a snapshot of the current session. ok is false when no
// session is live.
func (m *ConnectionManager) Session() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session.SessionID != ""
}

// SessionID returns the live session identifier, or "" when disconnected.
func (m *ConnectionManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.SessionID
}

// HeartbeatFailures returns the count of consecutive failed liveness probes.
func (m *ConnectionManager) HeartbeatFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hbFailures
}

// currentSession hands out the transport and session identifier for issuing
// an operation, failing when no session is live. Capturing both at call time
// pins the operation to its session: a call that completes against a newer
// session carries the old identifier, and the server rejects it instead of
// silently reusing the new session.
func (m *ConnectionManager) currentSession() (Transport, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusConnected || m.transport == nil || m.session.SessionID == "" {
		return nil, "", configError("no active session", ErrNotConnected)
	}
	return m.transport, m.session.SessionID, nil
}

// Connect establishes a session using cfg. A call while another attempt is in
// flight is a logged no-op returning ErrConnectInProgress; the guard is a
// dedicated flag rather than the status so two rapid calls cannot both
// observe disconnected and race. On failure all session state is cleared, the
// status becomes error, and a connection:error event fires; there is no
// automatic retry (see ConnectWithRetry).
func (m *ConnectionManager) Connect(ctx context.Context, cfg TransportConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The machine has no connected→connecting edge; a fresh connect from
	// connected passes through disconnected first.
	if m.Status() == StatusConnected {
		if err := m.Disconnect(ctx); err != nil {
			m.logger.Warn("failed to disconnect before reconnecting", "err", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return configError("connection manager closed", nil)
	}
	if m.connecting {
		m.mu.Unlock()
		m.logger.Debug("connect ignored: attempt already in progress")
		return ErrConnectInProgress
	}
	m.connecting = true
	m.lastConfig = &cfg

	// A superseded attempt may still hold a live cancel handle; tear it down
	// before starting over.
	if m.connectCancel != nil {
		m.connectCancel()
	}
	cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	m.connectCancel = cancel
	m.mu.Unlock()
	defer cancel()

	m.setStatus(StatusConnecting)
	m.bus.Emit(EventConnecting, cfg.Kind)

	transport, err := m.transportFactory(cfg)
	if err == nil {
		var info SessionInfo
		info, err = transport.Connect(cctx)
		if err == nil {
			m.mu.Lock()
			m.session = info
			m.transport = transport
			m.connecting = false
			m.connectCancel = nil
			m.hbFailures = 0
			m.mu.Unlock()

			m.setStatus(StatusConnected)
			m.startHeartbeat()
			m.bus.Emit(EventConnected, info)
			m.logger.Info("connected",
				"server", info.ServerInfo.Name,
				"version", info.ServerInfo.Version,
				"session", info.SessionID)
			return nil
		}
	}

	cErr := classifyCallError("connect", err)

	m.mu.Lock()
	m.session = SessionInfo{}
	m.transport = nil
	m.connecting = false
	m.connectCancel = nil
	m.mu.Unlock()

	if IsCancelled(cErr) {
		// The attempt was aborted on purpose (disconnect or a superseding
		// connect); resolve quietly with the distinguishable outcome.
		if m.Status() == StatusConnecting {
			m.setStatus(StatusDisconnected)
		}
		m.logger.Debug("connect attempt cancelled")
		return cErr
	}

	m.setStatus(StatusError)
	m.bus.Emit(EventConnectionError, cErr.Error())
	m.logger.Error("connect failed", "err", cErr)
	return cErr
}

// ConnectWithRetry wraps Connect in the opt-in exponential backoff policy.
// Cancellation and non-retryable errors surface immediately; otherwise
// attempt n waits policy.delay(n) before trying again, and after MaxRetries
// the last error is terminal.
func (m *ConnectionManager) ConnectWithRetry(ctx context.Context, cfg TransportConfig, policy RetryPolicy) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = m.Connect(ctx, cfg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConnectInProgress) || IsCancelled(err) || !IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxRetries {
			return fmt.Errorf("connect failed after %d attempts: %w", attempt+1, err)
		}

		delay := policy.delay(attempt)
		m.logger.Info("retrying connect", "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return cancelledError("connect retries aborted", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// Disconnect is idempotent: it always transitions to disconnected and clears
// session state, even when the best-effort server-side notification fails.
// The disconnected event fires before the network notification completes; UI
// responsiveness wins over strict ordering with the server.
func (m *ConnectionManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusDisconnected && m.transport == nil && !m.connecting {
		m.mu.Unlock()
		return nil
	}

	transport := m.transport
	sessionID := m.session.SessionID

	if m.connectCancel != nil {
		m.connectCancel()
		m.connectCancel = nil
	}
	m.connecting = false
	m.session = SessionInfo{}
	m.transport = nil
	m.hbFailures = 0
	m.mu.Unlock()

	m.stopHeartbeat()
	m.setStatus(StatusDisconnected)
	m.bus.Emit(EventDisconnected, sessionID)

	if transport != nil && sessionID != "" {
		nCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := transport.Disconnect(nCtx, sessionID); err != nil {
			m.logger.Warn("server-side disconnect notification failed", "err", err)
		}
	}
	return nil
}

// Reconnect replays the last-used transport configuration. Rapid repeated
// calls within the debounce window coalesce into one attempt, which runs
// asynchronously once the window elapses; its outcome is reported through the
// event bus. Calling Reconnect before any Connect fails with a descriptive
// error.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.lastConfig == nil {
		m.mu.Unlock()
		return configError("no transport configuration to replay", ErrNoPriorConfig)
	}
	cfg := *m.lastConfig
	m.mu.Unlock()

	armed := m.reconnectDebounce.trigger(func() {
		rCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectTimeout)
		defer cancel()
		if err := m.Connect(rCtx, cfg); err != nil && !errors.Is(err, ErrConnectInProgress) {
			m.logger.Error("debounced reconnect failed", "err", err)
		}
	})
	if !armed {
		m.logger.Debug("reconnect coalesced into pending attempt")
	}
	return nil
}

// Heartbeat sends one liveness probe against the current session. It returns
// a boolean instead of an error: failure is a signal for the caller to decide
// on reconnection, never a fatal condition, and the manager itself never
// escalates a failed probe into a reconnect.
func (m *ConnectionManager) Heartbeat(ctx context.Context) bool {
	m.mu.Lock()
	transport := m.transport
	sessionID := m.session.SessionID
	m.mu.Unlock()

	if transport == nil || sessionID == "" {
		return false
	}

	hCtx, cancel := context.WithTimeout(ctx, m.heartbeatTimeout)
	defer cancel()

	ok, err := transport.Heartbeat(hCtx, sessionID)
	if err != nil || !ok {
		m.mu.Lock()
		m.hbFailures++
		failures := m.hbFailures
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("heartbeat failed", "err", err, "consecutive", failures)
		}
		m.bus.Emit(EventHeartbeat, HeartbeatEvent{OK: false, Failures: failures})
		return false
	}

	m.mu.Lock()
	m.hbFailures = 0
	m.session.LastHeartbeat = time.Now()
	m.mu.Unlock()

	m.bus.Emit(EventHeartbeat, HeartbeatEvent{OK: true})
	return true
}

// Close tears the manager down: the pending debounce timer is cleared, the
// heartbeat loop stops, and any live session is disconnected.
func (m *ConnectionManager) Close() error {
	m.reconnectDebounce.stop()
	err := m.Disconnect(context.Background())

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

// startHeartbeat runs the liveness loop on a fixed interval for as long as
// the status stays connected. The loop is torn down immediately on any status
// change.
func (m *ConnectionManager) startHeartbeat() {
	if m.heartbeatInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	m.mu.Lock()
	if m.hbStop != nil {
		close(m.hbStop)
	}
	m.hbStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if m.Status() != StatusConnected {
					return
				}
				m.Heartbeat(context.Background())
			}
		}
	}()
}

func (m *ConnectionManager) stopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// setStatus applies a transition, logging and ignoring illegal edges so a
// programming error cannot corrupt the machine.
func (m *ConnectionManager) setStatus(to ConnectionStatus) {
	m.mu.Lock()
	from := m.status
	if from == to {
		m.mu.Unlock()
		return
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		m.logger.Error("illegal status transition ignored", "from", from.String(), "to", to.String())
		return
	}
	m.status = to
	m.mu.Unlock()

	if to != StatusConnected {
		m.stopHeartbeat()
	}
}
