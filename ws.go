package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsTransport speaks JSON-RPC over a persistent WebSocket connection. A read
// loop correlates responses to waiting callers through a pending map keyed by
// message ID; writes are serialized by a mutex because gorilla allows only one
// concurrent writer.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan JSONRPCMessage

	done chan struct{}
}

func newWSTransport(cfg TransportConfig) *wsTransport {
	return &wsTransport{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: make(map[string]chan JSONRPCMessage),
	}
}

func (t *wsTransport) Connect(ctx context.Context) (SessionInfo, error) {
	wsURL, err := toWSURL(t.cfg.URL)
	if err != nil {
		return SessionInfo{}, configError("invalid websocket url", err)
	}

	header := http.Header{}
	for k, v := range t.cfg.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{
		Subprotocols:     t.cfg.Subprotocols,
		HandshakeTimeout: 30 * time.Second,
	}
	if len(dialer.Subprotocols) == 0 {
		dialer.Subprotocols = []string{"mcp"}
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return SessionInfo{}, connectionError("websocket dial failed", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.done = make(chan struct{})

	go t.readLoop(conn)

	params, err := json.Marshal(initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Info{Name: "mcp-playground", Version: "0.1.0"},
	})
	if err != nil {
		conn.Close()
		return SessionInfo{}, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	res, err := t.call(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodInitialize,
		Params:  params,
	})
	if err != nil {
		conn.Close()
		return SessionInfo{}, connectionError("initialize handshake failed", err)
	}
	if res.Error != nil {
		conn.Close()
		return SessionInfo{}, connectionError("initialize rejected", res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		conn.Close()
		return SessionInfo{}, protocolError("malformed initialize result", err)
	}
	if result.ProtocolVersion != protocolVersion {
		conn.Close()
		return SessionInfo{}, connectionError(
			fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion), nil)
	}

	if err := t.send(JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: methodNotificationsInitialized}); err != nil {
		t.logger.Warn("failed to send initialized notification", "err", err)
	}

	return SessionInfo{
		SessionID:    uuid.New().String(),
		ServerInfo:   result.ServerInfo,
		Capabilities: result.Capabilities.capabilitySet(),
		ConnectedAt:  time.Now(),
	}, nil
}

func (t *wsTransport) Disconnect(_ context.Context, _ string) error {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(5 * time.Second)
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil {
		t.logger.Warn("failed to send close message", "err", err)
	}
	return conn.Close()
}

func (t *wsTransport) Heartbeat(ctx context.Context, _ string) (bool, error) {
	res, err := t.call(ctx, JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: methodPing})
	if err != nil {
		return false, err
	}
	return res.Error == nil, nil
}

func (t *wsTransport) ListCapability(
	ctx context.Context, kind CapabilityKind, _ string,
) ([]CapabilityDescriptor, error) {
	res, err := t.call(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  listMethod(kind),
		Params:  json.RawMessage(`{}`),
	})
	if err != nil {
		return nil, classifyCallError("list "+string(kind)+"s", err)
	}
	if res.Error != nil {
		return nil, remoteError("list "+string(kind)+"s", res.Error)
	}
	return decodeList(kind, res.Result)
}

func (t *wsTransport) InvokeCapability(
	ctx context.Context, kind CapabilityKind, _ string, name string,
	params json.RawMessage, opts CallOptions,
) (json.RawMessage, error) {
	body, err := invokeParams(kind, name, params)
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res, err := t.call(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  invokeMethod(kind),
		Params:  body,
	})
	if err != nil {
		return nil, classifyCallError("invoke "+name, err)
	}
	if res.Error != nil {
		return nil, remoteError("invoke "+name, res.Error)
	}
	return res.Result, nil
}

// call sends a request and waits for its correlated response, the context
// deadline, or transport teardown.
func (t *wsTransport) call(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	id := uuid.New().String()
	msg.ID = MustString(id)

	resChan := make(chan JSONRPCMessage, 1)
	t.pendingMu.Lock()
	t.pending[id] = resChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.send(msg); err != nil {
		return JSONRPCMessage{}, err
	}

	select {
	case res := <-resChan:
		return res, nil
	case <-ctx.Done():
		// Tell the server to stop working on the abandoned request.
		if nErr := t.send(notifyCancelled(id)); nErr != nil {
			t.logger.Warn("failed to send cancellation notification", "err", nErr)
		}
		return JSONRPCMessage{}, ctx.Err()
	case <-t.done:
		return JSONRPCMessage{}, connectionError("websocket connection closed", nil)
	}
}

func (t *wsTransport) send(msg JSONRPCMessage) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return connectionError("websocket not connected", nil)
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	defer close(t.done)

	for {
		var msg JSONRPCMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		}

		if msg.ID == "" {
			// Server notification; nothing correlates to it here.
			continue
		}

		t.pendingMu.Lock()
		resChan, ok := t.pending[string(msg.ID)]
		t.pendingMu.Unlock()
		if !ok {
			t.logger.Debug("dropping uncorrelated message", "id", string(msg.ID))
			continue
		}
		resChan <- msg
	}
}

func notifyCancelled(id string) JSONRPCMessage {
	params, _ := json.Marshal(notificationsCancelledParams{
		RequestID: id,
		Reason:    userCancelledReason,
	})
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsCancelled,
		Params:  params,
	}
}

// toWSURL rewrites http(s) schemes to their websocket equivalents so configs
// can carry either form.
func toWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
