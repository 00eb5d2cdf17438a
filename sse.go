package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// sseTransport speaks JSON-RPC over Server-Sent Events. The server pushes
// messages on a persistent event stream; the client sends through HTTP POST
// against a message endpoint the server announces in its first stream event.
type sseTransport struct {
	cfg        TransportConfig
	httpClient *http.Client
	logger     *slog.Logger

	maxPayloadSize int

	mu         sync.Mutex
	messageURL string
	streamBody io.ReadCloser

	pendingMu sync.Mutex
	pending   map[string]chan JSONRPCMessage

	done chan struct{}
}

func newSSETransport(cfg TransportConfig) *sseTransport {
	return &sseTransport{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		pending:    make(map[string]chan JSONRPCMessage),
	}
}

func (t *sseTransport) Connect(ctx context.Context) (SessionInfo, error) {
	req, err := http.NewRequest(http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SessionInfo{}, connectionError("failed to connect to SSE server", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return SessionInfo{}, connectionError(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	t.mu.Lock()
	t.streamBody = resp.Body
	t.mu.Unlock()
	t.done = make(chan struct{})

	ready := make(chan error, 1)
	go t.listenSSEMessages(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			t.closeStream()
			return SessionInfo{}, connectionError("SSE endpoint negotiation failed", err)
		}
	case <-ctx.Done():
		t.closeStream()
		return SessionInfo{}, classifyCallError("SSE connect", ctx.Err())
	}

	params, err := json.Marshal(initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Info{Name: "mcp-playground", Version: "0.1.0"},
	})
	if err != nil {
		t.closeStream()
		return SessionInfo{}, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	res, err := t.call(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodInitialize,
		Params:  params,
	})
	if err != nil {
		t.closeStream()
		return SessionInfo{}, connectionError("initialize handshake failed", err)
	}
	if res.Error != nil {
		t.closeStream()
		return SessionInfo{}, connectionError("initialize rejected", res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.closeStream()
		return SessionInfo{}, protocolError("malformed initialize result", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.closeStream()
		return SessionInfo{}, connectionError(
			fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion), nil)
	}

	if err := t.post(ctx, JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: methodNotificationsInitialized}); err != nil {
		t.logger.Warn("failed to send initialized notification", "err", err)
	}

	return SessionInfo{
		SessionID:    t.sessionIDFromEndpoint(),
		ServerInfo:   result.ServerInfo,
		Capabilities: result.Capabilities.capabilitySet(),
		ConnectedAt:  time.Now(),
	}, nil
}

func (t *sseTransport) Disconnect(_ context.Context, _ string) error {
	t.closeStream()
	return nil
}

func (t *sseTransport) Heartbeat(ctx context.Context, _ string) (bool, error) {
	res, err := t.call(ctx, JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: methodPing})
	if err != nil {
		return false, err
	}
	return res.Error == nil, nil
}

func (t *sseTransport) ListCapability(
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

func (t *sseTransport) InvokeCapability(
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

// call POSTs a request to the message endpoint and waits for the correlated
// response to arrive on the event stream.
func (t *sseTransport) call(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
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

	if err := t.post(ctx, msg); err != nil {
		return JSONRPCMessage{}, err
	}

	select {
	case res := <-resChan:
		return res, nil
	case <-ctx.Done():
		if nErr := t.post(context.WithoutCancel(ctx), notifyCancelled(id)); nErr != nil {
			t.logger.Warn("failed to send cancellation notification", "err", nErr)
		}
		return JSONRPCMessage{}, ctx.Err()
	case <-t.done:
		return JSONRPCMessage{}, connectionError("SSE stream closed", nil)
	}
}

func (t *sseTransport) post(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	messageURL := t.messageURL
	t.mu.Unlock()
	if messageURL == "" {
		return connectionError("no message endpoint negotiated", nil)
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func (t *sseTransport) listenSSEMessages(body io.ReadCloser, ready chan<- error) {
	defer func() {
		body.Close()
		close(t.done)
	}()

	var config *sse.ReadConfig
	if t.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: t.maxPayloadSize,
		}
	}

	endpointSeen := false

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Debug("SSE stream ended", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			// Validate and parse the endpoint URL before routing any message
			// through it.
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			t.mu.Lock()
			t.messageURL = t.resolveEndpoint(u)
			t.mu.Unlock()
			if !endpointSeen {
				endpointSeen = true
				ready <- nil
			}
		case "message":
			if !endpointSeen {
				t.logger.Error("received message before endpoint URL")
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				t.logger.Error("failed to unmarshal message", "err", err)
				continue
			}

			t.pendingMu.Lock()
			resChan, ok := t.pending[string(msg.ID)]
			t.pendingMu.Unlock()
			if !ok {
				continue
			}
			resChan <- msg
		default:
			t.logger.Error("unhandled event type", "type", ev.Type)
		}
	}
}

// resolveEndpoint makes relative endpoint URLs absolute against the stream
// URL.
func (t *sseTransport) resolveEndpoint(u *url.URL) string {
	if u.IsAbs() {
		return u.String()
	}
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// sessionIDFromEndpoint extracts the server-issued session identifier from
// the message endpoint's query string, falling back to a locally minted one.
func (t *sseTransport) sessionIDFromEndpoint() string {
	t.mu.Lock()
	messageURL := t.messageURL
	t.mu.Unlock()

	if u, err := url.Parse(messageURL); err == nil {
		if sid := u.Query().Get("sessionID"); sid != "" {
			return sid
		}
		if sid := u.Query().Get("session_id"); sid != "" {
			return sid
		}
	}
	return uuid.New().String()
}

func (t *sseTransport) closeStream() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streamBody != nil {
		t.streamBody.Close()
		t.streamBody = nil
	}
}
