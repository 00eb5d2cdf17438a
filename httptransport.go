package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// sessionIDHeader carries the server-issued session identifier on every
// request after the initialize handshake.
const sessionIDHeader = "Mcp-Session-Id"

// httpTransport speaks JSON-RPC over plain HTTP request/response. Each call
// is one POST; the session identifier travels in a header.
type httpTransport struct {
	cfg        TransportConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newHTTPTransport(cfg TransportConfig) *httpTransport {
	return &httpTransport{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
}

func (t *httpTransport) Connect(ctx context.Context) (SessionInfo, error) {
	params, err := json.Marshal(initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Info{Name: "mcp-playground", Version: "0.1.0"},
	})
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  methodInitialize,
		Params:  params,
	}

	res, sessionID, err := t.post(ctx, "", msg)
	if err != nil {
		return SessionInfo{}, connectionError("initialize handshake failed", err)
	}
	if res.Error != nil {
		return SessionInfo{}, connectionError("initialize rejected", res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return SessionInfo{}, protocolError("malformed initialize result", err)
	}
	if result.ProtocolVersion != protocolVersion {
		return SessionInfo{}, connectionError(
			fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion), nil)
	}

	// Stateless servers may not issue a session header; mint a local one so
	// the rest of the runtime always has an identifier to track.
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if err := t.notify(ctx, sessionID, methodNotificationsInitialized, nil); err != nil {
		t.logger.Warn("failed to send initialized notification", "err", err)
	}

	return SessionInfo{
		SessionID:    sessionID,
		ServerInfo:   result.ServerInfo,
		Capabilities: result.Capabilities.capabilitySet(),
		ConnectedAt:  time.Now(),
	}, nil
}

func (t *httpTransport) Disconnect(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req, sessionID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (t *httpTransport) Heartbeat(ctx context.Context, sessionID string) (bool, error) {
	res, _, err := t.post(ctx, sessionID, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  methodPing,
	})
	if err != nil {
		return false, err
	}
	return res.Error == nil, nil
}

func (t *httpTransport) ListCapability(
	ctx context.Context, kind CapabilityKind, sessionID string,
) ([]CapabilityDescriptor, error) {
	res, _, err := t.post(ctx, sessionID, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
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

func (t *httpTransport) InvokeCapability(
	ctx context.Context, kind CapabilityKind, sessionID, name string,
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

	res, _, err := t.post(ctx, sessionID, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
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

func (t *httpTransport) post(ctx context.Context, sessionID string, msg JSONRPCMessage) (JSONRPCMessage, string, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return JSONRPCMessage{}, "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(msgBs))
	if err != nil {
		return JSONRPCMessage{}, "", fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req, sessionID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return JSONRPCMessage{}, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return JSONRPCMessage{}, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return JSONRPCMessage{}, "", fmt.Errorf("failed to read response: %w", err)
	}

	var res JSONRPCMessage
	if err := json.Unmarshal(body, &res); err != nil {
		return JSONRPCMessage{}, "", protocolError("malformed response body", err)
	}

	return res, resp.Header.Get(sessionIDHeader), nil
}

func (t *httpTransport) notify(ctx context.Context, sessionID, method string, params any) error {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsBs = bs
	}

	msgBs, err := json.Marshal(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(msgBs))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(req, sessionID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (t *httpTransport) setHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
}
