package playground

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stdioTransport speaks JSON-RPC with a child process over its stdin/stdout,
// one message per line. The child's stderr is drained to the logger. Starting
// the process is part of Connect; Disconnect terminates it.
type stdioTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	pendingMu sync.Mutex
	pending   map[string]chan JSONRPCMessage

	done chan struct{}
}

func newStdioTransport(cfg TransportConfig) *stdioTransport {
	return &stdioTransport{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: make(map[string]chan JSONRPCMessage),
	}
}

func (t *stdioTransport) Connect(ctx context.Context) (SessionInfo, error) {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return SessionInfo{}, connectionError(fmt.Sprintf("failed to start %q", t.cfg.Command), err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()
	t.done = make(chan struct{})

	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	params, err := json.Marshal(initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Info{Name: "mcp-playground", Version: "0.1.0"},
	})
	if err != nil {
		t.stop()
		return SessionInfo{}, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	res, err := t.call(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodInitialize,
		Params:  params,
	})
	if err != nil {
		t.stop()
		return SessionInfo{}, connectionError("initialize handshake failed", err)
	}
	if res.Error != nil {
		t.stop()
		return SessionInfo{}, connectionError("initialize rejected", res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.stop()
		return SessionInfo{}, protocolError("malformed initialize result", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.stop()
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

func (t *stdioTransport) Disconnect(_ context.Context, _ string) error {
	t.stop()
	return nil
}

func (t *stdioTransport) Heartbeat(ctx context.Context, _ string) (bool, error) {
	res, err := t.call(ctx, JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: methodPing})
	if err != nil {
		return false, err
	}
	return res.Error == nil, nil
}

func (t *stdioTransport) ListCapability(
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

func (t *stdioTransport) InvokeCapability(
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

func (t *stdioTransport) call(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
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
		if nErr := t.send(notifyCancelled(id)); nErr != nil {
			t.logger.Warn("failed to send cancellation notification", "err", nErr)
		}
		return JSONRPCMessage{}, ctx.Err()
	case <-t.done:
		return JSONRPCMessage{}, connectionError("child process exited", nil)
	}
}

func (t *stdioTransport) send(msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol.
	msgBs = append(msgBs, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return connectionError("child process not running", nil)
	}
	if _, err := t.stdin.Write(msgBs); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer close(t.done)

	// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Error("failed to read message", "err", err)
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.logger.Error("failed to unmarshal message", "err", err)
			continue
		}

		if msg.ID == "" {
			continue
		}

		t.pendingMu.Lock()
		resChan, ok := t.pending[string(msg.ID)]
		t.pendingMu.Unlock()
		if !ok {
			continue
		}
		resChan <- msg
	}
}

func (t *stdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("server stderr", "line", scanner.Text())
	}
}

func (t *stdioTransport) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil {
		t.stdin.Close()
		t.stdin = nil
	}
	if t.cmd != nil && t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.logger.Warn("failed to kill child process", "err", err)
		}
		go t.cmd.Wait()
		t.cmd = nil
	}
}
