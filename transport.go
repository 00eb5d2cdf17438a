package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// TransportKind selects the wire transport for a session.
type TransportKind string

// Supported transport kinds.
const (
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "websocket"
	TransportSSE       TransportKind = "sse"
	TransportStdio     TransportKind = "stdio"
)

// TransportConfig is a tagged union keyed by transport kind. Unknown or
// missing required fields for a kind are a configuration error, caught by
// Validate before any network call.
type TransportConfig struct {
	Kind TransportKind `yaml:"kind" json:"kind"`

	// URL is the endpoint for http, websocket, and sse transports.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Headers are sent with every request on http, websocket, and sse
	// transports (credentials, tracing, and the like).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Subprotocols are offered during the websocket handshake.
	Subprotocols []string `yaml:"subprotocols,omitempty" json:"subprotocols,omitempty"`

	// Command, Args, Env, and Dir describe the child process for the stdio
	// transport. Env entries use the "KEY=value" form.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir     string   `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Validate checks that the config carries the required fields for its kind.
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case TransportHTTP, TransportSSE:
		return c.validateURL("http", "https")
	case TransportWebSocket:
		return c.validateURL("ws", "wss", "http", "https")
	case TransportStdio:
		if c.Command == "" {
			return configError("stdio transport requires a command", nil)
		}
		return nil
	case "":
		return configError("transport kind is required", nil)
	default:
		return configError(fmt.Sprintf("unknown transport kind %q", c.Kind), nil)
	}
}

func (c TransportConfig) validateURL(schemes ...string) error {
	if c.URL == "" {
		return configError(fmt.Sprintf("%s transport requires a url", c.Kind), nil)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return configError(fmt.Sprintf("invalid %s url %q", c.Kind, c.URL), err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return configError(fmt.Sprintf("unsupported url scheme %q for %s transport", u.Scheme, c.Kind), nil)
}

// Transport is the opaque adapter the connection and capability managers talk
// through. Implementations own byte-level framing; the runtime only sees
// sessions, descriptors, and raw results. Every method honors ctx for
// cancellation and deadlines.
type Transport interface {
	// Connect performs the protocol handshake and returns the negotiated
	// session. Implementations must return a kind-tagged error on handshake
	// rejection or capability negotiation failure.
	Connect(ctx context.Context) (SessionInfo, error)

	// Disconnect notifies the server that sessionID is finished and releases
	// transport resources. Best effort; the caller has already dropped its
	// session state when this runs.
	Disconnect(ctx context.Context, sessionID string) error

	// Heartbeat probes liveness of sessionID.
	Heartbeat(ctx context.Context, sessionID string) (bool, error)

	// ListCapability fetches the full descriptor set of one kind.
	ListCapability(ctx context.Context, kind CapabilityKind, sessionID string) ([]CapabilityDescriptor, error)

	// InvokeCapability invokes one member of a capability set and returns the
	// raw result payload. Remote-side failures surface as ErrKindRemote
	// errors; the capability managers fold those into Execution records.
	InvokeCapability(ctx context.Context, kind CapabilityKind, sessionID, name string,
		params json.RawMessage, opts CallOptions) (json.RawMessage, error)
}

// TransportFactory builds a Transport from a validated config. The connection
// manager takes one so tests can substitute fakes.
type TransportFactory func(TransportConfig) (Transport, error)

// NewTransport constructs the adapter matching the config's kind. The config
// must have passed Validate.
func NewTransport(cfg TransportConfig) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case TransportHTTP:
		return newHTTPTransport(cfg), nil
	case TransportWebSocket:
		return newWSTransport(cfg), nil
	case TransportSSE:
		return newSSETransport(cfg), nil
	case TransportStdio:
		return newStdioTransport(cfg), nil
	default:
		return nil, configError(fmt.Sprintf("unknown transport kind %q", cfg.Kind), nil)
	}
}

// remoteError converts a JSON-RPC error object into a kind-tagged remote
// error.
func remoteError(op string, jerr *JSONRPCError) *Error {
	return &Error{Kind: ErrKindRemote, Message: op + " rejected by server", Err: jerr}
}
