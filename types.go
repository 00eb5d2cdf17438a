package playground

import (
	"encoding/json"
	"time"
)

// ConnectionStatus enumerates the connection state machine. The only legal
// transitions are disconnected→connecting, connecting→connected,
// connecting→error, connected→error, error→connecting, and
// connected/error→disconnected. A fresh connect never skips connecting.
type ConnectionStatus int

// Connection states.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// canTransition reports whether moving from one status to another is a legal
// edge of the state machine.
func canTransition(from, to ConnectionStatus) bool {
	switch from {
	case StatusDisconnected:
		return to == StatusConnecting
	case StatusConnecting:
		// connecting→disconnected covers a disconnect that aborts an
		// in-flight attempt; Disconnect always wins.
		return to == StatusConnected || to == StatusError || to == StatusDisconnected
	case StatusConnected:
		return to == StatusError || to == StatusDisconnected
	case StatusError:
		return to == StatusConnecting || to == StatusDisconnected
	default:
		return false
	}
}

// CapabilityKind identifies one of the three capability sets a server exposes.
type CapabilityKind string

// Capability kinds.
const (
	KindTool     CapabilityKind = "tool"
	KindResource CapabilityKind = "resource"
	KindPrompt   CapabilityKind = "prompt"
)

// CapabilitySet records which capability kinds the server negotiated during
// the connect handshake.
type CapabilitySet struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// Has reports whether the set includes the given kind.
func (s CapabilitySet) Has(kind CapabilityKind) bool {
	switch kind {
	case KindTool:
		return s.Tools
	case KindResource:
		return s.Resources
	case KindPrompt:
		return s.Prompts
	default:
		return false
	}
}

// Info identifies a server or client implementation by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SessionInfo identifies one live negotiated connection. A session identifier
// is valid only between a successful connect response and a disconnect;
// operations issued with a stale identifier fail rather than silently reusing
// a newer session.
type SessionInfo struct {
	SessionID     string        `json:"sessionId"`
	ServerInfo    Info          `json:"serverInfo"`
	Capabilities  CapabilitySet `json:"capabilities"`
	ConnectedAt   time.Time     `json:"connectedAt"`
	LastHeartbeat time.Time     `json:"lastHeartbeat"`
}

// CapabilityDescriptor describes one listed capability. Name is unique within
// its kind (for resources it holds the URI). Descriptors are immutable once
// listed; a new list call fully replaces the prior set.
type CapabilityDescriptor struct {
	Kind        CapabilityKind  `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`

	// InputSchema holds the JSON schema for tool arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Arguments lists the declared arguments of a prompt.
	Arguments []PromptArgument `json:"arguments,omitempty"`

	// MimeType describes a resource's content type.
	MimeType string `json:"mimeType,omitempty"`
}

// PromptArgument declares a single argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ExecutionStatus enumerates the lifecycle of a tracked invocation:
// pending→running→{success, error}, plus running→cancelled via explicit
// cancellation. Terminal states never transition again.
type ExecutionStatus string

// Execution states.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) terminal() bool {
	return s == ExecutionSuccess || s == ExecutionError || s == ExecutionCancelled
}

// Execution records one invocation attempt of a capability. Records are owned
// by their capability manager and never mutated after completion, except for
// the explicit cancellation transition.
type Execution struct {
	ID          string          `json:"id"`
	Kind        CapabilityKind  `json:"kind"`
	Target      string          `json:"target"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Err         string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt,omitzero"`

	// Messages is an ordered log of incidental messages collected while the
	// execution ran.
	Messages []string `json:"messages,omitempty"`
}

// Duration returns the execution's elapsed time, or zero while it has not
// completed.
func (e Execution) Duration() time.Duration {
	if e.CompletedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// CallOptions carries per-call settings handed to the transport.
type CallOptions struct {
	// Timeout bounds the call; zero means the runtime's default applies.
	Timeout time.Duration
}
