package playground

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by the connection manager and capability managers.
var (
	// ErrNotConnected is returned when an operation requires an active session
	// but none exists.
	ErrNotConnected = errors.New("playground: not connected")

	// ErrConnectInProgress is returned by Connect when another connection
	// attempt is already in flight.
	ErrConnectInProgress = errors.New("playground: connection attempt already in progress")

	// ErrNoPriorConfig is returned by Reconnect when no successful Connect has
	// ever been made, so there is no transport configuration to replay.
	ErrNoPriorConfig = errors.New("playground: reconnect called before any successful connect")
)

// ErrorKind classifies errors produced by this package.
type ErrorKind int

// Error kinds, in rough order of where in an operation they can occur.
const (
	// ErrKindConfiguration covers bad or missing transport configuration and
	// other local precondition violations. Detected before any network call.
	ErrKindConfiguration ErrorKind = iota
	// ErrKindConnection covers unreachable transports, rejected handshakes,
	// and failed capability negotiation.
	ErrKindConnection
	// ErrKindTimeout covers operations that exceeded their deadline.
	ErrKindTimeout
	// ErrKindCancelled covers explicit aborts. Not a failure; reported
	// distinctly so callers treat it as neither success nor retryable.
	ErrKindCancelled
	// ErrKindRemote covers calls the server executed but answered with an
	// error result.
	ErrKindRemote
	// ErrKindProtocol covers malformed or unexpected response shapes.
	ErrKindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindConnection:
		return "connection"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindCancelled:
		return "cancelled"
	case ErrKindRemote:
		return "remote"
	case ErrKindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the kind-tagged error type used across the runtime. Every error
// carries a human-readable message; Retryable tells the UI whether offering a
// retry action makes sense.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func configError(msg string, err error) *Error {
	return &Error{Kind: ErrKindConfiguration, Message: msg, Err: err}
}

func connectionError(msg string, err error) *Error {
	return &Error{Kind: ErrKindConnection, Message: msg, Retryable: true, Err: err}
}

func timeoutError(msg string, err error) *Error {
	return &Error{Kind: ErrKindTimeout, Message: msg, Retryable: true, Err: err}
}

func cancelledError(msg string, err error) *Error {
	return &Error{Kind: ErrKindCancelled, Message: msg, Err: err}
}

func protocolError(msg string, err error) *Error {
	return &Error{Kind: ErrKindProtocol, Message: msg, Err: err}
}

// KindOf reports the ErrorKind of err. Plain context errors map to timeout and
// cancellation kinds; anything else unclassified maps to ErrKindConnection.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindConnection
	}
}

// IsRetryable reports whether a retry of the failed operation could succeed.
// Cancellation is never retryable; configuration and protocol errors are
// terminal until the caller changes something.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return KindOf(err) == ErrKindTimeout || KindOf(err) == ErrKindConnection
}

// IsCancelled reports whether err represents an explicit abort.
func IsCancelled(err error) bool {
	return KindOf(err) == ErrKindCancelled
}

// classifyCallError converts a raw transport error into a kind-tagged error,
// folding context deadline and cancellation outcomes into their distinct kinds.
func classifyCallError(op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(op+" timed out", err)
	case errors.Is(err, context.Canceled):
		return cancelledError(op+" cancelled", err)
	default:
		return connectionError(op+" failed", err)
	}
}
