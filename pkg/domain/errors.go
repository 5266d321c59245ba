package domain

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when Start or SubmitAnswer is called while another is in flight.
var ErrBusy = errors.New("session busy")

// ErrNotConnected is returned when sending on a channel that is not open.
var ErrNotConnected = errors.New("channel not connected")

// ErrSendUnsupported is returned by channels that only receive.
var ErrSendUnsupported = errors.New("send not supported on this channel")

// ErrCooldown is returned when a connection attempt is made inside the cooldown window.
var ErrCooldown = errors.New("connection attempt inside cooldown window")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

var (
	ErrProtocol  = errors.New("protocol error")
	ErrDecode    = errors.New("decode error")
	ErrTransport = errors.New("transport error")
	ErrBackend   = errors.New("backend error")
)

// TransportError means the connection failed, dropped, or could not be established.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s failed", e.Op)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError means a single frame or message could not be parsed.
// It is never fatal to the session.
type DecodeError struct {
	// Raw is the offending input, truncated for logging.
	Raw    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// NewDecodeError builds a DecodeError keeping at most 256 bytes of raw input.
func NewDecodeError(raw []byte, reason string, err error) *DecodeError {
	const maxRaw = 256
	if len(raw) > maxRaw {
		raw = raw[:maxRaw]
	}
	return &DecodeError{Raw: string(raw), Reason: reason, Err: err}
}

// ProtocolError means an event or operation is illegal in the current state.
type ProtocolError struct {
	State State
	// What describes the rejected event kind or operation.
	What string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s not allowed in state %s", e.What, e.State)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// BackendError is an error reported by the workflow backend, either in-band
// or as a non-success response.
type BackendError struct {
	// StatusCode is zero for in-band errors.
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend (%d): %s", e.StatusCode, e.Message)
	}
	return "backend: " + e.Message
}

func (e *BackendError) Is(target error) bool { return target == ErrBackend }
