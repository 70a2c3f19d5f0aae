package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection is returned when the transport cannot be established.
	ErrConnection = errors.New("session: connection failed")
	// ErrConnectionLost is returned when an established transport fails.
	ErrConnectionLost = errors.New("session: connection lost")
	// ErrInvalidState is returned when an operation is not valid in the current state.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrCancelled marks failures caused by a local Stop.
	ErrCancelled = errors.New("session: cancelled")
	// ErrHandshakeRejected is returned when an acknowledged handshake is refused.
	ErrHandshakeRejected = errors.New("session: handshake rejected")
	// ErrParamOutOfRange is returned when a negotiated number does not fit its field.
	ErrParamOutOfRange = errors.New("session: parameter out of range")
)

// ConnectionError describes a failed dial.
type ConnectionError struct {
	Op        string
	Addr      string
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s %s failed: %v", e.Op, e.Addr, e.Err)
}

// Unwrap exposes both ErrConnection and the transport error.
func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Err}
}

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// HandshakeError carries the reason an acknowledged handshake failed.
type HandshakeError struct {
	MessageType string
	Reason      string
	Err         error
}

func (e *HandshakeError) Error() string {
	msg := "session: handshake rejected: " + e.Reason
	if e.MessageType != "" {
		msg += fmt.Sprintf(" (message type %q)", e.MessageType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHandshakeRejected}
	}
	return []error{ErrHandshakeRejected, e.Err}
}
