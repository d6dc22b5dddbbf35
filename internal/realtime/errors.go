package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected matches every *NotConnectedError.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost fails invocations whose connection dropped before
	// a completion arrived.
	ErrConnectionLost = errors.New("connection lost")

	// ErrMaxAttempts is delivered to OnGiveUp handlers.
	ErrMaxAttempts = errors.New("max reconnect attempts reached")

	// ErrStopped is returned by Start when Stop was called during the dial.
	ErrStopped = errors.New("manager stopped")
)

// NotConnectedError is returned by Invoke and Send outside the Connected state.
type NotConnectedError struct {
	Method string
	State  State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: not connected (state %s)", e.Method, e.State)
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// RemoteError is a failure reported by the hub in a completion frame.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error: %s", e.Method, e.Message)
}

// IsNotConnected reports whether err means the call was rejected locally
// because the connection was not established.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
