package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Invoke when no connection is established.
	ErrNotConnected = errors.New("hub: not connected")
	// ErrConnectionClosed fails invocations still pending when the connection drops.
	ErrConnectionClosed = errors.New("hub: connection closed")
)

// InvocationError is a completion that carried a server-side error.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("hub: %s failed: %s", e.Target, e.Message)
}

// HandshakeError reports a handshake rejected by the server.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return "hub: handshake rejected: " + e.Message
}
