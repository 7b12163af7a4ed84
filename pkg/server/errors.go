package server

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a lookup names a session the
	// manager does not hold (expired, evicted, or never created).
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrWindowNotFound is returned when a window number does not resolve
	// within its session.
	ErrWindowNotFound = errors.New("server: window not found")

	// ErrNoEndpoint is returned when an operation needs a live connection
	// but the window has none bound.
	ErrNoEndpoint = errors.New("server: no endpoint bound to window")

	// ErrEndpointClosed is returned for writes or calls on an endpoint
	// whose connection has been torn down.
	ErrEndpointClosed = errors.New("server: endpoint closed")

	// ErrServiceNotFound is returned when an inbound service call names a
	// service the session has not registered.
	ErrServiceNotFound = errors.New("server: service not found")
)

// ClientCallError carries the error value the browser attached to a call
// response. The payload is the raw JSON of the client's "err" field.
type ClientCallError struct {
	Function string
	Payload  []byte
}

func (e *ClientCallError) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("server: client rejected call to %q", e.Function)
	}
	return fmt.Sprintf("server: client rejected call to %q: %s", e.Function, e.Payload)
}
