package protocol

import "fmt"

// ParseError is returned when an inbound frame cannot be parsed. A single
// malformed frame is not fatal to the connection: callers log it and drop
// the frame.
type ParseError struct {
	Op  string // operation that failed
	Err error  // underlying error
}

// Error returns the error message.
func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}
