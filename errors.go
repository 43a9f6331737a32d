package redislite

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the node has been closed
	ErrClosed = errors.New("node is closed")

	// ErrNotReplica indicates a replica-only operation on a master
	ErrNotReplica = errors.New("node is not a replica")

	// ErrHandshake indicates the replication handshake with the master failed
	ErrHandshake = errors.New("replication handshake failed")
)

// HandshakeError reports a failed replication handshake. It matches
// ErrHandshake with errors.Is.
type HandshakeError struct {
	Master string
	Step   string // one of the replication.Step* names
	Err    error
}

// Error implements the error interface
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s failed at %s: %v", e.Master, e.Step, e.Err)
}

// Unwrap returns the wrapped error
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrHandshake
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshake
}

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
