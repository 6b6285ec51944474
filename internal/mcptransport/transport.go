// Package mcptransport implements the two wire transports the MCP client
// core can speak over: HTTP with Server-Sent Events push, and line-delimited
// JSON over a spawned child process's stdio. Both satisfy the same Transport
// interface so the client core's dispatch loop never needs to know which one
// it is driving.
package mcptransport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Recv once the transport has been closed,
// either by the caller or because the underlying connection/process ended.
var ErrClosed = errors.New("mcptransport: closed")

// Frame is one line of the wire protocol: a request, response, or
// notification, carried as raw bytes. The client core owns decoding.
type Frame struct {
	Data []byte
}

// Transport is the minimal duplex byte-frame channel the client core needs.
// Send delivers one outbound frame. Recv blocks until an inbound frame is
// available, the transport is closed, or ctx is done. Close is idempotent
// and unblocks any pending Recv with ErrClosed.
type Transport interface {
	Send(ctx context.Context, frame Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error

	// SessionID returns the MCP-Session-Id the server assigned, if any.
	// Stdio transports always return "".
	SessionID() string
}
