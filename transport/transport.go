// Package transport moves whole OCPP-J text frames between two endpoints.
//
// The correlation engine only needs three things from a connection: write one frame,
// read the next frame, and close. Anything that can do that, a WebSocket or an
// in-memory pipe, is a Transport.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Receive once the transport is closed.
var ErrClosed = errors.New("transport closed")

type Transport interface {
	// Send writes one frame. Concurrent calls must not interleave frames.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the next frame arrives, the transport closes or ctx ends.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the connection. It may be called more than once.
	Close() error
}
