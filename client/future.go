package client

import (
	"context"
	"encoding/json"
	"time"

	"ocpp-rpc/codec"
)

// Future is the caller's handle on a sent Call. It is resolved exactly once with the
// response payload or a failure.
type Future struct {
	MessageID string
	Action    string
	IssuedAt  time.Time

	codec   codec.Codec
	done    chan struct{}
	payload json.RawMessage
	err     error
}

func newFuture(pc *PendingCall, c codec.Codec) *Future {
	return &Future{
		MessageID: pc.MessageID,
		Action:    pc.Action,
		IssuedAt:  pc.IssuedAt,
		codec:     c,
		done:      make(chan struct{}),
	}
}

// complete must only be called by the path that removed the entry from the Table.
func (f *Future) complete(payload json.RawMessage, err error) {
	f.payload = payload
	f.err = err
	close(f.done)
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (f *Future) Result() (json.RawMessage, error) {
	return f.payload, f.err
}

// Wait blocks until the future resolves or ctx ends. Giving up on the wait does not
// cancel the call: it stays pending until a response, its deadline or connection close.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the response and binds its payload to v.
func (f *Future) Decode(ctx context.Context, v any) error {
	payload, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return f.codec.Decode(payload, v)
}
