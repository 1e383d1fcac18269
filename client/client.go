// Package client implements the outbound half of an OCPP-J connection: it turns a local
// request into a Call frame, remembers it in the pending call table, and routes the
// peer's CallResult or CallError back to the caller by message id.
//
//	caller ──Send(action)──→ table.Insert(id) ──→ transport
//	read loop ←── [3,id,payload] ──→ table.Take(id) ──→ future resolved
//	supervisor ──tick──→ table.TakeExpired(now) ──→ futures resolved with TimeoutError
//
// Whichever of the three paths removes an entry from the table first resolves its
// future. The others see nothing and leave it alone.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ocpp-rpc/catalog"
	"ocpp-rpc/codec"
	"ocpp-rpc/message"
	"ocpp-rpc/protocol"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultScanInterval = 500 * time.Millisecond
)

// Sender writes one encoded frame to the peer.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// RetryPolicy controls how Call repeats a request that timed out or met a full pipeline.
// Each retry waits BaseDelay * 2^attempt, capped at MaxRetryDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type Options struct {
	Timeout                 time.Duration
	ScanInterval            time.Duration
	StrictSingleOutstanding bool
	Catalog                 *catalog.Set // nil disables action and payload checks
	Codec                   codec.Codec
	IDGenerator             IDGenerator
	Logger                  *slog.Logger
	Retry                   RetryPolicy
	OnTimeout               func(*TimeoutError)
	OnSent                  func(action string) // after a Call frame is written
}

type Client struct {
	sender  Sender
	table   *Table
	catalog *catalog.Set
	codec   codec.Codec
	nextID  IDGenerator
	logger  *slog.Logger

	timeout      time.Duration
	scanInterval time.Duration
	retry        RetryPolicy
	onTimeout    func(*TimeoutError)
	onSent       func(action string)
}

func New(sender Sender, opts Options) *Client {
	c := &Client{
		sender:       sender,
		table:        NewTable(opts.StrictSingleOutstanding),
		catalog:      opts.Catalog,
		codec:        opts.Codec,
		nextID:       opts.IDGenerator,
		logger:       opts.Logger,
		timeout:      opts.Timeout,
		scanInterval: opts.ScanInterval,
		retry:        opts.Retry,
		onTimeout:    opts.OnTimeout,
		onSent:       opts.OnSent,
	}
	if c.codec == nil {
		c.codec = codec.GetCodec(codec.CodecTypeJSON)
	}
	if c.nextID == nil {
		c.nextID = NewULIDGenerator()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.scanInterval <= 0 {
		c.scanInterval = DefaultScanInterval
	}
	return c
}

// Send encodes a Call for action, records it as pending and writes it to the peer.
// The returned future resolves when the matching response arrives, the call's deadline
// passes, or the connection closes.
//
// Nothing is recorded or written when the action is unknown, the payload does not match
// the request shape, or the table refuses the entry.
func (c *Client) Send(ctx context.Context, action string, payload any) (*Future, error) {
	raw, err := c.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s payload: %w", action, err)
	}

	if c.catalog != nil {
		binding, ok := c.catalog.Lookup(action)
		if !ok {
			return nil, fmt.Errorf("client: %w: %s", ErrUnknownAction, action)
		}
		if err := binding.Validate(catalog.Request, raw); err != nil {
			return nil, fmt.Errorf("client: %s request: %w", action, err)
		}
	}

	id := c.nextID()
	frame, err := protocol.Encode(&message.Call{UniqueID: id, Action: action, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("client: encode %s call: %w", action, err)
	}

	now := time.Now()
	pc := &PendingCall{
		MessageID: id,
		Action:    action,
		IssuedAt:  now,
		Deadline:  now.Add(c.timeout),
	}
	pc.future = newFuture(pc, c.codec)

	// Register before writing so a fast response always finds its entry.
	if err := c.table.Insert(pc); err != nil {
		return nil, fmt.Errorf("client: %s: %w", action, err)
	}

	if err := c.sender.Send(ctx, frame); err != nil {
		err = fmt.Errorf("client: send %s: %w", action, err)
		if taken, ok := c.table.Take(id, StateConnectionClosed); ok {
			taken.future.complete(nil, err)
		}
		return nil, err
	}

	if c.onSent != nil {
		c.onSent(action)
	}
	c.logger.Debug("client: call sent", "action", action, "message_id", id)
	return pc.future, nil
}

// Call sends a request and waits for its response, decoding the payload into reply.
// A timeout or a full pipeline is retried according to the retry policy.
func (c *Client) Call(ctx context.Context, action string, payload, reply any) error {
	for attempt := 0; ; attempt++ {
		err := c.call(ctx, action, payload, reply)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= c.retry.MaxRetries {
			return err
		}

		delay := c.retry.backoff(attempt)
		c.logger.Warn("client: retrying call",
			"action", action, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) call(ctx context.Context, action string, payload, reply any) error {
	future, err := c.Send(ctx, action, payload)
	if err != nil {
		return err
	}
	return future.Decode(ctx, reply)
}

// MaxRetryDelay caps the exponential backoff between retries.
const MaxRetryDelay = time.Minute

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxRetryDelay)
}

func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrPipelineFull)
}

// HandleResponse resolves the pending call matching a CallResult or CallError.
// It returns ErrUnmatchedResponse when no call with that id is pending, which
// includes responses arriving after the call timed out.
func (c *Client) HandleResponse(frame message.Frame) error {
	switch f := frame.(type) {
	case *message.CallResult:
		pc, ok := c.table.Take(f.UniqueID, StateResolved)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnmatchedResponse, f.UniqueID)
		}
		if binding, ok := c.catalog.Lookup(pc.Action); ok {
			if err := binding.Validate(catalog.Response, f.Payload); err != nil {
				c.logger.Warn("client: response violates action shape",
					"action", pc.Action, "message_id", pc.MessageID, "error", err)
				pc.future.complete(nil, &ProtocolViolationError{Action: pc.Action, MessageID: pc.MessageID, Err: err})
				return nil
			}
		}
		pc.future.complete(f.Payload, nil)
		return nil

	case *message.CallError:
		pc, ok := c.table.Take(f.UniqueID, StateResolved)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnmatchedResponse, f.UniqueID)
		}
		pc.future.complete(nil, &RemoteError{
			Action:      pc.Action,
			MessageID:   pc.MessageID,
			Code:        f.ErrorCode,
			Description: f.ErrorDescription,
			Details:     f.ErrorDetails,
		})
		return nil

	default:
		return fmt.Errorf("client: %s is not a response", frame.MessageType())
	}
}

// Supervise resolves overdue calls every scan interval until ctx ends.
// A call therefore times out no earlier than its deadline and no later than one scan
// interval after it.
func (c *Client) Supervise(ctx context.Context) error {
	ticker := time.NewTicker(c.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.ExpireOverdue(now)
		}
	}
}

// ExpireOverdue resolves every call whose deadline is not after now with a TimeoutError
// and returns how many it resolved.
func (c *Client) ExpireOverdue(now time.Time) int {
	expired := c.table.TakeExpired(now)
	for _, pc := range expired {
		terr := &TimeoutError{Action: pc.Action, MessageID: pc.MessageID, Elapsed: now.Sub(pc.IssuedAt)}
		c.logger.Warn("client: call timed out",
			"action", pc.Action, "message_id", pc.MessageID, "elapsed", terr.Elapsed)
		pc.future.complete(nil, terr)
		if c.onTimeout != nil {
			c.onTimeout(terr)
		}
	}
	return len(expired)
}

// Close resolves every pending call with ErrConnectionClosed and refuses new ones.
// cause, when non-nil, is attached to the error the callers see.
func (c *Client) Close(cause error) {
	err := ErrConnectionClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}
	for _, pc := range c.table.Close() {
		pc.future.complete(nil, err)
	}
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int { return c.table.Len() }
