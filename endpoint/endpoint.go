// Package endpoint runs one OCPP-J connection: it reads frames from a transport in
// arrival order, routes responses to the pending call table and inbound Calls to the
// dispatcher, and expires overdue calls in the background.
//
//	transport ──Receive──→ protocol.Decode ─┬─ CallResult/CallError → client.HandleResponse
//	                                        └─ Call → semaphore → server.Dispatch → transport
//	supervisor ──tick──→ client.ExpireOverdue
//
// Responses never wait on handlers: each inbound Call is handled on its own goroutine,
// at most MaxInflightCalls at a time; further Calls queue on the semaphore.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ocpp-rpc/catalog"
	"ocpp-rpc/client"
	"ocpp-rpc/codec"
	"ocpp-rpc/events"
	"ocpp-rpc/message"
	"ocpp-rpc/middleware"
	"ocpp-rpc/protocol"
	"ocpp-rpc/server"
	"ocpp-rpc/transport"
)

const logPrefix = "endpoint"

const DefaultMaxInflightCalls = 8

// UnmatchedPolicy says what happens to a response that matches no pending call.
type UnmatchedPolicy string

const (
	// UnmatchedDrop logs and drops the response.
	UnmatchedDrop UnmatchedPolicy = "drop"
	// UnmatchedReply also answers it with CallError(InternalError).
	UnmatchedReply UnmatchedPolicy = "reply"
)

func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch p := UnmatchedPolicy(s); p {
	case UnmatchedDrop, UnmatchedReply:
		return p, nil
	case "":
		return UnmatchedDrop, nil
	default:
		return "", fmt.Errorf("%s - unknown unmatched response policy %q", logPrefix, s)
	}
}

type Options struct {
	// ChargePointID identifies the peer in logs and events.
	ChargePointID string
	// Catalog is the action set of the negotiated subprotocol. Nil disables catalog checks.
	Catalog *catalog.Set

	CallTimeout             time.Duration
	ScanInterval            time.Duration
	StrictSingleOutstanding bool
	MaxInflightCalls        int64
	UnmatchedResponses      UnmatchedPolicy
	// AnswerMalformedFrames sends a CallError for an undecodable Call whose id could be read.
	AnswerMalformedFrames bool
	Retry                 client.RetryPolicy

	Codec       codec.Codec
	IDGenerator client.IDGenerator
	Logger      *slog.Logger
	Publisher   events.Publisher
	Metrics     *Metrics
}

// Endpoint is one side of an OCPP-J connection. It is both the caller of remote actions
// and the server of local ones.
type Endpoint struct {
	id          string
	subprotocol string
	transport   transport.Transport
	client      *client.Client
	dispatcher  *server.Dispatcher
	decoder     *protocol.Decoder

	inflight        *semaphore.Weighted
	handlers        sync.WaitGroup
	unmatched       UnmatchedPolicy
	answerMalformed bool
	logger          *slog.Logger
	publisher       events.Publisher
	metrics         *Metrics

	closeOnce sync.Once
	closed    chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
}

func New(t transport.Transport, opts Options) *Endpoint {
	e := &Endpoint{
		id:              opts.ChargePointID,
		subprotocol:     opts.Catalog.Subprotocol(),
		transport:       t,
		decoder:         protocol.NewDecoder(opts.Catalog.Known),
		unmatched:       opts.UnmatchedResponses,
		answerMalformed: opts.AnswerMalformedFrames,
		logger:          opts.Logger,
		publisher:       opts.Publisher,
		metrics:         opts.Metrics,
		closed:          make(chan struct{}),
		done:            make(chan struct{}),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("charge_point", e.id)
	if e.publisher == nil {
		e.publisher = &events.NoOpPublisher{}
	}
	if e.unmatched == "" {
		e.unmatched = UnmatchedDrop
	}
	limit := opts.MaxInflightCalls
	if limit <= 0 {
		limit = DefaultMaxInflightCalls
	}
	e.inflight = semaphore.NewWeighted(limit)

	e.client = client.New(t, client.Options{
		Timeout:                 opts.CallTimeout,
		ScanInterval:            opts.ScanInterval,
		StrictSingleOutstanding: opts.StrictSingleOutstanding,
		Catalog:                 opts.Catalog,
		Codec:                   opts.Codec,
		IDGenerator:             opts.IDGenerator,
		Logger:                  e.logger,
		Retry:                   opts.Retry,
		OnTimeout:               e.onTimeout,
		OnSent:                  e.metrics.callSent,
	})
	e.dispatcher = server.NewDispatcher(server.Options{
		Catalog: opts.Catalog,
		Codec:   opts.Codec,
		Logger:  e.logger,
	})
	return e
}

// ID returns the charge point identity this endpoint talks to or acts as.
func (e *Endpoint) ID() string { return e.id }

// Subprotocol returns the OCPP version spoken on this connection, if a catalog is set.
func (e *Endpoint) Subprotocol() string { return e.subprotocol }

// Send writes a Call and returns a future for its response. See client.Client.Send.
func (e *Endpoint) Send(ctx context.Context, action string, payload any) (*client.Future, error) {
	return e.client.Send(ctx, action, payload)
}

// Call sends a Call and decodes the response into reply, retrying timeouts per the
// configured retry policy.
func (e *Endpoint) Call(ctx context.Context, action string, payload, reply any) error {
	return e.client.Call(ctx, action, payload, reply)
}

// Register binds a handler to an inbound action.
func (e *Endpoint) Register(action string, handler middleware.HandlerFunc) error {
	return e.dispatcher.Register(action, handler)
}

// RegisterService registers the action methods of rcvr. See server.Dispatcher.RegisterService.
func (e *Endpoint) RegisterService(rcvr any) error {
	return e.dispatcher.RegisterService(rcvr)
}

// Use adds a middleware around every inbound handler.
func (e *Endpoint) Use(mw middleware.Middleware) {
	e.dispatcher.Use(mw)
}

// Pending returns the number of outbound calls awaiting a response.
func (e *Endpoint) Pending() int { return e.client.Pending() }

// Done is closed once Close has been called or Run has returned.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) markDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Run serves the connection until the transport fails, ctx ends or Close is called.
// Before returning it resolves every pending call with client.ErrConnectionClosed and
// waits for in-flight handlers. It returns nil after Close, ctx's error after
// cancellation, and the transport error otherwise. Run must be called at most once.
func (e *Endpoint) Run(ctx context.Context) error {
	parent := ctx
	e.publish(ctx, &events.Event{Kind: events.KindConnected})
	e.logger.Info(fmt.Sprintf("%s:run - serving connection", logPrefix), "subprotocol", e.subprotocol)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Always returns non-nil so the group tears down with it.
		return e.readLoop(gctx)
	})
	g.Go(func() error {
		return e.client.Supervise(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-e.closed:
		}
		return e.transport.Close()
	})
	err := g.Wait()

	e.client.Close(err)
	e.handlers.Wait()
	defer e.markDone()

	switch {
	case e.isClosed():
		err = nil
	case parent.Err() != nil:
		err = parent.Err()
	}

	e.logger.Info(fmt.Sprintf("%s:run - connection finished", logPrefix), "error", err)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	e.publish(context.WithoutCancel(parent), &events.Event{Kind: events.KindDisconnected, Detail: detail})
	return err
}

// Close closes the transport and resolves every pending call with
// client.ErrConnectionClosed. It is safe to call more than once.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.markDone()
		err = e.transport.Close()
		e.client.Close(nil)
	})
	return err
}

func (e *Endpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *Endpoint) readLoop(ctx context.Context) error {
	for {
		raw, err := e.transport.Receive(ctx)
		if err != nil {
			return fmt.Errorf("%s:read - %w", logPrefix, err)
		}
		e.handleFrame(ctx, raw)
	}
}

// handleFrame processes one raw frame. It never blocks on a handler.
func (e *Endpoint) handleFrame(ctx context.Context, raw []byte) {
	frame, err := e.decoder.Decode(raw)
	if err != nil {
		e.rejectFrame(ctx, raw, err)
		return
	}
	e.metrics.frameReceived(frame.MessageType().String())

	switch f := frame.(type) {
	case *message.Call:
		e.acceptCall(ctx, f)
	default:
		if err := e.client.HandleResponse(frame); err != nil {
			e.unmatchedResponse(ctx, frame, err)
		}
	}
}

func (e *Endpoint) acceptCall(ctx context.Context, call *message.Call) {
	e.handlers.Add(1)
	if e.inflight.TryAcquire(1) {
		go e.serveCall(ctx, call)
		return
	}
	e.logger.Debug(fmt.Sprintf("%s:dispatch - handler limit reached, queueing", logPrefix),
		"action", call.Action, "message_id", call.UniqueID)
	go func() {
		if err := e.inflight.Acquire(ctx, 1); err != nil {
			e.handlers.Done()
			return
		}
		e.serveCall(ctx, call)
	}()
}

// serveCall answers one inbound Call. The semaphore slot must already be held.
func (e *Endpoint) serveCall(ctx context.Context, call *message.Call) {
	defer e.handlers.Done()
	defer e.inflight.Release(1)

	e.metrics.handlerStarted()
	start := time.Now()
	reply := e.dispatcher.Dispatch(ctx, call)
	e.metrics.handlerFinished(call.Action, time.Since(start))

	if ce, ok := reply.(*message.CallError); ok {
		e.logger.Debug(fmt.Sprintf("%s:dispatch - answering with error", logPrefix),
			"action", call.Action, "message_id", call.UniqueID, "code", ce.ErrorCode)
	}
	e.write(ctx, reply)
}

func (e *Endpoint) write(ctx context.Context, frame message.Frame) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		e.logger.Error(fmt.Sprintf("%s:write - encode failed", logPrefix), "message_id", frame.MessageID(), "error", err)
		return
	}
	if err := e.transport.Send(ctx, raw); err != nil {
		if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
			e.logger.Debug(fmt.Sprintf("%s:write - connection gone, response dropped", logPrefix), "message_id", frame.MessageID())
			return
		}
		e.logger.Warn(fmt.Sprintf("%s:write - send failed", logPrefix), "message_id", frame.MessageID(), "error", err)
	}
}

// rejectFrame handles a frame that failed to decode. The connection stays open.
func (e *Endpoint) rejectFrame(ctx context.Context, raw []byte, err error) {
	var de *protocol.DecodeError
	if !errors.As(err, &de) {
		de = &protocol.DecodeError{Err: protocol.ErrNotRPCFrameworkCompliant, Reason: err.Error()}
	}
	code := de.ErrorCode()

	e.logger.Warn(fmt.Sprintf("%s:read - frame rejected", logPrefix),
		"code", code, "message_id", de.MessageID, "error", de, "frame", truncate(raw, 256))
	e.metrics.frameRejected(string(code))
	e.publish(ctx, &events.Event{
		Kind:      events.KindFrameRejected,
		MessageID: de.MessageID,
		ErrorCode: string(code),
		Detail:    de.Error(),
	})

	if e.answerMalformed && de.MessageType == message.MessageTypeCall && de.MessageID != "" {
		e.write(ctx, message.NewCallError(de.MessageID, code, de.Error(), nil))
	}
}

func (e *Endpoint) unmatchedResponse(ctx context.Context, frame message.Frame, err error) {
	e.logger.Warn(fmt.Sprintf("%s:read - unmatched response", logPrefix),
		"type", frame.MessageType(), "message_id", frame.MessageID(), "policy", e.unmatched)
	e.metrics.responseUnmatched()
	e.publish(ctx, &events.Event{
		Kind:      events.KindResponseUnmatched,
		MessageID: frame.MessageID(),
		Detail:    err.Error(),
	})

	if e.unmatched == UnmatchedReply {
		e.write(ctx, message.NewCallError(frame.MessageID(), message.InternalError,
			"no pending call with this message id", nil))
	}
}

func (e *Endpoint) onTimeout(terr *client.TimeoutError) {
	e.metrics.callTimedOut(terr.Action)
	e.publish(context.Background(), &events.Event{
		Kind:      events.KindCallTimeout,
		MessageID: terr.MessageID,
		Action:    terr.Action,
		Detail:    terr.Error(),
	})
}

func (e *Endpoint) publish(ctx context.Context, event *events.Event) {
	event.ChargePointID = e.id
	event.Subprotocol = e.subprotocol
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn(fmt.Sprintf("%s:events - publish failed", logPrefix), "kind", event.Kind, "error", err)
	}
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
