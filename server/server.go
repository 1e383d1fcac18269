// Package server answers inbound Calls: it maps an action name to a handler, runs the
// handler behind the middleware chain and turns the outcome into exactly one CallResult
// or CallError.
//
// Processing pipeline for one Call:
//
//	unknown action?  → CallError(NotImplemented)
//	no handler?      → CallError(NotSupported)
//	request invalid? → CallError(Type/Property/OccurrenceConstraintViolation)
//	  → Middleware Chain → handler (panics recovered) → marshal → response shape check → CallResult
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"ocpp-rpc/catalog"
	"ocpp-rpc/codec"
	"ocpp-rpc/message"
	"ocpp-rpc/middleware"
)

type Options struct {
	Catalog *catalog.Set // nil accepts every action without payload checks
	Codec   codec.Codec
	Logger  *slog.Logger
}

// Dispatcher is the handler table of one endpoint. It is not shared between connections
// unless the caller shares it.
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    map[string]middleware.HandlerFunc
	middlewares []middleware.Middleware
	catalog     *catalog.Set
	codec       codec.Codec
	logger      *slog.Logger
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]middleware.HandlerFunc),
		catalog:  opts.Catalog,
		codec:    opts.Codec,
		logger:   opts.Logger,
	}
	if d.codec == nil {
		d.codec = codec.GetCodec(codec.CodecTypeJSON)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Register binds handler to action, replacing any earlier handler. The action must be
// in the catalog.
func (d *Dispatcher) Register(action string, handler middleware.HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("server: nil handler for %s", action)
	}
	if !d.catalog.Known(action) {
		return fmt.Errorf("server: %w: %s", ErrUnknownAction, action)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
	return nil
}

// RegisterService registers every method of rcvr shaped like
// Action(ctx, *Req) (*Conf, error) whose name is a catalog action.
func (d *Dispatcher) RegisterService(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}

	registered := 0
	for name, mType := range svc.method {
		if !d.catalog.Known(name) {
			continue
		}
		if err := d.Register(name, svc.handler(mType, d.codec)); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("server: %s has no methods named after catalog actions", svc.name)
	}
	d.logger.Debug("server: service registered", "service", svc.name, "actions", registered)
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
}

// Actions returns the actions with a registered handler, sorted.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actions := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// Dispatch answers call. The returned frame is always a *message.CallResult or a
// *message.CallError carrying call's message id.
func (d *Dispatcher) Dispatch(ctx context.Context, call *message.Call) (reply message.Frame) {
	// Encoding a result may run user MarshalJSON methods; a panic there is answered too.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("server: dispatch panicked",
				"action", call.Action, "message_id", call.UniqueID, "panic", r, "stack", string(debug.Stack()))
			reply = message.NewCallError(call.UniqueID, message.InternalError, "", nil)
		}
	}()
	return d.dispatch(ctx, call)
}

func (d *Dispatcher) dispatch(ctx context.Context, call *message.Call) message.Frame {
	id := call.UniqueID

	if call.UnknownAction || !d.catalog.Known(call.Action) {
		return message.NewCallError(id, message.NotImplemented,
			fmt.Sprintf("action %q is not implemented", call.Action), nil)
	}

	d.mu.RLock()
	handler, ok := d.handlers[call.Action]
	chain := middleware.Chain(d.middlewares...)
	d.mu.RUnlock()
	if !ok {
		return message.NewCallError(id, message.NotSupported,
			fmt.Sprintf("action %q is not supported by this endpoint", call.Action), nil)
	}

	binding, hasBinding := d.catalog.Lookup(call.Action)
	if hasBinding {
		if err := binding.Validate(catalog.Request, call.Payload); err != nil {
			return violationFrame(id, err)
		}
	}

	result, err := d.invoke(ctx, chain(handler), call)
	if err != nil {
		return d.errorFrame(call, err)
	}

	payload, err := d.codec.Encode(result)
	if err != nil {
		d.logger.Error("server: result not serialisable", "action", call.Action, "message_id", id, "error", err)
		return message.NewCallError(id, message.InternalError, "handler result could not be encoded", nil)
	}

	if hasBinding {
		if err := binding.Validate(catalog.Response, payload); err != nil {
			d.logger.Error("server: handler result violates response shape",
				"action", call.Action, "message_id", id, "error", err)
			return message.NewCallError(id, message.InternalError, "handler produced an invalid response", nil)
		}
	}

	return &message.CallResult{UniqueID: id, Payload: payload}
}

// invoke runs the handler and turns a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, h middleware.HandlerFunc, call *message.Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("server: handler panicked",
				"action", call.Action, "message_id", call.UniqueID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, &panicError{value: r}
		}
	}()
	return h(ctx, call)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("handler panic: %v", p.value) }

func (d *Dispatcher) errorFrame(call *message.Call, err error) *message.CallError {
	var de *DispatchError
	switch {
	case errors.As(err, &de):
		return de.toCallError(call.UniqueID)
	case errors.Is(err, middleware.ErrRateLimited):
		return message.NewCallError(call.UniqueID, message.GenericError, err.Error(), nil)
	case errors.Is(err, middleware.ErrHandlerPanic):
		d.logger.Error("server: handler panicked", "action", call.Action, "message_id", call.UniqueID, "error", err)
		return message.NewCallError(call.UniqueID, message.InternalError, "", nil)
	default:
		var pe *panicError
		if !errors.As(err, &pe) {
			d.logger.Warn("server: handler failed", "action", call.Action, "message_id", call.UniqueID, "error", err)
		}
		return message.NewCallError(call.UniqueID, message.InternalError, "", nil)
	}
}

func violationFrame(id string, err error) *message.CallError {
	var ve *catalog.ViolationError
	if errors.As(err, &ve) {
		return message.NewCallError(id, ve.ErrorCode(), ve.Error(), ve.Details())
	}
	return message.NewCallError(id, message.FormatViolation, err.Error(), nil)
}
