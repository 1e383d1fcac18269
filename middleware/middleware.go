// Package middleware wraps the handlers that answer inbound Calls.
package middleware

import (
	"context"

	"ocpp-rpc/message"
)

// HandlerFunc answers one inbound Call. The returned value is marshalled into the
// CallResult payload; a non-nil error becomes a CallError.
type HandlerFunc func(ctx context.Context, call *message.Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件，第一个中间件在最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
