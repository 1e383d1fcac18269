package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ocpp-rpc/message"
)

var ErrHandlerTimeout = errors.New("handler timed out")

// ErrHandlerPanic wraps a panic raised by a handler running behind TimeOutMiddleware.
var ErrHandlerPanic = errors.New("handler panicked")

// TimeOutMiddleware stops waiting for a handler after timeout. The handler's context is
// cancelled; a handler that ignores it keeps running but its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
					}
				}()
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
