package middleware

import (
	"context"
	"log/slog"
	"time"

	"ocpp-rpc/message"
)

func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			duration := time.Since(start)
			if err != nil {
				logger.Warn("handler failed",
					"action", call.Action, "message_id", call.UniqueID, "duration", duration, "error", err)
				return result, err
			}
			logger.Debug("handler done", "action", call.Action, "message_id", call.UniqueID, "duration", duration)
			return result, nil
		}
	}
}
