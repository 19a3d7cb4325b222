package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging records every call with its duration, at debug level for successes and
// warn level for failures.
func Logging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.Stringer("id", call.ID),
				zap.Uint16("invoke", call.InvokeID),
				zap.Duration("duration", time.Since(start)),
			}
			if call.Remote != "" {
				fields = append(fields, zap.String("remote", call.Remote))
			}
			if err != nil {
				log.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("call", fields...)
			}
			return result, err
		}
	}
}
