package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Recover turns a handler panic into an error so one bad call cannot take the
// link down.
func Recover(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic", zap.String("method", call.Method), zap.Any("panic", r), zap.Stack("stack"))
					result, err = nil, fmt.Errorf("middleware: %s panicked: %v", call.Method, r)
				}
			}()
			return next(ctx, call)
		}
	}
}
