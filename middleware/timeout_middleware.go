package middleware

import (
	"context"
	"errors"
	"time"
)

var ErrHandlerTimeout = errors.New("middleware: handler timed out")

type outcome struct {
	result any
	err    error
}

// Timeout abandons a handler that runs longer than timeout. The handler keeps
// running with a cancelled context and its own copy of the args.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// The dispatcher reuses Args for the next frame
			own := *call
			own.Args = append([]any(nil), call.Args...)

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, &own)
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
