// Package middleware wraps request handlers in the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"
	"esprpc/address"
)

// Call is one decoded invocation as seen by the handler chain. Args belong to the
// dispatcher and are only valid until the handler returns.
type Call struct {
	Method   string // "Service.Method"
	ID       address.MethodID
	InvokeID uint16 // 0 for stream invocations
	Args     []any
	Remote   string
}

// HandlerFunc handles a call. A nil error with a nil result answers a void method;
// a non-nil error means no response is sent.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
