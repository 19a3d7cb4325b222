package server

import (
	"context"
	"esprpc/codec"
	"esprpc/middleware"
	"esprpc/wire"
	"fmt"
	"reflect"

	"go.uber.org/multierr"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	streamType  = reflect.TypeOf((*Stream)(nil))
)

// NewService 把 rcvr 的导出方法按名字绑定到 service 的各个方法上
//
// Accepted method shapes, ctx optional everywhere:
//
//	func (r *T) Add(ctx context.Context, a, b int32) (int32, error)
//	func (r *T) Reset(ctx context.Context) error
//	func (r *T) Ticks(ctx context.Context, s *server.Stream) error
//
// Params bind through the reflection codec: *T for OPTIONAL(T), []T for LIST(T),
// Go structs for schema structs. Every schema method must have a Go method.
func NewService(codecs *codec.Table, service string, rcvr any) (*Dispatcher, error) {
	// 1. 用 reflect.TypeOf / ValueOf 获取类型和值
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	d, err := NewDispatcher(codecs, service)
	if err != nil {
		return nil, err
	}
	val := reflect.ValueOf(rcvr)

	// 2. 逐个 schema 方法找同名 Go 方法，错误一次性汇总
	var errs error
	for _, sm := range d.service.Methods {
		m, err := d.method(sm.Name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		gm, ok := typ.MethodByName(sm.Name)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("rpc: %s has no method %s", typ, sm.Name))
			continue
		}
		e, err := bindMethod(d, m, val, gm)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		d.bind(e)
	}
	if errs != nil {
		return nil, errs
	}
	return d, nil
}

func bindMethod(d *Dispatcher, m *codec.MethodCodec, rcvr reflect.Value, gm reflect.Method) (*entry, error) {
	ft := gm.Type
	bad := func(want string) error {
		return fmt.Errorf("rpc: %s.%s must look like %s, got %s", rcvr.Type(), gm.Name, want, ft)
	}

	first := 1 // In(0) is the receiver
	hasCtx := ft.NumIn() > 1 && ft.In(1) == contextType
	if hasCtx {
		first++
	}

	// 3. 流方法：(ctx?, *Stream) error
	if m.Stream {
		if ft.NumIn() != first+1 || ft.In(first) != streamType || ft.NumOut() != 1 || ft.Out(0) != errorType {
			return nil, bad("func([context.Context,] *server.Stream) error")
		}
		s := &Stream{d: d, codec: m}
		return &entry{
			codec:  m,
			decode: func(*wire.Reader, *middleware.Call) error { return nil },
			invoke: func(ctx context.Context, call *middleware.Call) (any, error) {
				in := []reflect.Value{rcvr}
				if hasCtx {
					in = append(in, reflect.ValueOf(ctx))
				}
				return nil, callErr(gm.Func.Call(append(in, reflect.ValueOf(s))))
			},
		}, nil
	}

	// 4. 普通方法：参数个数与 schema 一致，返回 (R, error) 或 error
	params := make([]reflect.Type, 0, len(m.Params))
	for i := first; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}
	wantOut := 2
	if m.Result == nil {
		wantOut = 1
	}
	if len(params) != len(m.Params) || ft.NumOut() != wantOut || ft.Out(wantOut-1) != errorType {
		if m.Result == nil {
			return nil, bad(fmt.Sprintf("func([context.Context,] %d params) error", len(m.Params)))
		}
		return nil, bad(fmt.Sprintf("func([context.Context,] %d params) (R, error)", len(m.Params)))
	}

	return &entry{
		codec: m,
		decode: func(r *wire.Reader, call *middleware.Call) error {
			argv := make([]reflect.Value, len(params))
			for i, t := range params {
				argv[i] = reflect.New(t).Elem()
			}
			if err := m.ReadRequestInto(r, argv); err != nil {
				return err
			}
			for _, v := range argv {
				call.Args = append(call.Args, v.Interface())
			}
			return nil
		},
		invoke: func(ctx context.Context, call *middleware.Call) (any, error) {
			in := make([]reflect.Value, 0, first+len(params))
			in = append(in, rcvr)
			if hasCtx {
				in = append(in, reflect.ValueOf(ctx))
			}
			for i, t := range params {
				if call.Args[i] == nil {
					in = append(in, reflect.Zero(t))
					continue
				}
				v := reflect.ValueOf(call.Args[i])
				if !v.Type().AssignableTo(t) {
					return nil, fmt.Errorf("rpc: %s arg %d is %s, want %s", call.Method, i, v.Type(), t)
				}
				in = append(in, v)
			}
			out := gm.Func.Call(in)
			if err := callErr(out); err != nil {
				return nil, err
			}
			if len(out) == 1 {
				return nil, nil
			}
			return out[0].Interface(), nil
		},
	}, nil
}

// callErr extracts the trailing error of a reflected call.
func callErr(out []reflect.Value) error {
	if last := out[len(out)-1]; !last.IsNil() {
		return last.Interface().(error)
	}
	return nil
}
