package server

import (
	"context"
	"errors"
	"esprpc/address"
	"esprpc/codec"
	"esprpc/middleware"
	"esprpc/protocol"
	"esprpc/schema"
	"esprpc/wire"
	"fmt"
	"sync"
)

var (
	ErrUnknownMethod = errors.New("server: unknown method")
	ErrNotHandled    = errors.New("server: method has no handler")
	ErrNoInvokeID    = errors.New("server: request without invoke id")
	ErrNoListeners   = errors.New("server: stream push has no attached links")
)

// Handler serves a request/response method with dynamic args in parameter order.
type Handler func(ctx context.Context, args []any) (any, error)

// StreamHandler serves a stream invocation. It may keep s and Send from any
// goroutine after returning.
type StreamHandler func(ctx context.Context, s *Stream) error

type entry struct {
	codec  *codec.MethodCodec
	decode func(r *wire.Reader, call *middleware.Call) error
	invoke middleware.HandlerFunc
}

// Dispatcher decodes, invokes and encodes the calls of one service. It handles
// one frame at a time and owns a scratch arena (reader, args, response buffer)
// that is reused across calls.
type Dispatcher struct {
	codecs  *codec.Table
	service *schema.Service
	entries [address.MaxIndex + 1]*entry

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	sinkMu sync.RWMutex
	sink   func(*protocol.Frame) error
	pool   *BufferPool

	mu     sync.Mutex // one frame fully handled before the next
	reader *wire.Reader
	out    *wire.Writer
	call   middleware.Call
}

// NewDispatcher creates an empty dispatcher for service. Methods are bound with
// Handle, HandleStream or NewService.
func NewDispatcher(codecs *codec.Table, service string) (*Dispatcher, error) {
	svc, ok := codecs.Schema().Service(service)
	if !ok {
		return nil, fmt.Errorf("server: unknown service %q", service)
	}
	d := &Dispatcher{
		codecs:  codecs,
		service: svc,
		pool:    NewBufferPool(protocol.DefaultMaxFrame, 4),
		reader:  wire.NewReader(nil, codecs.Limits()),
		out:     wire.NewWriter(make([]byte, 0, protocol.DefaultMaxFrame)),
	}
	d.handler = d.invoke
	return d, nil
}

// Service is the name of the service this dispatcher serves.
func (d *Dispatcher) Service() string { return d.service.Name }

// Index is the service's address nibble.
func (d *Dispatcher) Index() int { return d.service.Index }

func (d *Dispatcher) method(name string) (*codec.MethodCodec, error) {
	m, ok := d.codecs.Lookup(d.service.Name + "." + name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, d.service.Name, name)
	}
	return m, nil
}

// Handle binds a request/response method to h.
func (d *Dispatcher) Handle(method string, h Handler) error {
	m, err := d.method(method)
	if err != nil {
		return err
	}
	if m.Stream {
		return fmt.Errorf("server: %s is a stream method, use HandleStream", m.FullName())
	}
	d.bind(&entry{
		codec: m,
		decode: func(r *wire.Reader, call *middleware.Call) (err error) {
			call.Args, err = m.ReadRequest(r, call.Args)
			return err
		},
		invoke: func(ctx context.Context, call *middleware.Call) (any, error) {
			return h(ctx, call.Args)
		},
	})
	return nil
}

// HandleStream binds a stream method to h.
func (d *Dispatcher) HandleStream(method string, h StreamHandler) error {
	m, err := d.method(method)
	if err != nil {
		return err
	}
	if !m.Stream {
		return fmt.Errorf("server: %s is not a stream method", m.FullName())
	}
	s := &Stream{d: d, codec: m}
	d.bind(&entry{
		codec:  m,
		decode: func(*wire.Reader, *middleware.Call) error { return nil },
		invoke: func(ctx context.Context, call *middleware.Call) (any, error) {
			return nil, h(ctx, s)
		},
	})
	return nil
}

func (d *Dispatcher) bind(e *entry) {
	d.mu.Lock()
	d.entries[e.codec.ID.Method()] = e
	d.mu.Unlock()
}

// Use appends middlewares around every handler of this dispatcher.
func (d *Dispatcher) Use(mws ...middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mws...)
	d.handler = middleware.Chain(d.middlewares...)(d.invoke)
}

// SetSink sets where stream pushes go. The server points it at its broadcast.
func (d *Dispatcher) SetSink(sink func(*protocol.Frame) error) {
	d.sinkMu.Lock()
	d.sink = sink
	d.sinkMu.Unlock()
}

func (d *Dispatcher) emit(f *protocol.Frame) error {
	d.sinkMu.RLock()
	sink := d.sink
	d.sinkMu.RUnlock()
	if sink == nil {
		return ErrNoListeners
	}
	return sink(f)
}

// invoke is the innermost handler of the middleware chain.
func (d *Dispatcher) invoke(ctx context.Context, call *middleware.Call) (any, error) {
	e := d.entries[call.ID.Method()]
	return e.invoke(ctx, call)
}

// Dispatch handles one frame addressed to this service and returns the response
// frame, or nil when none is owed (stream invocations and void methods sent
// with invoke id 0). An error means no
// response is sent; it is returned for logging only.
//
// The response payload lives in the dispatcher's scratch buffer and is valid only
// until the next Dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	id := address.MethodID(f.MethodID)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Step 1: Route by the method nibble
	if id.Service() != d.service.Index {
		return nil, fmt.Errorf("%w: %s is not in service %s", ErrUnknownMethod, id, d.service.Name)
	}
	e := d.entries[id.Method()]
	if e == nil {
		if _, ok := d.codecs.Method(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotHandled, id)
	}
	// invokeId 0 is a stream invocation or a one-way void call; anything else
	// would owe a response nobody can match
	oneWay := f.InvokeID == 0
	if oneWay && !e.codec.Stream && e.codec.Result != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInvokeID, e.codec.FullName())
	}

	// Step 2: Decode params into the scratch args
	d.call = middleware.Call{
		Method:   e.codec.FullName(),
		ID:       id,
		InvokeID: f.InvokeID,
		Args:     d.call.Args[:0],
		Remote:   remoteFrom(ctx),
	}
	d.reader.Reset(f.Payload)
	if err := e.decode(d.reader, &d.call); err != nil {
		return nil, fmt.Errorf("server: decode %s: %w", e.codec.FullName(), err)
	}

	// Step 3: Run the middleware chain and the handler
	result, err := d.handler(ctx, &d.call)
	if err != nil {
		return nil, err
	}
	if e.codec.Stream || oneWay {
		return nil, nil
	}

	// Step 4: Encode the result into the reused response buffer
	d.out.Reset()
	if err := e.codec.AppendResponse(d.out, result); err != nil {
		return nil, err
	}
	return &protocol.Frame{MethodID: f.MethodID, InvokeID: f.InvokeID, Payload: d.out.Bytes()}, nil
}

type remoteKey struct{}

// WithRemote tags ctx with the peer address reported to handlers.
func WithRemote(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteKey{}, addr)
}

func remoteFrom(ctx context.Context) string {
	addr, _ := ctx.Value(remoteKey{}).(string)
	return addr
}
