// Package client implements the caller side of the protocol: one Conn per link,
// many concurrent calls multiplexed by invoke id, and stream pushes routed by
// method id.
//
//	goroutine-1 ──Call(invoke=1)──┐
//	goroutine-2 ──Call(invoke=2)──┼──→ one Link ──→ device
//	goroutine-3 ──Call(invoke=3)──┘
//
//	recvLoop: ←── response(invoke=2) → pending[2] → goroutine-2 wakes up
//	          ←── push(invoke=0, method=0x11) → subs[0x11] callback
//
// A Conn is single-use: once disconnected it stays disconnected and a new Conn
// must be dialled.
package client

import (
	"context"
	"errors"
	"esprpc/address"
	"esprpc/codec"
	"esprpc/protocol"
	"esprpc/transport"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout        = errors.New("client: call timed out")
	ErrDisconnected   = errors.New("client: disconnected")
	ErrNotConnected   = errors.New("client: not connected")
	ErrUnknownMethod  = errors.New("client: unknown method id")
	ErrStreamMethod   = errors.New("client: stream methods are opened, not called")
	ErrMethodMismatch = errors.New("client: response method id does not match the call")
	ErrNotVoid        = errors.New("client: only void methods can be sent one-way")
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// PushFunc receives the decoded values pushed for a subscribed method. It runs on
// the Conn's reader goroutine and must not block.
type PushFunc func(v any)

type result struct {
	v   any
	err error
}

type pendingCall struct {
	method *codec.MethodCodec
	decode func(payload []byte) (any, error)
	timer  *time.Timer
	done   chan result // buffered; written exactly once by whoever removes the entry
}

// Conn is one client session over a Link.
type Conn struct {
	link   transport.Link
	codecs *codec.Table
	cfg    Config
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	invokes address.InvokeAllocator
	pending map[uint16]*pendingCall
	subs    map[address.MethodID]PushFunc
	cause   error

	done chan struct{}
}

func newConn(codecs *codec.Table, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		codecs:  codecs,
		cfg:     cfg,
		log:     cfg.Logger,
		state:   StateConnecting,
		pending: make(map[uint16]*pendingCall),
		subs:    make(map[address.MethodID]PushFunc),
		done:    make(chan struct{}),
	}
}

// New starts a connected session on an already open link.
func New(link transport.Link, codecs *codec.Table, cfg Config) *Conn {
	c := newConn(codecs, cfg)
	c.start(link)
	return c
}

func (c *Conn) start(link transport.Link) {
	c.mu.Lock()
	c.link = link
	c.state = StateConnected
	c.mu.Unlock()
	c.log.Debug("connected", zap.String("remote", link.RemoteAddr()))
	c.notify(StateConnected)
	go c.recvLoop()
}

func (c *Conn) notify(s State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// State reports where the Conn is in its lifecycle.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the Conn is disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the Conn disconnected, or nil while it is usable.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Codecs is the codec table the Conn encodes and decodes with.
func (c *Conn) Codecs() *codec.Table { return c.codecs }

// Call invokes a request/response method and waits for its result. args are
// dynamic values in parameter order; the result comes back in the values form
// (codec.Record for structs, nil for void methods and absent optionals).
//
// The first of response, timeout, ctx cancellation and disconnect settles the
// call. The timeout is the method's own (from its schema options) when it has
// one, else Config.CallTimeout; WithTimeout overrides both. Cancelling ctx only abandons the call locally; the device still runs it.
func (c *Conn) Call(ctx context.Context, id address.MethodID, args []any, opts ...CallOption) (any, error) {
	m, err := c.method(id)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, m, args, m.DecodeResponse, opts)
}

// CallInto is Call with the result decoded into reply, a non-nil pointer to a Go
// value shaped like the method's return type.
func (c *Conn) CallInto(ctx context.Context, id address.MethodID, args []any, reply any, opts ...CallOption) error {
	m, err := c.method(id)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(reply)
	if m.Result != nil && (rv.Kind() != reflect.Pointer || rv.IsNil()) {
		return fmt.Errorf("client: %s: reply must be a non-nil pointer, got %T", m.FullName(), reply)
	}
	decode := func(payload []byte) (any, error) {
		if m.Result == nil {
			return nil, nil
		}
		return nil, codec.GetCodec(codec.CodecTypeBind, m.Result, m.Limits()).Decode(payload, reply)
	}
	_, err = c.call(ctx, m, args, decode, opts)
	return err
}

// Notify sends a void method one-way: the frame carries invoke id 0, nothing is
// registered and no response is awaited. Devices run such calls without replying.
func (c *Conn) Notify(ctx context.Context, id address.MethodID, args []any) error {
	m, err := c.method(id)
	if err != nil {
		return err
	}
	if m.Result != nil {
		return fmt.Errorf("%w: %s", ErrNotVoid, m.FullName())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := m.EncodeRequest(args)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return c.unusable()
	}
	link := c.link
	c.mu.Unlock()

	if err := link.WriteFrame(&protocol.Frame{MethodID: byte(m.ID), Payload: payload}); err != nil {
		return fmt.Errorf("client: notify %s: %w", m.FullName(), err)
	}
	return nil
}

func (c *Conn) method(id address.MethodID) (*codec.MethodCodec, error) {
	m, ok := c.codecs.Method(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, id)
	}
	if m.Stream {
		return nil, fmt.Errorf("%w: %s", ErrStreamMethod, m.FullName())
	}
	return m, nil
}

func (c *Conn) call(ctx context.Context, m *codec.MethodCodec, args []any, decode func([]byte) (any, error), opts []CallOption) (any, error) {
	co := callOptions{timeout: c.cfg.CallTimeout}
	if m.Timeout > 0 {
		co.timeout = m.Timeout
	}
	for _, opt := range opts {
		opt(&co)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 1: Encode before taking an invoke id so a bad argument costs nothing
	payload, err := m.EncodeRequest(args)
	if err != nil {
		return nil, err
	}

	// Step 2: Register the pending entry BEFORE sending so the response cannot
	// outrun it
	pc := &pendingCall{method: m, decode: decode, done: make(chan result, 1)}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, c.unusable()
	}
	invokeID, err := c.invokes.Next(func(id uint16) bool { _, ok := c.pending[id]; return ok })
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending[invokeID] = pc
	pc.timer = time.AfterFunc(co.timeout, func() {
		c.settle(invokeID, pc, result{err: fmt.Errorf("%w: %s invoke %d after %s", ErrTimeout, m.FullName(), invokeID, co.timeout)})
	})
	link := c.link
	c.mu.Unlock()

	// Step 3: Send
	f := &protocol.Frame{MethodID: byte(m.ID), InvokeID: invokeID, Payload: payload}
	if err := link.WriteFrame(f); err != nil {
		c.settle(invokeID, pc, result{err: fmt.Errorf("client: send %s: %w", m.FullName(), err)})
	}

	// Step 4: Wait; whoever removed the entry has already filled done
	select {
	case r := <-pc.done:
		return r.v, r.err
	case <-ctx.Done():
		c.settle(invokeID, pc, result{err: ctx.Err()})
		r := <-pc.done
		return r.v, r.err
	}
}

// unusable must be called with mu held.
func (c *Conn) unusable() error {
	if c.state == StateDisconnected {
		if c.cause != nil {
			return fmt.Errorf("%w: %v", ErrDisconnected, c.cause)
		}
		return ErrDisconnected
	}
	return ErrNotConnected
}

// claim removes the pending entry for id if it is still pc (or any entry when pc
// is nil) and stops its timer. Only the claimer may write to done.
func (c *Conn) claim(id uint16, pc *pendingCall) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.pending[id]
	if !ok || (pc != nil && cur != pc) {
		return nil
	}
	delete(c.pending, id)
	cur.timer.Stop()
	return cur
}

func (c *Conn) settle(id uint16, pc *pendingCall, r result) {
	if c.claim(id, pc) != nil {
		pc.done <- r
	}
}

// Subscribe routes pushes of method id to cb, replacing any previous callback.
func (c *Conn) Subscribe(id address.MethodID, cb PushFunc) error {
	if _, ok := c.codecs.Method(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, id)
	}
	c.mu.Lock()
	c.subs[id] = cb
	c.mu.Unlock()
	return nil
}

func (c *Conn) Unsubscribe(id address.MethodID) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// OpenStream subscribes cb to a stream method and sends its invocation frame.
func (c *Conn) OpenStream(ctx context.Context, id address.MethodID, cb PushFunc) error {
	m, ok := c.codecs.Method(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, id)
	}
	if !m.Stream {
		return fmt.Errorf("client: %s is not a stream method", m.FullName())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return c.unusable()
	}
	c.subs[id] = cb
	link := c.link
	c.mu.Unlock()

	if err := link.WriteFrame(&protocol.Frame{MethodID: byte(id)}); err != nil {
		return fmt.Errorf("client: open %s: %w", m.FullName(), err)
	}
	c.log.Debug("stream opened", zap.Stringer("method", id), zap.String("name", m.FullName()))
	return nil
}

// Disconnect fails every pending call with ErrDisconnected and closes the link.
// Subscriptions stay registered but nothing more is delivered.
func (c *Conn) Disconnect() error {
	return c.shutdown(nil)
}

func (c *Conn) shutdown(cause error) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnected
	c.cause = cause
	failed := c.pending
	c.pending = make(map[uint16]*pendingCall)
	for _, pc := range failed {
		pc.timer.Stop()
	}
	link := c.link
	c.mu.Unlock()

	err := ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrDisconnected, cause)
		c.log.Warn("link lost", zap.Error(cause), zap.Int("pending", len(failed)))
	} else {
		c.log.Debug("disconnected", zap.Int("pending", len(failed)))
	}
	for _, pc := range failed {
		pc.done <- result{err: err}
	}
	close(c.done)
	c.notify(StateDisconnected)

	if link == nil {
		return nil
	}
	if cerr := link.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		return cerr
	}
	return nil
}

// recvLoop is the only reader of the link. Frames are handled in arrival order;
// a read error ends the session.
func (c *Conn) recvLoop() {
	for {
		f, err := c.link.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				err = nil
			}
			c.shutdown(err)
			return
		}
		if f.InvokeID == 0 {
			c.push(f)
			continue
		}
		c.resolve(f)
	}
}

func (c *Conn) resolve(f *protocol.Frame) {
	pc := c.claim(f.InvokeID, nil)
	if pc == nil {
		// Timed out or abandoned; the id may already be reused, nothing to do
		c.log.Debug("dropping response without pending call",
			zap.Stringer("method", address.MethodID(f.MethodID)), zap.Uint16("invoke", f.InvokeID))
		return
	}
	if f.MethodID != byte(pc.method.ID) {
		pc.done <- result{err: fmt.Errorf("%w: %s invoke %d answered by %s",
			ErrMethodMismatch, pc.method.FullName(), f.InvokeID, address.MethodID(f.MethodID))}
		return
	}
	v, err := pc.decode(f.Payload)
	if err != nil {
		err = fmt.Errorf("client: decode %s response: %w", pc.method.FullName(), err)
	}
	pc.done <- result{v: v, err: err}
}

func (c *Conn) push(f *protocol.Frame) {
	id := address.MethodID(f.MethodID)
	c.mu.Lock()
	cb := c.subs[id]
	c.mu.Unlock()
	m, ok := c.codecs.Method(id)
	if cb == nil || !ok {
		c.log.Debug("dropping push without subscription", zap.Stringer("method", id))
		return
	}
	v, err := m.DecodeResponse(f.Payload)
	if err != nil {
		c.log.Warn("dropping undecodable push", zap.String("method", m.FullName()), zap.Error(err))
		return
	}
	cb(v)
}
