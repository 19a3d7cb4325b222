// Package server implements the device side of the protocol: service
// dispatchers, a middleware chain, links over TCP and WebSocket, stream pushes
// and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept / WebSocket upgrade → ServeLink (single reader per link)
//	  → route by service nibble → Dispatcher.Dispatch (one frame at a time)
//	    → decode params → middleware chain → handler → encode → write response
//
// Stream pushes bypass the pipeline: Stream.Send broadcasts to every attached link.
package server

import (
	"context"
	"errors"
	"esprpc/codec"
	"esprpc/middleware"
	"esprpc/protocol"
	"esprpc/registry"
	"esprpc/transport"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Option configures a Server.
type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLimits bounds inbound and outbound frames; oversized ones are dropped.
func WithLimits(l protocol.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// WithRegistry makes Advertise publish endpoints to reg under a lease of ttl seconds.
func WithRegistry(reg registry.Registry, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.ttl = ttl
	}
}

// Server hosts the dispatchers of one schema.
type Server struct {
	codecs      *codec.Table
	log         *zap.Logger
	limits      protocol.Limits
	pool        *BufferPool
	dispatchers map[int]*Dispatcher    // by service index
	middlewares []middleware.Middleware // applied to every dispatcher, in order

	registry   registry.Registry // nil if not using discovery
	ttl        int64
	advertised []advertised

	ctx    context.Context // cancelled by Shutdown; parent of every handler ctx
	cancel context.CancelFunc

	dispatching sync.Mutex // serializes frames across all links
	linksMu     sync.Mutex
	links       map[transport.Link]struct{}
	listeners   []net.Listener
	wg          sync.WaitGroup // tracks live links for graceful shutdown
	shutdown    atomic.Bool
}

type advertised struct {
	service string
	addr    string
}

// NewServer creates a server for the schema compiled into codecs.
func NewServer(codecs *codec.Table, opts ...Option) *Server {
	s := &Server{
		codecs:      codecs,
		log:         zap.NewNop(),
		limits:      protocol.DefaultLimits(),
		dispatchers: make(map[int]*Dispatcher),
		links:       make(map[transport.Link]struct{}),
		ttl:         10,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewBufferPool(s.limits.MaxFrame, 16)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register binds the methods of rcvr to service and mounts the result.
func (s *Server) Register(service string, rcvr any) error {
	d, err := NewService(s.codecs, service, rcvr)
	if err != nil {
		return err
	}
	return s.Mount(d)
}

// Mount attaches a dispatcher built on this server's codec table.
func (s *Server) Mount(d *Dispatcher) error {
	if d.codecs != s.codecs {
		return fmt.Errorf("server: dispatcher %s was built on another codec table", d.Service())
	}
	if old, ok := s.dispatchers[d.Index()]; ok {
		return fmt.Errorf("server: service %s already mounted", old.Service())
	}
	d.pool = s.pool
	d.Use(s.middlewares...)
	d.SetSink(s.broadcast)
	s.dispatchers[d.Index()] = d
	return nil
}

// Use registers a middleware on every dispatcher, mounted now or later.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
	for _, d := range s.dispatchers {
		d.Use(mw)
	}
}

// ListenAndServe listens on a TCP address and serves stream links.
func (s *Server) ListenAndServe(network, address string, opts ...transport.StreamOption) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(l, opts...)
}

// Serve accepts connections on l and serves each as a stream link. It returns nil
// after Shutdown.
func (s *Server) Serve(l net.Listener, opts ...transport.StreamOption) error {
	s.linksMu.Lock()
	s.listeners = append(s.listeners, l)
	s.linksMu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			// Closing the listener during shutdown makes Accept fail on purpose
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.ServeLink(transport.NewStreamLink(conn, opts...))
	}
}

// WebSocketHandler serves browser clients: every binary message is one frame.
func (s *Server) WebSocketHandler() http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		s.ServeLink(transport.NewMessageLink(ws))
	})
}

// ServeLink reads frames from link until it fails or the server shuts down. The
// link is closed on return.
func (s *Server) ServeLink(link transport.Link) error {
	if !s.attach(link) {
		link.Close()
		return transport.ErrClosed
	}
	defer s.detach(link)

	remote := link.RemoteAddr()
	s.log.Debug("link attached", zap.String("remote", remote))
	ctx := WithRemote(s.ctx, remote)
	for {
		f, err := link.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, io.EOF) {
				s.log.Debug("link closed", zap.String("remote", remote))
				return nil
			}
			s.log.Warn("link read failed", zap.String("remote", remote), zap.Error(err))
			return err
		}
		s.handle(ctx, link, f)
	}
}

func (s *Server) attach(link transport.Link) bool {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.links[link] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) detach(link transport.Link) {
	s.linksMu.Lock()
	delete(s.links, link)
	s.linksMu.Unlock()
	link.Close()
	s.wg.Done()
}

// handle processes one inbound frame; nothing it hits is fatal to the link.
func (s *Server) handle(ctx context.Context, link transport.Link, f *protocol.Frame) {
	if err := s.limits.Check(f); err != nil {
		s.log.Warn("dropping oversized request", zap.Stringer("frame", f), zap.Error(err))
		return
	}
	d, ok := s.dispatchers[int(f.MethodID>>4)]
	if !ok {
		s.log.Debug("dropping frame for unknown service", zap.Stringer("frame", f))
		return
	}

	s.dispatching.Lock()
	defer s.dispatching.Unlock()

	resp, err := d.Dispatch(ctx, f)
	if err != nil {
		s.log.Debug("no response", zap.Stringer("frame", f), zap.Error(err))
		return
	}
	if resp == nil {
		return
	}
	if err := s.limits.Check(resp); err != nil {
		s.log.Warn("dropping oversized response", zap.Stringer("frame", resp), zap.Error(err))
		return
	}
	if err := link.WriteFrame(resp); err != nil {
		s.log.Debug("response write failed", zap.String("remote", link.RemoteAddr()), zap.Error(err))
	}
}

// broadcast pushes f to every attached link. A failing link does not stop the rest.
func (s *Server) broadcast(f *protocol.Frame) error {
	if err := s.limits.Check(f); err != nil {
		s.log.Warn("dropping oversized push", zap.Stringer("frame", f), zap.Error(err))
		return err
	}
	s.linksMu.Lock()
	links := make([]transport.Link, 0, len(s.links))
	for l := range s.links {
		links = append(links, l)
	}
	s.linksMu.Unlock()
	if len(links) == 0 {
		return ErrNoListeners
	}

	var errs error
	for _, l := range links {
		errs = multierr.Append(errs, l.WriteFrame(f))
	}
	return errs
}

// Advertise publishes every mounted service at addr over the given transport
// (registry.TransportTCP or registry.TransportWebSocket).
func (s *Server) Advertise(ctx context.Context, addr, transportName string) error {
	if s.registry == nil {
		return errors.New("server: no registry configured")
	}
	fp := s.codecs.Schema().Fingerprint()
	var errs error
	for idx, d := range s.dispatchers {
		ep := registry.Endpoint{Addr: addr, Transport: transportName, ServiceIndex: idx, Fingerprint: fp}
		if err := s.registry.Register(ctx, d.Service(), ep, s.ttl); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.linksMu.Lock()
		s.advertised = append(s.advertised, advertised{service: d.Service(), addr: addr})
		s.linksMu.Unlock()
	}
	return errs
}

// Shutdown performs graceful shutdown:
//  1. Deregister every advertised endpoint (clients stop finding this server)
//  2. Set the shutdown flag, then close the listeners
//  3. Let the frame being dispatched finish, then close every link
//  4. Wait for the link goroutines, bounded by ctx
func (s *Server) Shutdown(ctx context.Context) error {
	var errs error

	// Step 1: Deregister FIRST
	s.linksMu.Lock()
	ads := s.advertised
	s.advertised = nil
	s.linksMu.Unlock()
	for _, ad := range ads {
		errs = multierr.Append(errs, s.registry.Deregister(ctx, ad.service, ad.addr))
	}

	// Step 2: Flag before closing so Serve returns nil
	s.shutdown.Store(true)
	s.linksMu.Lock()
	for _, l := range s.listeners {
		errs = multierr.Append(errs, l.Close())
	}
	s.listeners = nil
	links := make([]transport.Link, 0, len(s.links))
	for l := range s.links {
		links = append(links, l)
	}
	s.linksMu.Unlock()

	// Step 3: Wait out the in-flight frame, cancel handler contexts, close links
	s.dispatching.Lock()
	s.cancel()
	s.dispatching.Unlock()
	for _, l := range links {
		if err := l.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}

	// Step 4
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("server: waiting for links: %w", ctx.Err()))
	}
	return errs
}
