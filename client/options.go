package client

import (
	"context"
	"esprpc/codec"
	"esprpc/registry"
	"esprpc/transport"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultCallTimeout = 2 * time.Second

// Config tunes a Conn. The zero value is usable.
type Config struct {
	CallTimeout   time.Duration // per call unless overridden with WithTimeout; default 2s
	Logger        *zap.Logger
	OnStateChange func(State) // called on every transition, outside the Conn lock
	Origin        string      // WebSocket origin for DialEndpoint; default "http://localhost/"
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Origin == "" {
		c.Origin = "http://localhost/"
	}
	return c
}

type callOptions struct {
	timeout time.Duration
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// WithTimeout overrides the method and Config timeouts for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Dialer opens a link; Dial wraps it in a Conn.
type Dialer func(ctx context.Context) (transport.Link, error)

// Dial creates a Conn in the connecting state and opens its link. A failed dial
// leaves nothing behind; retrying means calling Dial again.
func Dial(ctx context.Context, dial Dialer, codecs *codec.Table, cfg Config) (*Conn, error) {
	c := newConn(codecs, cfg)
	c.notify(StateConnecting)

	link, err := dial(ctx)
	if err != nil {
		c.shutdown(err)
		return nil, err
	}
	c.start(link)
	return c, nil
}

// DialEndpoint dials an endpoint found in the registry over the transport it
// advertises. Endpoints built from a different schema are refused.
func DialEndpoint(ctx context.Context, ep registry.Endpoint, codecs *codec.Table, cfg Config) (*Conn, error) {
	if fp := codecs.Schema().Fingerprint(); ep.Fingerprint != 0 && ep.Fingerprint != fp {
		return nil, fmt.Errorf("client: endpoint %s schema %08x, local schema %08x", ep.Addr, ep.Fingerprint, fp)
	}
	origin := cfg.withDefaults().Origin
	var dial Dialer
	switch ep.Transport {
	case registry.TransportTCP, "":
		dial = func(ctx context.Context) (transport.Link, error) { return transport.DialTCP(ctx, ep.Addr) }
	case registry.TransportWebSocket:
		dial = func(ctx context.Context) (transport.Link, error) { return transport.DialWebSocket(ctx, ep.Addr, origin) }
	default:
		return nil, fmt.Errorf("client: endpoint %s: unknown transport %q", ep.Addr, ep.Transport)
	}
	return Dial(ctx, dial, codecs, cfg)
}
