package config

import (
	"errors"
	"esprpc/client"
	"esprpc/registry"
	"esprpc/server"

	"go.uber.org/zap"
)

var ErrNoRegistry = errors.New("config: no registry endpoints configured")

// ClientConfig is the client.Config for these settings.
func (c Config) ClientConfig(log *zap.Logger) client.Config {
	return client.Config{
		CallTimeout: c.Client.CallTimeout.Duration,
		Origin:      c.Client.Origin,
		Logger:      log,
	}
}

// Open connects to the configured etcd cluster.
func (r Registry) Open(log *zap.Logger) (*registry.EtcdRegistry, error) {
	if len(r.Endpoints) == 0 {
		return nil, ErrNoRegistry
	}
	return registry.NewEtcdRegistry(r.Endpoints, r.DialTimeout.Duration, log)
}

// ServerOptions are the server.Options for these settings. reg may be nil when the
// server does not advertise itself.
func (c Config) ServerOptions(log *zap.Logger, reg registry.Registry) []server.Option {
	opts := []server.Option{
		server.WithLogger(log),
		server.WithLimits(c.Dispatch.FrameLimits()),
	}
	if reg != nil {
		opts = append(opts, server.WithRegistry(reg, c.Registry.TTLSeconds()))
	}
	return opts
}
