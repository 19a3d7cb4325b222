package client

import (
	"context"
	"esprpc/codec"
	"esprpc/loadbalance"
	"esprpc/registry"
	"fmt"

	"go.uber.org/zap"
)

// DialService looks service up in reg, keeps the endpoints built from the local
// schema, lets b choose one and dials it.
func DialService(ctx context.Context, reg registry.Registry, service string, b loadbalance.Balancer, codecs *codec.Table, cfg Config) (*Conn, error) {
	eps, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, err
	}
	eps = registry.Compatible(eps, codecs.Schema().Fingerprint())
	ep, err := b.Pick(eps)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", service, err)
	}
	cfg = cfg.withDefaults()
	cfg.Logger.Debug("endpoint picked",
		zap.String("service", service), zap.String("addr", ep.Addr), zap.String("balancer", b.Name()))
	return DialEndpoint(ctx, *ep, codecs, cfg)
}
