// Package registry advertises and discovers RPC endpoints in etcd.
//
//	Key:   /esprpc/{Service}/{Addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if a gateway dies, the lease expires and the
// entry is removed without a deregister.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyRoot = "/esprpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	log    *zap.Logger

	mu     sync.Mutex
	leases map[string]context.CancelFunc // key -> stops its KeepAlive
}

// NewEtcdRegistry connects to the given etcd endpoints. A nil logger disables logging.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, log *zap.Logger) (*EtcdRegistry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect %v: %w", endpoints, err)
	}
	return &EtcdRegistry{client: c, log: log, leases: make(map[string]context.CancelFunc)}, nil
}

func key(service, addr string) string { return keyRoot + service + "/" + addr }

func prefix(service string) string { return keyRoot + service + "/" }

// Register stores ep under a lease of ttl seconds and keeps the lease alive until
// Deregister or Close.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key with the lease attached
//  3. Start KeepAlive on a context owned by the registry, not the caller
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	k := key(service, ep.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", k, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive %s: %w", k, err)
	}

	r.mu.Lock()
	if old, ok := r.leases[k]; ok {
		old()
	}
	r.leases[k] = cancel
	r.mu.Unlock()

	// Drain KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("key", k))
	}()
	r.log.Info("endpoint registered", zap.String("key", k), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes an endpoint and stops renewing its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	k := key(service, addr)
	r.mu.Lock()
	if cancel, ok := r.leases[k]; ok {
		cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, k); err != nil {
		return fmt.Errorf("registry: delete %s: %w", k, err)
	}
	r.log.Info("endpoint deregistered", zap.String("key", k))
	return nil
}

// Discover returns every endpoint currently registered for service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, prefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", prefix(service), err)
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Watch emits the full endpoint list of service after every change under its
// prefix. The channel is closed when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		for resp := range r.client.Watch(ctx, prefix(service), clientv3.WithPrefix()) {
			if err := resp.Err(); err != nil {
				r.log.Warn("watch error", zap.String("service", service), zap.Error(err))
				continue
			}
			// Re-fetch the whole list rather than applying individual events
			eps, err := r.Discover(ctx, service)
			if err != nil {
				r.log.Warn("rediscover failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every lease renewal and closes the etcd client. Registered entries
// expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, cancel := range r.leases {
		cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
