// Package loadbalance picks one endpoint among those a registry returned for a
// service.
//
// Three strategies are implemented:
//   - RoundRobin:      equal gateways, spread connections evenly
//   - WeightedRandom:  gateways of different capacity (Endpoint.Weight)
//   - ConsistentHash:  pin a client (by key) to the same gateway while the set holds
package loadbalance

import (
	"errors"
	"esprpc/registry"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one endpoint from the available list. Must be goroutine-safe.
	Pick(eps []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
