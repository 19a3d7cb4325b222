package loadbalance

import (
	"esprpc/registry"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps a fixed key (a client or device id) onto a hash
// ring of endpoints. The key keeps landing on the same endpoint until that
// endpoint leaves; only keys owned by a departed endpoint move.
//
// Each endpoint is placed on the ring as N virtual nodes for an even spread.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int // virtual nodes per endpoint

	mu    sync.Mutex
	set   string   // joined addrs the ring was built from
	ring  []uint32 // sorted hash values
	nodes map[uint32]string
}

// NewConsistentHashBalancer pins key with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: 100}
}

// rebuild places every endpoint on the ring, hashing "{addr}#{i}" per virtual node.
func (b *ConsistentHashBalancer) rebuild(eps []registry.Endpoint, set string) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(eps)*b.replicas)
	for _, ep := range eps {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = ep.Addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	b.set = set
}

// Pick returns the endpoint owning the balancer's key. The ring is rebuilt only
// when the endpoint set changes.
func (b *ConsistentHashBalancer) Pick(eps []registry.Endpoint) (*registry.Endpoint, error) {
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}
	addrs := make([]string, len(eps))
	for i, ep := range eps {
		addrs[i] = ep.Addr
	}
	sort.Strings(addrs)
	set := strings.Join(addrs, ",")

	b.mu.Lock()
	if set != b.set {
		b.rebuild(eps, set)
	}
	hash := crc32.ChecksumIEEE([]byte(b.key))
	// First node with hash >= key's hash, wrapping to the start of the ring
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range eps {
		if eps[i].Addr == addr {
			return &eps[i], nil
		}
	}
	return nil, ErrNoEndpoints
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
