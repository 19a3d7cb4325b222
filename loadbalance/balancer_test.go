package loadbalance

import (
	"errors"
	"esprpc/registry"
	"fmt"
	"testing"
)

var testEndpoints = []registry.Endpoint{
	{Addr: "10.0.0.1:7000", Transport: registry.TransportTCP, Weight: 10},
	{Addr: "10.0.0.2:7000", Transport: registry.TransportTCP, Weight: 5},
	{Addr: "10.0.0.3:7000", Transport: registry.TransportTCP, Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all endpoints in order
	for i := 0; i < 3; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Addr != testEndpoints[i].Addr {
			t.Fatalf("pick %d: expect %s, got %s", i, testEndpoints[i].Addr, ep.Addr)
		}
	}

	// Pick again, should wrap around to first
	ep, _ := b.Pick(testEndpoints)
	if ep.Addr != testEndpoints[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testEndpoints[0].Addr, ep.Addr)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("k")} {
		if _, err := b.Pick(nil); !errors.Is(err, ErrNoEndpoints) {
			t.Fatalf("%s: expect ErrNoEndpoints, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[ep.Addr]++
	}

	// Weight ratio is 10:5:10, so .1 and .3 should be ~2x of .2
	ratio := float64(counts["10.0.0.1:7000"]) / float64(counts["10.0.0.2:7000"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio .1/.2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	eps := []registry.Endpoint{{Addr: "a"}, {Addr: "b"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(eps); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	// Same key should always map to the same endpoint
	b := NewConsistentHashBalancer("device-123")
	ep1, _ := b.Pick(testEndpoints)
	ep2, _ := b.Pick(testEndpoints)
	if ep1.Addr != ep2.Addr {
		t.Fatalf("same key mapped to different endpoints: %s vs %s", ep1.Addr, ep2.Addr)
	}

	// Order of the list does not matter
	reversed := []registry.Endpoint{testEndpoints[2], testEndpoints[1], testEndpoints[0]}
	if ep, _ := b.Pick(reversed); ep.Addr != ep1.Addr {
		t.Fatalf("reordered set moved the key: %s vs %s", ep.Addr, ep1.Addr)
	}

	// Different keys should (likely) map to different endpoints
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, _ := NewConsistentHashBalancer(fmt.Sprintf("key-%d", i)).Pick(testEndpoints)
		seen[ep.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different endpoints, got %d", len(seen))
	}
}

func TestConsistentHashSurvivesOtherRemoval(t *testing.T) {
	// 删除一个不相关的节点，key 不应迁移
	for i := 0; i < 50; i++ {
		b := NewConsistentHashBalancer(fmt.Sprintf("dev-%d", i))
		owner, _ := b.Pick(testEndpoints)
		var rest []registry.Endpoint
		removed := false
		for _, ep := range testEndpoints {
			if ep.Addr != owner.Addr && !removed {
				removed = true
				continue
			}
			rest = append(rest, ep)
		}
		if ep, _ := b.Pick(rest); ep.Addr != owner.Addr {
			t.Fatalf("key dev-%d moved from %s to %s", i, owner.Addr, ep.Addr)
		}
	}
}
