package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// etcd 不在时跳过
func testRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("ESPRPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ESPRPC_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	ep1 := Endpoint{Addr: "127.0.0.1:8001", Transport: TransportTCP, ServiceIndex: 0, Fingerprint: 0xabcd}
	ep2 := Endpoint{Addr: "ws://127.0.0.1:8002/rpc", Transport: TransportWebSocket, ServiceIndex: 0, Fingerprint: 0xabcd}

	if err := reg.Register(ctx, "Calc", ep1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "Calc", ep2, 10); err != nil {
		t.Fatal(err)
	}

	eps, err := reg.Discover(ctx, "Calc")
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expect 2 endpoints, got %d", len(eps))
	}

	if err := reg.Deregister(ctx, "Calc", ep1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	eps, err = reg.Discover(ctx, "Calc")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Endpoint{ep2}, eps); diff != "" {
		t.Fatalf("endpoints after deregister (-want +got):\n%s", diff)
	}

	reg.Deregister(ctx, "Calc", ep2.Addr)
}

func TestWatch(t *testing.T) {
	reg := testRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := reg.Watch(ctx, "Led")
	ep := Endpoint{Addr: "127.0.0.1:8003", Transport: TransportTCP, ServiceIndex: 1}
	if err := reg.Register(ctx, "Led", ep, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "Led", ep.Addr)

	select {
	case eps := <-ch:
		if len(eps) == 0 || eps[0].Addr != ep.Addr {
			t.Fatalf("watch delivered %v", eps)
		}
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
}

func TestCompatible(t *testing.T) {
	eps := []Endpoint{
		{Addr: "a", Fingerprint: 1},
		{Addr: "b", Fingerprint: 2},
		{Addr: "c", Fingerprint: 1},
	}
	got := Compatible(eps, 1)
	want := []Endpoint{{Addr: "a", Fingerprint: 1}, {Addr: "c", Fingerprint: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Compatible (-want +got):\n%s", diff)
	}
	if got := Compatible(eps, 3); len(got) != 0 {
		t.Fatalf("expect none, got %v", got)
	}
}
