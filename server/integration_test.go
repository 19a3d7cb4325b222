package server

import (
	"context"
	"esprpc/client"
	"esprpc/loadbalance"
	"esprpc/middleware"
	"esprpc/registry"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

// 完整端到端测试
// 链路: Client → Registry(etcd) → LB → Link → Protocol → Codec → Middleware → Dispatcher → 反射调用
func TestFullIntegrationWithEtcd(t *testing.T) {
	endpoints := os.Getenv("ESPRPC_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ESPRPC_ETCD_ENDPOINTS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 1. 连接 etcd
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	if err != nil {
		t.Fatalf("failed to connect etcd: %v", err)
	}
	defer reg.Close()

	// 2. 启动 2 个 Server，挂载中间件，注册到 etcd
	table := testTable(t)
	var servers []*Server
	for i := 0; i < 2; i++ {
		srv := NewServer(table, WithRegistry(reg, 10))
		srv.Use(middleware.Recover(nil))
		if err := srv.Register("Calc", &Calc{}); err != nil {
			t.Fatal(err)
		}
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		go srv.Serve(l)
		if err := srv.Advertise(ctx, l.Addr().String(), registry.TransportTCP); err != nil {
			t.Fatal(err)
		}
		servers = append(servers, srv)
	}
	defer func() {
		for _, srv := range servers {
			srv.Shutdown(context.Background())
		}
	}()

	// 3. 通过 etcd + 轮询连到两个实例，各发几个请求
	bal := &loadbalance.RoundRobinBalancer{}
	add := table.Addresses().MustID("Calc.Add")
	for i := 1; i <= 4; i++ {
		c, err := client.DialService(ctx, reg, "Calc", bal, table, client.Config{})
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		got, err := c.Call(ctx, add, []any{i, i * 10})
		c.Disconnect()
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if got != int32(i+i*10) {
			t.Fatalf("request %d: expect %d, got %v", i, i+i*10, got)
		}
	}
	t.Log("Full integration test with etcd passed!")
}
