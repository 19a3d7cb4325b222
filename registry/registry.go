package registry

import "context"

// Transports an endpoint can advertise.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Endpoint is one reachable device or gateway serving a service.
type Endpoint struct {
	Addr         string `json:"addr"`      // host:port for tcp, URL for ws
	Transport    string `json:"transport"` // TransportTCP or TransportWebSocket
	ServiceIndex int    `json:"service_index"`
	Fingerprint  uint32 `json:"fingerprint"` // schema fingerprint the endpoint was built from
	Weight       int    `json:"weight,omitempty"` // for weighted balancing; 0 counts as 1
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	Watch(ctx context.Context, service string) <-chan []Endpoint
}

// Compatible keeps the endpoints built from the schema with the given fingerprint.
// Method ids are positional, so talking to any other endpoint would misroute calls.
func Compatible(eps []Endpoint, fingerprint uint32) []Endpoint {
	out := make([]Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Fingerprint == fingerprint {
			out = append(out, ep)
		}
	}
	return out
}
