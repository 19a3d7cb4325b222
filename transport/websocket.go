package transport

import (
	"context"
	"esprpc/protocol"
	"fmt"
	"sync"

	"golang.org/x/net/websocket"
)

// MessageLink carries one frame per binary WebSocket message.
type MessageLink struct {
	ws      *websocket.Conn
	sending sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// NewMessageLink wraps an open WebSocket connection.
func NewMessageLink(ws *websocket.Conn) *MessageLink {
	ws.PayloadType = websocket.BinaryFrame
	return &MessageLink{ws: ws, closed: make(chan struct{})}
}

// DialWebSocket opens a message link to url, e.g. "ws://device.local/rpc".
func DialWebSocket(ctx context.Context, url, origin string) (*MessageLink, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket config: %w", err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewMessageLink(ws), nil
}

// ReadFrame receives one message and parses it as a frame. A message shorter than
// its header or declared payload is an error; trailing bytes are ignored.
func (l *MessageLink) ReadFrame() (*protocol.Frame, error) {
	var msg []byte
	if err := websocket.Message.Receive(l.ws, &msg); err != nil {
		select {
		case <-l.closed:
			return nil, ErrClosed
		default:
			return nil, err
		}
	}
	return protocol.Unmarshal(msg)
}

func (l *MessageLink) WriteFrame(f *protocol.Frame) error {
	msg, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	l.sending.Lock()
	defer l.sending.Unlock()
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	return websocket.Message.Send(l.ws, msg)
}

func (l *MessageLink) Close() error {
	err := ErrClosed
	l.once.Do(func() {
		close(l.closed)
		err = l.ws.Close()
	})
	return err
}

func (l *MessageLink) RemoteAddr() string {
	if r := l.ws.Request(); r != nil && r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	if cfg := l.ws.Config(); cfg != nil && cfg.Location != nil {
		return cfg.Location.String()
	}
	return ""
}
