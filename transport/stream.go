package transport

import (
	"bufio"
	"bytes"
	"context"
	"esprpc/protocol"
	"fmt"
	"io"
	"net"
	"sync"
)

// StreamOption configures a stream link.
type StreamOption func(*StreamLink)

// WithPrefix wraps every outgoing frame in a leading marker and makes the reader
// skip input until the marker is seen. Serial consoles shared with log output use
// this to find frame starts.
func WithPrefix(marker []byte) StreamOption {
	return func(l *StreamLink) {
		l.prefix = append([]byte(nil), marker...)
		l.fallback = prefixFallback(l.prefix)
	}
}

// WithSuffix appends a trailing marker to every outgoing frame; the reader drops
// that many bytes after each frame.
func WithSuffix(marker []byte) StreamOption {
	return func(l *StreamLink) { l.suffix = append([]byte(nil), marker...) }
}

// WithName sets the address reported by RemoteAddr, for byte streams that have none.
func WithName(name string) StreamOption {
	return func(l *StreamLink) { l.name = name }
}

// StreamLink reads and writes back-to-back frames on a byte stream.
type StreamLink struct {
	rwc      io.ReadWriteCloser
	r        *bufio.Reader
	prefix   []byte
	fallback []int // fallback[i]: longest proper border of prefix[:i+1]
	suffix   []byte
	name     string

	sending sync.Mutex // Write lock: one frame (with markers) per Write call
	closed  chan struct{}
	once    sync.Once
}

// NewStreamLink frames rwc. net.Conn values report their peer address; other
// streams report the WithName value.
func NewStreamLink(rwc io.ReadWriteCloser, opts ...StreamOption) *StreamLink {
	l := &StreamLink{
		rwc:    rwc,
		r:      bufio.NewReaderSize(rwc, 4096),
		closed: make(chan struct{}),
	}
	if c, ok := rwc.(net.Conn); ok && c.RemoteAddr() != nil {
		l.name = c.RemoteAddr().String()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DialTCP connects to a device's stream endpoint.
func DialTCP(ctx context.Context, addr string, opts ...StreamOption) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewStreamLink(conn, opts...), nil
}

// ReadFrame blocks until one complete frame has arrived. Only one goroutine may
// read at a time.
func (l *StreamLink) ReadFrame() (*protocol.Frame, error) {
	// Step 1: With a prefix, discard input up to and including the marker
	if len(l.prefix) > 0 {
		if err := l.skipToPrefix(); err != nil {
			return nil, l.readErr(err)
		}
	}

	// Step 2: Header, then exactly payloadLen bytes
	f, err := protocol.Decode(l.r)
	if err != nil {
		return nil, l.readErr(err)
	}

	// Step 3: Drop the trailing marker
	if len(l.suffix) > 0 {
		if _, err := l.r.Discard(len(l.suffix)); err != nil {
			return nil, l.readErr(err)
		}
	}
	return f, nil
}

// skipToPrefix consumes input through the first complete prefix marker. A failed
// partial match falls back to the longest marker prefix that still matches, so
// markers that overlap themselves ("AAB" in "AAAB") are found.
func (l *StreamLink) skipToPrefix() error {
	matched := 0
	for matched < len(l.prefix) {
		b, err := l.r.ReadByte()
		if err != nil {
			return err
		}
		for matched > 0 && b != l.prefix[matched] {
			matched = l.fallback[matched-1]
		}
		if b == l.prefix[matched] {
			matched++
		}
	}
	return nil
}

// prefixFallback is the KMP failure table of marker.
func prefixFallback(marker []byte) []int {
	fb := make([]int, len(marker))
	k := 0
	for i := 1; i < len(marker); i++ {
		for k > 0 && marker[i] != marker[k] {
			k = fb[k-1]
		}
		if marker[i] == marker[k] {
			k++
		}
		fb[i] = k
	}
	return fb
}

// WriteFrame writes one frame, wrapped in the configured markers, as a single Write.
func (l *StreamLink) WriteFrame(f *protocol.Frame) error {
	var buf bytes.Buffer
	buf.Grow(len(l.prefix) + f.Size() + len(l.suffix))
	buf.Write(l.prefix)
	if err := protocol.Encode(&buf, f); err != nil {
		return err
	}
	buf.Write(l.suffix)

	l.sending.Lock()
	defer l.sending.Unlock()
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	_, err := l.rwc.Write(buf.Bytes())
	return err
}

func (l *StreamLink) Close() error {
	err := ErrClosed
	l.once.Do(func() {
		close(l.closed)
		err = l.rwc.Close()
	})
	return err
}

func (l *StreamLink) RemoteAddr() string { return l.name }

func (l *StreamLink) readErr(err error) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
		return err
	}
}
