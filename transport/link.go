// Package transport binds the frame protocol to concrete duplex channels.
//
// Two shapes exist, matching how the peers talk to devices:
//
//	stream-oriented   TCP, serial      frames back to back in one byte stream,
//	                                   optionally wrapped in prefix/suffix markers
//	message-oriented  WebSocket        one binary message = one frame
//
// Both satisfy Link. A Link allows one reader goroutine and any number of writers:
// writes are serialized internally so frames from concurrent calls never interleave.
package transport

import (
	"errors"
	"esprpc/protocol"
	"net"
)

// ErrClosed is returned by operations on a Link after Close.
var ErrClosed = errors.New("transport: link closed")

// Link carries whole frames over one connection.
type Link interface {
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(f *protocol.Frame) error
	Close() error
	RemoteAddr() string
}

// Pipe returns two connected in-memory stream links.
func Pipe(opts ...StreamOption) (Link, Link) {
	a, b := net.Pipe()
	return NewStreamLink(a, opts...), NewStreamLink(b, opts...)
}
