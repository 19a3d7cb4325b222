package server

import (
	"esprpc/codec"
	"esprpc/protocol"
	"esprpc/wire"
)

// Stream is the emitter handed to a stream handler. Every Send becomes one push
// frame with invoke id 0, delivered to all attached links.
type Stream struct {
	d     *Dispatcher
	codec *codec.MethodCodec
}

// Method is "Service.Method" of the stream.
func (s *Stream) Method() string { return s.codec.FullName() }

// Send encodes v as the stream's element type and pushes it. It is safe to call
// from any goroutine.
func (s *Stream) Send(v any) error {
	buf := s.d.pool.Get()
	defer func() { s.d.pool.Put(buf) }()

	w := wire.NewWriter(buf[:0])
	if err := s.codec.AppendResponse(w, v); err != nil {
		return err
	}
	buf = w.Bytes()
	return s.d.emit(&protocol.Frame{MethodID: byte(s.codec.ID), Payload: buf})
}
