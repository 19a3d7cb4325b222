// Package protocol implements the binary frame shared by devices and clients.
//
// Every frame is a fixed 5-byte header followed by the payload. There is no magic,
// no version and no checksum: on a stream-oriented link the receiver reads the
// header, then exactly payloadLen bytes, and the next frame starts right after. A
// single lost byte desynchronizes the link for good.
//
// Frame format:
//
//	0    1          3           5
//	┌────┬──────────┬───────────┬─────────────────────┐
//	│ mid│ invokeId │ payloadLen│     payload ...     │
//	│ u8 │  u16 LE  │  u16 LE   │ payloadLen bytes    │
//	└────┴──────────┴───────────┴─────────────────────┘
//
// mid packs the service index (high nibble) and method index (low nibble). An
// invokeId of 0 marks an unsolicited stream push or a stream invocation.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize = 5      // 1 (methodId) + 2 (invokeId) + 2 (payloadLen)
	MaxPayload = 0xFFFF // payloadLen is 16 bits

	// DefaultMaxFrame is the frame block size on bounded device targets.
	DefaultMaxFrame = 2048
)

var (
	ErrShortHeader     = errors.New("protocol: message shorter than the frame header")
	ErrShortPayload    = errors.New("protocol: message shorter than its declared payload")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 65535 bytes")
	ErrFrameTooLarge   = errors.New("protocol: frame exceeds the configured limit")
)

// Frame is one addressed unit on the wire.
type Frame struct {
	MethodID byte   // Packed (service, method) address
	InvokeID uint16 // Correlates a response with its call; 0 for stream traffic
	Payload  []byte // Encoded params, result or push value
}

// Size is the number of bytes the frame occupies on the wire.
func (f *Frame) Size() int { return HeaderSize + len(f.Payload) }

func (f *Frame) String() string {
	return fmt.Sprintf("frame{mid=0x%02x invoke=%d len=%d}", f.MethodID, f.InvokeID, len(f.Payload))
}

// Limits caps frame sizes on a link. Zero MaxFrame means only the 16-bit payload
// ceiling applies.
type Limits struct {
	MaxFrame int
}

// DefaultLimits match the device frame pool.
func DefaultLimits() Limits { return Limits{MaxFrame: DefaultMaxFrame} }

// Check reports whether f fits within l.
func (l Limits) Check(f *Frame) error {
	if len(f.Payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	if l.MaxFrame > 0 && f.Size() > l.MaxFrame {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, f.Size(), l.MaxFrame)
	}
	return nil
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return dst, ErrPayloadTooLarge
	}
	dst = append(dst, f.MethodID)
	dst = binary.LittleEndian.AppendUint16(dst, f.InvokeID)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Payload)))
	return append(dst, f.Payload...), nil
}

// Marshal encodes f as one message for a message-oriented link.
func Marshal(f *Frame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, f.Size()), f)
}

// Unmarshal parses one message. Bytes after the declared payload are ignored. The
// returned payload aliases msg.
func Unmarshal(msg []byte) (*Frame, error) {
	if len(msg) < HeaderSize {
		return nil, ErrShortHeader
	}
	n := int(binary.LittleEndian.Uint16(msg[3:5]))
	if len(msg)-HeaderSize < n {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrShortPayload, n, len(msg)-HeaderSize)
	}
	return &Frame{
		MethodID: msg[0],
		InvokeID: binary.LittleEndian.Uint16(msg[1:3]),
		Payload:  msg[HeaderSize : HeaderSize+n],
	}, nil
}

// Encode writes a complete frame to w as a single Write call.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different calls will interleave and corrupt the stream.
func Encode(w io.Writer, f *Frame) error {
	buf, err := Marshal(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads a complete frame from a stream-oriented reader.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Frame, error) {
	// Step 1: Read the fixed 5-byte header
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	// Step 2: Parse the header fields
	f := &Frame{
		MethodID: header[0],
		InvokeID: binary.LittleEndian.Uint16(header[1:3]),
	}
	n := binary.LittleEndian.Uint16(header[3:5])

	// Step 3: Read exactly payloadLen bytes; the next frame starts right after
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return f, nil
}
