package wire

import (
	"encoding/binary"
	"math"
)

// Writer appends encodings to a byte slice. The zero value is ready to use; Reset
// lets a dispatcher reuse one buffer across calls.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer that appends to buf[:0].
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Reset truncates the buffer, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Bytes returns the encoded payload. It aliases the Writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

func (w *Writer) PutUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) PutUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) PutFloat(v float32) { w.PutUint32(math.Float32bits(v)) }

func (w *Writer) PutDouble(v float64) { w.PutUint64(math.Float64bits(v)) }

// PutString writes the 2-byte length and the raw bytes. Strings over 65535 bytes
// cannot be described by the prefix and fail with ErrStringTooLong.
func (w *Writer) PutString(s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// PutOptionalTag writes the presence byte of an OPTIONAL value.
func (w *Writer) PutOptionalTag(present bool) { w.PutBool(present) }

// PutListCount writes the 4-byte element count of a LIST value.
func (w *Writer) PutListCount(n int) error {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return ErrListTooLong
	}
	w.PutUint32(uint32(n))
	return nil
}
