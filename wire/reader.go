package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Reader is a cursor over one payload. Every method either consumes exactly the
// bytes its encoding occupies or returns a *DecodeError and leaves the cursor where
// the failed value began.
type Reader struct {
	buf    []byte
	off    int
	limits Limits
}

// NewReader reads buf under the given limits.
func NewReader(buf []byte, limits Limits) *Reader {
	return &Reader{buf: buf, limits: limits}
}

// Reset points the Reader at a new payload, keeping its limits.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.off = 0
}

func (r *Reader) Limits() Limits { return r.limits }

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n > r.Remaining() {
		return nil, &DecodeError{Offset: r.off, What: what, Err: ErrShortPayload}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.u32("int32")
	return int32(v), err
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.u64("int64")
	return int64(v), err
}

func (r *Reader) Uint32() (uint32, error) { return r.u32("uint32") }

func (r *Reader) Uint64() (uint64, error) { return r.u64("uint64") }

func (r *Reader) Float() (float32, error) {
	v, err := r.u32("float")
	return math.Float32frombits(v), err
}

func (r *Reader) Double() (float64, error) {
	v, err := r.u64("double")
	return math.Float64frombits(v), err
}

// Enum reads the 4-byte resolved enum number. Any int32 is accepted.
func (r *Reader) Enum() (int32, error) {
	v, err := r.u32("enum")
	return int32(v), err
}

func (r *Reader) Bool() (bool, error) { return r.flag("bool") }

// OptionalTag reads the presence byte of an OPTIONAL value.
func (r *Reader) OptionalTag() (bool, error) { return r.flag("optional tag") }

// Str reads a length-prefixed string. The whole wire string is consumed and must
// be valid UTF-8; at most Limits.MaxString bytes of it are returned.
func (r *Reader) Str() (string, error) {
	b, err := r.StringBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StringBytes is Str without the copy: the result aliases the payload.
func (r *Reader) StringBytes() ([]byte, error) {
	start := r.off
	hdr, err := r.take(2, "string length")
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr))
	b, err := r.take(n, "string")
	if err != nil {
		r.off = start
		return nil, err
	}
	if !utf8.Valid(b) {
		r.off = start
		return nil, &DecodeError{Offset: start, What: "string", Err: ErrMalformedUTF8}
	}
	return Clip(b, r.limits.MaxString), nil
}

// ListCount reads a list header. count is the number of encoded elements that must
// be consumed; keep is how many of them the caller should retain. minElem is the
// smallest number of bytes one element can occupy: a count that cannot possibly fit
// in the rest of the payload is rejected up front.
func (r *Reader) ListCount(minElem int) (count, keep int, err error) {
	start := r.off
	v, err := r.u32("list count")
	if err != nil {
		return 0, 0, err
	}
	count = int(v)
	if minElem > 0 && uint64(v)*uint64(minElem) > uint64(r.Remaining()) {
		r.off = start
		return 0, 0, &DecodeError{Offset: start, What: "list", Err: ErrShortPayload}
	}
	keep = count
	if r.limits.MaxList > 0 && keep > r.limits.MaxList {
		keep = r.limits.MaxList
	}
	return count, keep, nil
}

func (r *Reader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) u64(what string) (uint64, error) {
	b, err := r.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) flag(what string) (bool, error) {
	b, err := r.take(1, what)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	if r.limits.Bool == BoolStrict {
		r.off--
		return false, &DecodeError{Offset: r.off, What: what, Err: ErrInvalidBool}
	}
	return true, nil
}
