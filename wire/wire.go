// Package wire holds the byte-level encoding rules every codec backend shares.
//
// All multi-byte values are little-endian. Nothing is tagged or aligned: a payload is
// the back-to-back encodings of its values, and only the schema tells a reader where
// one ends and the next begins.
//
//	int32 uint32 enum   4B
//	int64 uint64        8B
//	bool                1B    0 = false, 1 = true
//	float / double      4B / 8B IEEE-754
//	string              2B length + UTF-8 bytes
//	OPTIONAL(T)         1B tag, then T iff tag != 0
//	LIST(T)             4B count, then count × T
//
// Readers may be bounded by Limits. A string or list longer than its limit is still
// consumed in full so the cursor stays aligned for the fields that follow; only the
// retained part is cut.
package wire

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxStringLen is the longest string the 2-byte length prefix can describe.
const MaxStringLen = 0xFFFF

// BoolPolicy decides how a byte other than 0 or 1 reads as a bool or optional tag.
type BoolPolicy uint8

const (
	// BoolLenient treats any nonzero byte as true, like the device and browser peers.
	BoolLenient BoolPolicy = iota
	// BoolStrict rejects bytes other than 0 and 1 with a DecodeError.
	BoolStrict
)

// Limits bound what a Reader retains. Zero means unbounded.
type Limits struct {
	MaxString int // bytes retained per string
	MaxList   int // elements retained per list
	Bool      BoolPolicy
}

// Sentinel causes carried by DecodeError.
var (
	ErrShortPayload  = errors.New("payload shorter than required")
	ErrMalformedUTF8 = errors.New("malformed UTF-8")
	ErrInvalidBool   = errors.New("invalid bool byte")
	ErrStringTooLong = errors.New("string longer than 65535 bytes")
	ErrListTooLong   = errors.New("list longer than 2^32-1 elements")
)

// DecodeError reports where in a payload decoding failed.
type DecodeError struct {
	Offset int
	What   string // the value being read, e.g. "int32", "string"
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %s at offset %d: %v", e.What, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Clip returns at most limit bytes of b, cut back so a multi-byte rune is never
// split. A limit of zero or less returns b unchanged.
func Clip(b []byte, limit int) []byte {
	if limit <= 0 || len(b) <= limit {
		return b
	}
	n := limit
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return b[:n]
}

// ClipString is Clip for strings.
func ClipString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
