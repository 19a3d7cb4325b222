// Package codec compiles schema types into codec plans and runs them.
//
// A Plan is a small op tree built once per type by recursive descent over the
// resolved TypeRef. Each backend walks the same tree independently, which is what
// keeps their bytes interchangeable:
//
//	TypeRef ──Compile──► Plan ──┬── values  dynamic Go values (Record, []any)
//	                            ├── bind    Go structs through reflection
//	                            └── tsgen   TypeScript source (package codec/tsgen)
//
// Table pairs the plans with method addresses so both runtimes can encode and
// decode a frame payload by method id alone.
package codec

import (
	"esprpc/wire"
	"reflect"
)

type CodecType byte

const (
	CodecTypeValues CodecType = 0
	CodecTypeBind   CodecType = 1
)

// Codec encodes and decodes one plan's values to and from payload bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=Values, 1=Bind
}

// GetCodec returns the backend of the given type for plan p.
func GetCodec(codecType CodecType, p *Plan, limits wire.Limits) Codec {
	if codecType == CodecTypeValues {
		return &ValueCodec{Plan: p, Limits: limits}
	}
	return &BindCodec{Plan: p, Limits: limits}
}

// ValueCodec runs a plan over dynamic values. Decode stores into a *any.
type ValueCodec struct {
	Plan   *Plan
	Limits wire.Limits
}

func (c *ValueCodec) Encode(v any) ([]byte, error) {
	w := wire.NewWriter(nil)
	if err := c.Plan.WriteAny(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *ValueCodec) Decode(data []byte, v any) error {
	out, ok := v.(*any)
	if !ok {
		return &EncodeError{Path: "value", Op: c.Plan.Op, Err: ErrTypeMismatch}
	}
	dyn, err := c.Plan.ReadAny(wire.NewReader(data, c.Limits))
	if err != nil {
		return err
	}
	*out = dyn
	return nil
}

func (c *ValueCodec) Type() CodecType { return CodecTypeValues }

// BindCodec runs a plan over typed Go values. Decode stores through a pointer.
type BindCodec struct {
	Plan   *Plan
	Limits wire.Limits
}

func (c *BindCodec) Encode(v any) ([]byte, error) {
	w := wire.NewWriter(nil)
	if err := c.Plan.WriteReflect(w, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *BindCodec) Decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &EncodeError{Path: "value", Op: c.Plan.Op, Err: ErrTypeMismatch}
	}
	return c.Plan.ReadReflect(wire.NewReader(data, c.Limits), rv.Elem())
}

func (c *BindCodec) Type() CodecType { return CodecTypeBind }
