package codec

import (
	"esprpc/wire"
	"fmt"
	"math"
	"reflect"
)

// Record is the dynamic form of a struct value: field name to field value.
type Record map[string]any

// WriteAny encodes a dynamic Go value under p.
//
//	int32 int64 uint32 uint64   the matching Go type, or int within range
//	enum                        int32, or int within range
//	bool float double string    bool, float32, float64, string
//	OPTIONAL(T)                 nil for absent, otherwise the T value
//	LIST(T)                     []any
//	struct                      Record; a missing field encodes as its zero value
//
// Typed pointers, slices and Go structs are handed to the reflection backend.
func (p *Plan) WriteAny(w *wire.Writer, v any) error {
	return writeAny(w, p, v, "value")
}

// ReadAny decodes one value under p, using the Reader's limits.
func (p *Plan) ReadAny(r *wire.Reader) (any, error) {
	return readAny(r, p)
}

func writeAny(w *wire.Writer, p *Plan, v any, path string) error {
	switch p.Op {
	case OpInt32, OpEnum:
		n, ok := asInt(v, math.MinInt32, math.MaxInt32, int32(0))
		if !ok {
			return intErr(path, p.Op, v)
		}
		w.PutInt32(int32(n))
	case OpInt64:
		n, ok := asInt(v, math.MinInt64, math.MaxInt64, int64(0))
		if !ok {
			return intErr(path, p.Op, v)
		}
		w.PutInt64(n)
	case OpUint32:
		if u, ok := v.(uint32); ok {
			w.PutUint32(u)
			return nil
		}
		n, ok := asInt(v, 0, math.MaxUint32, nil)
		if !ok {
			return intErr(path, p.Op, v)
		}
		w.PutUint32(uint32(n))
	case OpUint64:
		if u, ok := v.(uint64); ok {
			w.PutUint64(u)
			return nil
		}
		n, ok := asInt(v, 0, math.MaxInt64, nil)
		if !ok {
			return intErr(path, p.Op, v)
		}
		w.PutUint64(uint64(n))
	case OpBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(path, p.Op, v)
		}
		w.PutBool(b)
	case OpFloat:
		f, ok := v.(float32)
		if !ok {
			return mismatch(path, p.Op, v)
		}
		w.PutFloat(f)
	case OpDouble:
		f, ok := v.(float64)
		if !ok {
			return mismatch(path, p.Op, v)
		}
		w.PutDouble(f)
	case OpString:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, p.Op, v)
		}
		if err := w.PutString(s); err != nil {
			return encodeErr(path, p.Op, err)
		}
	case OpOptional:
		if v == nil {
			w.PutOptionalTag(false)
			return nil
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
			return writeReflect(w, p, rv, path)
		}
		w.PutOptionalTag(true)
		return writeAny(w, p.Elem, v, path)
	case OpList:
		items, ok := v.([]any)
		if !ok && v != nil {
			if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
				return writeReflect(w, p, rv, path)
			}
			return mismatch(path, p.Op, v)
		}
		if err := w.PutListCount(len(items)); err != nil {
			return encodeErr(path, p.Op, err)
		}
		for i, item := range items {
			if err := writeAny(w, p.Elem, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case OpStruct:
		rec, ok := v.(Record)
		if !ok {
			m, isMap := v.(map[string]any)
			if !isMap && v != nil {
				if rv := reflect.ValueOf(v); rv.Kind() == reflect.Struct || rv.Kind() == reflect.Pointer {
					return writeReflect(w, p, rv, path)
				}
				return mismatch(path, p.Op, v)
			}
			rec = m
		}
		for _, f := range p.Struct.Fields {
			fv, present := rec[f.Name]
			if !present {
				writeZero(w, f.Plan)
				continue
			}
			if err := writeAny(w, f.Plan, fv, path+"."+f.Name); err != nil {
				return err
			}
		}
	case OpStream:
		// The invocation carries nothing; pushes are written with the element plan.
	default:
		return encodeErr(path, p.Op, fmt.Errorf("unknown op"))
	}
	return nil
}

// writeZero encodes the zero value of p: 0, "", absent, empty list, zeroed struct.
func writeZero(w *wire.Writer, p *Plan) {
	switch p.Op {
	case OpInt32, OpUint32, OpEnum:
		w.PutUint32(0)
	case OpInt64, OpUint64:
		w.PutUint64(0)
	case OpBool, OpOptional:
		w.PutBool(false)
	case OpFloat:
		w.PutFloat(0)
	case OpDouble:
		w.PutDouble(0)
	case OpString:
		w.PutString("")
	case OpList:
		w.PutListCount(0)
	case OpStruct:
		for _, f := range p.Struct.Fields {
			writeZero(w, f.Plan)
		}
	}
}

func readAny(r *wire.Reader, p *Plan) (any, error) {
	switch p.Op {
	case OpInt32:
		return r.Int32()
	case OpInt64:
		return r.Int64()
	case OpUint32:
		return r.Uint32()
	case OpUint64:
		return r.Uint64()
	case OpBool:
		return r.Bool()
	case OpFloat:
		return r.Float()
	case OpDouble:
		return r.Double()
	case OpString:
		return r.Str()
	case OpEnum:
		return r.Enum()
	case OpOptional:
		present, err := r.OptionalTag()
		if err != nil || !present {
			return nil, err
		}
		return readAny(r, p.Elem)
	case OpList:
		count, keep, err := r.ListCount(p.Elem.MinSize())
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, keep)
		for i := 0; i < count; i++ {
			item, err := readAny(r, p.Elem)
			if err != nil {
				return nil, err
			}
			if i < keep {
				items = append(items, item)
			}
		}
		return items, nil
	case OpStruct:
		rec := make(Record, len(p.Struct.Fields))
		for _, f := range p.Struct.Fields {
			fv, err := readAny(r, f.Plan)
			if err != nil {
				return nil, err
			}
			rec[f.Name] = fv
		}
		return rec, nil
	case OpStream:
		return nil, nil
	}
	return nil, fmt.Errorf("codec: unknown op %s", p.Op)
}

// asInt accepts v when it is int, or the exact type of want, within [lo, hi].
func asInt(v any, lo, hi int64, want any) (int64, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		if _, ok := want.(int32); !ok {
			if _, ok := want.(int64); !ok {
				return 0, false
			}
		}
		n = int64(x)
	case int64:
		if _, ok := want.(int64); !ok {
			return 0, false
		}
		n = x
	default:
		return 0, false
	}
	return n, n >= lo && n <= hi
}

func intErr(path string, op Op, v any) error {
	if _, ok := v.(int); ok {
		return encodeErr(path, op, fmt.Errorf("%w: %v", ErrOutOfRange, v))
	}
	return mismatch(path, op, v)
}
