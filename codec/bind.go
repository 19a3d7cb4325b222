package codec

import (
	"esprpc/wire"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// WriteReflect encodes a Go value under p through reflection. It is the typed
// counterpart of WriteAny and produces identical bytes:
//
//	integers and enums   any Go integer kind, range-checked
//	float double         float32 or float64
//	OPTIONAL(T)          *T, nil for absent
//	LIST(T)              []T
//	struct               a Go struct whose fields match by `rpc:"name"` tag or,
//	                     without a tag, by case-insensitive name
//
// An interface value is unwrapped, and a nil empty interface falls back to WriteAny.
func (p *Plan) WriteReflect(w *wire.Writer, v reflect.Value) error {
	return writeReflect(w, p, v, "value")
}

// ReadReflect decodes one value under p into v, which must be settable.
func (p *Plan) ReadReflect(r *wire.Reader, v reflect.Value) error {
	return readReflect(r, p, v, "value")
}

func writeReflect(w *wire.Writer, p *Plan, v reflect.Value, path string) error {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return writeAny(w, p, nil, path)
		}
		v = v.Elem()
		if v.Kind() != reflect.Pointer && v.Kind() != reflect.Struct {
			return writeAny(w, p, v.Interface(), path)
		}
	}

	switch p.Op {
	case OpInt32, OpEnum:
		n, err := reflectInt(v, -1<<31, 1<<31-1, path, p.Op)
		if err != nil {
			return err
		}
		w.PutInt32(int32(n))
	case OpInt64:
		n, err := reflectInt(v, -1<<63, 1<<63-1, path, p.Op)
		if err != nil {
			return err
		}
		w.PutInt64(n)
	case OpUint32:
		n, err := reflectUint(v, 1<<32-1, path, p.Op)
		if err != nil {
			return err
		}
		w.PutUint32(uint32(n))
	case OpUint64:
		n, err := reflectUint(v, 1<<64-1, path, p.Op)
		if err != nil {
			return err
		}
		w.PutUint64(n)
	case OpBool:
		if v.Kind() != reflect.Bool {
			return reflectMismatch(path, p.Op, v)
		}
		w.PutBool(v.Bool())
	case OpFloat, OpDouble:
		if v.Kind() != reflect.Float32 && v.Kind() != reflect.Float64 {
			return reflectMismatch(path, p.Op, v)
		}
		if p.Op == OpFloat {
			w.PutFloat(float32(v.Float()))
		} else {
			w.PutDouble(v.Float())
		}
	case OpString:
		if v.Kind() != reflect.String {
			return reflectMismatch(path, p.Op, v)
		}
		if err := w.PutString(v.String()); err != nil {
			return encodeErr(path, p.Op, err)
		}
	case OpOptional:
		if v.Kind() != reflect.Pointer {
			return reflectMismatch(path, p.Op, v)
		}
		if v.IsNil() {
			w.PutOptionalTag(false)
			return nil
		}
		w.PutOptionalTag(true)
		return writeReflect(w, p.Elem, v.Elem(), path)
	case OpList:
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return reflectMismatch(path, p.Op, v)
		}
		if err := w.PutListCount(v.Len()); err != nil {
			return encodeErr(path, p.Op, err)
		}
		for i := 0; i < v.Len(); i++ {
			if err := writeReflect(w, p.Elem, v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case OpStruct:
		if v.Kind() == reflect.Pointer && !v.IsNil() {
			v = v.Elem()
		}
		if v.Kind() == reflect.Map {
			return writeAny(w, p, v.Interface(), path)
		}
		if v.Kind() != reflect.Struct {
			return reflectMismatch(path, p.Op, v)
		}
		idx, err := fieldIndex(p.Struct, v.Type())
		if err != nil {
			return encodeErr(path, p.Op, err)
		}
		for i, f := range p.Struct.Fields {
			if err := writeReflect(w, f.Plan, v.Field(idx[i]), path+"."+f.Name); err != nil {
				return err
			}
		}
	case OpStream:
	default:
		return encodeErr(path, p.Op, fmt.Errorf("unknown op"))
	}
	return nil
}

func readReflect(r *wire.Reader, p *Plan, v reflect.Value, path string) error {
	if v.Kind() == reflect.Interface && v.NumMethod() == 0 {
		dyn, err := readAny(r, p)
		if err != nil {
			return err
		}
		if dyn == nil {
			v.SetZero()
		} else {
			v.Set(reflect.ValueOf(dyn))
		}
		return nil
	}

	switch p.Op {
	case OpInt32, OpEnum, OpInt64:
		var n int64
		var err error
		if p.Op == OpInt64 {
			n, err = r.Int64()
		} else {
			var n32 int32
			n32, err = r.Int32()
			n = int64(n32)
		}
		if err != nil {
			return err
		}
		return setInt(v, n, path, p.Op)
	case OpUint32, OpUint64:
		var n uint64
		var err error
		if p.Op == OpUint64 {
			n, err = r.Uint64()
		} else {
			var n32 uint32
			n32, err = r.Uint32()
			n = uint64(n32)
		}
		if err != nil {
			return err
		}
		return setUint(v, n, path, p.Op)
	case OpBool:
		b, err := r.Bool()
		if err != nil {
			return err
		}
		if v.Kind() != reflect.Bool {
			return bindMismatch(path, p.Op, v)
		}
		v.SetBool(b)
	case OpFloat, OpDouble:
		var f float64
		if p.Op == OpFloat {
			f32, err := r.Float()
			if err != nil {
				return err
			}
			f = float64(f32)
		} else {
			d, err := r.Double()
			if err != nil {
				return err
			}
			f = d
		}
		if v.Kind() != reflect.Float32 && v.Kind() != reflect.Float64 {
			return bindMismatch(path, p.Op, v)
		}
		v.SetFloat(f)
	case OpString:
		s, err := r.Str()
		if err != nil {
			return err
		}
		if v.Kind() != reflect.String {
			return bindMismatch(path, p.Op, v)
		}
		v.SetString(s)
	case OpOptional:
		if v.Kind() != reflect.Pointer {
			return bindMismatch(path, p.Op, v)
		}
		present, err := r.OptionalTag()
		if err != nil {
			return err
		}
		if !present {
			v.SetZero()
			return nil
		}
		elem := reflect.New(v.Type().Elem())
		if err := readReflect(r, p.Elem, elem.Elem(), path); err != nil {
			return err
		}
		v.Set(elem)
	case OpList:
		if v.Kind() != reflect.Slice {
			return bindMismatch(path, p.Op, v)
		}
		count, keep, err := r.ListCount(p.Elem.MinSize())
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(v.Type(), keep, keep)
		var discard reflect.Value
		for i := 0; i < count; i++ {
			target := discard
			if i < keep {
				target = out.Index(i)
			} else if !discard.IsValid() {
				discard = reflect.New(v.Type().Elem()).Elem()
				target = discard
			}
			if err := readReflect(r, p.Elem, target, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		v.Set(out)
	case OpStruct:
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return bindMismatch(path, p.Op, v)
		}
		idx, err := fieldIndex(p.Struct, v.Type())
		if err != nil {
			return fmt.Errorf("codec: decode %s at %s: %w", p.Op, path, err)
		}
		for i, f := range p.Struct.Fields {
			if err := readReflect(r, f.Plan, v.Field(idx[i]), path+"."+f.Name); err != nil {
				return err
			}
		}
	case OpStream:
	default:
		return fmt.Errorf("codec: unknown op %s", p.Op)
	}
	return nil
}

type bindKey struct {
	plan *StructPlan
	typ  reflect.Type
}

// bindings caches the Go field index of every schema field, per (plan, Go type).
var bindings sync.Map // map[bindKey][]int

func fieldIndex(sp *StructPlan, t reflect.Type) ([]int, error) {
	key := bindKey{sp, t}
	if idx, ok := bindings.Load(key); ok {
		return idx.([]int), nil
	}

	byName := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := strings.ToLower(sf.Name)
		if tag, ok := sf.Tag.Lookup("rpc"); ok {
			if tag == "-" {
				continue
			}
			name = strings.ToLower(tag)
		}
		byName[name] = i
	}
	idx := make([]int, len(sp.Fields))
	for i, f := range sp.Fields {
		j, ok := byName[strings.ToLower(f.Name)]
		if !ok {
			return nil, fmt.Errorf("%w %s.%s in %s", ErrNoField, sp.Name, f.Name, t)
		}
		idx[i] = j
	}
	bindings.Store(key, idx)
	return idx, nil
}

func reflectInt(v reflect.Value, lo, hi int64, path string, op Op) (int64, error) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n < lo || n > hi {
			return 0, encodeErr(path, op, fmt.Errorf("%w: %d", ErrOutOfRange, n))
		}
		return n, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > uint64(hi) {
			return 0, encodeErr(path, op, fmt.Errorf("%w: %d", ErrOutOfRange, u))
		}
		return int64(u), nil
	}
	return 0, reflectMismatch(path, op, v)
}

func reflectUint(v reflect.Value, hi uint64, path string, op Op) (uint64, error) {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > hi {
			return 0, encodeErr(path, op, fmt.Errorf("%w: %d", ErrOutOfRange, u))
		}
		return u, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n < 0 || uint64(n) > hi {
			return 0, encodeErr(path, op, fmt.Errorf("%w: %d", ErrOutOfRange, n))
		}
		return uint64(n), nil
	}
	return 0, reflectMismatch(path, op, v)
}

func setInt(v reflect.Value, n int64, path string, op Op) error {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.OverflowInt(n) {
			return fmt.Errorf("codec: decode %s at %s: %w: %d into %s", op, path, ErrOutOfRange, n, v.Type())
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n < 0 || v.OverflowUint(uint64(n)) {
			return fmt.Errorf("codec: decode %s at %s: %w: %d into %s", op, path, ErrOutOfRange, n, v.Type())
		}
		v.SetUint(uint64(n))
		return nil
	}
	return bindMismatch(path, op, v)
}

func setUint(v reflect.Value, n uint64, path string, op Op) error {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.OverflowUint(n) {
			return fmt.Errorf("codec: decode %s at %s: %w: %d into %s", op, path, ErrOutOfRange, n, v.Type())
		}
		v.SetUint(n)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n > 1<<63-1 || v.OverflowInt(int64(n)) {
			return fmt.Errorf("codec: decode %s at %s: %w: %d into %s", op, path, ErrOutOfRange, n, v.Type())
		}
		v.SetInt(int64(n))
		return nil
	}
	return bindMismatch(path, op, v)
}

func reflectMismatch(path string, op Op, v reflect.Value) error {
	if !v.IsValid() {
		return encodeErr(path, op, fmt.Errorf("%w: got nil", ErrTypeMismatch))
	}
	return encodeErr(path, op, fmt.Errorf("%w: got %s", ErrTypeMismatch, v.Type()))
}

func bindMismatch(path string, op Op, v reflect.Value) error {
	return fmt.Errorf("codec: decode %s at %s: %w: cannot store into %s", op, path, ErrTypeMismatch, v.Type())
}
