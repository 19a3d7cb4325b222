package codec

import (
	"esprpc/address"
	"esprpc/schema"
	"esprpc/wire"
	"fmt"
	"reflect"
	"time"
)

// MethodCodec is the compiled codec artifact of one method: a request encoder and
// decoder over the ordered params, and a response encoder and decoder over the
// result. For a stream method the request is always empty and Result is the push
// element type.
type MethodCodec struct {
	ID      address.MethodID
	Service string
	Name    string
	Params  []FieldPlan
	Result  *Plan // nil for void methods
	Stream  bool
	Timeout time.Duration // from the method's timeout option; 0 means the caller's default

	limits wire.Limits
}

// FullName is "Service.Method".
func (m *MethodCodec) FullName() string { return m.Service + "." + m.Name }

// Limits are the decode bounds this codec was built with.
func (m *MethodCodec) Limits() wire.Limits { return m.limits }

// EncodeRequest encodes the call arguments in declaration order.
func (m *MethodCodec) EncodeRequest(args []any) ([]byte, error) {
	w := wire.NewWriter(nil)
	if err := m.AppendRequest(w, args); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AppendRequest is EncodeRequest into an existing writer.
func (m *MethodCodec) AppendRequest(w *wire.Writer, args []any) error {
	if len(args) != len(m.Params) {
		return &EncodeError{
			Path: m.FullName(),
			Op:   OpStruct,
			Err:  fmt.Errorf("%w: got %d, want %d", ErrArgCount, len(args), len(m.Params)),
		}
	}
	for i, p := range m.Params {
		if err := writeAny(w, p.Plan, args[i], fmt.Sprintf("%s(%s)", m.FullName(), p.Name)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRequest decodes the params of one invocation. Bytes after the last param
// are ignored.
func (m *MethodCodec) DecodeRequest(payload []byte) ([]any, error) {
	return m.ReadRequest(wire.NewReader(payload, m.limits), nil)
}

// ReadRequest decodes the params from r, appending them to dst[:0] so a dispatcher
// can reuse one args slice across calls.
func (m *MethodCodec) ReadRequest(r *wire.Reader, dst []any) ([]any, error) {
	args := dst[:0]
	for _, p := range m.Params {
		v, err := readAny(r, p.Plan)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// ReadRequestInto decodes the params into typed Go values through reflection.
// Each dst element must be settable and match its param.
func (m *MethodCodec) ReadRequestInto(r *wire.Reader, dst []reflect.Value) error {
	if len(dst) != len(m.Params) {
		return fmt.Errorf("codec: %s: %w: got %d, want %d", m.FullName(), ErrArgCount, len(dst), len(m.Params))
	}
	for i, p := range m.Params {
		if err := readReflect(r, p.Plan, dst[i], fmt.Sprintf("%s(%s)", m.FullName(), p.Name)); err != nil {
			return err
		}
	}
	return nil
}

// EncodeResponse encodes a result, or one push value of a stream method. Void
// methods encode to an empty payload.
func (m *MethodCodec) EncodeResponse(v any) ([]byte, error) {
	w := wire.NewWriter(nil)
	if err := m.AppendResponse(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AppendResponse is EncodeResponse into an existing writer. Typed Go values go
// through the reflection backend.
func (m *MethodCodec) AppendResponse(w *wire.Writer, v any) error {
	if m.Result == nil {
		return nil
	}
	return writeAny(w, m.Result, v, m.FullName()+" result")
}

// DecodeResponse decodes a response payload, or one push of a stream method. A void
// method yields nil.
func (m *MethodCodec) DecodeResponse(payload []byte) (any, error) {
	if m.Result == nil {
		return nil, nil
	}
	return readAny(wire.NewReader(payload, m.limits), m.Result)
}

// Table holds the codec of every addressed method in a schema.
type Table struct {
	schema  *schema.Schema
	addrs   *address.Table
	methods map[address.MethodID]*MethodCodec
	byName  map[string]*MethodCodec
	list    []*MethodCodec
	structs []*StructPlan
	limits  wire.Limits
}

// NewTable assigns addresses and compiles every method of s. Decoders built from
// it retain at most what limits allow.
func NewTable(s *schema.Schema, limits wire.Limits) (*Table, error) {
	addrs, err := address.Assign(s)
	if err != nil {
		return nil, err
	}
	t := &Table{
		schema:  s,
		addrs:   addrs,
		methods: make(map[address.MethodID]*MethodCodec),
		byName:  make(map[string]*MethodCodec),
		limits:  limits,
	}

	c := newCompiler()
	// Compile every struct up front so unused ones are still validated and emitted
	for _, st := range s.Structs {
		sp, err := c.structPlan(st)
		if err != nil {
			return nil, err
		}
		t.structs = append(t.structs, sp)
	}
	for _, e := range addrs.Entries() {
		mc := &MethodCodec{
			ID:      e.ID,
			Service: e.Service.Name,
			Name:    e.Method.Name,
			Stream:  e.Method.Stream,
			Timeout: e.Method.Timeout,
			limits:  limits,
		}
		entity := "method " + e.FullName()
		if mc.Params, err = c.fields(e.Method.Params, entity+" param"); err != nil {
			return nil, err
		}
		if res := e.Method.Result(); res != nil {
			if mc.Result, err = c.compile(res, entity+" return"); err != nil {
				return nil, err
			}
		}
		t.methods[mc.ID] = mc
		t.byName[mc.FullName()] = mc
		t.list = append(t.list, mc)
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// Method returns the codec addressed by id.
func (t *Table) Method(id address.MethodID) (*MethodCodec, bool) {
	m, ok := t.methods[id]
	return m, ok
}

// Lookup returns the codec of "Service.Method".
func (t *Table) Lookup(name string) (*MethodCodec, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Methods lists every method codec in id order.
func (t *Table) Methods() []*MethodCodec { return t.list }

// Structs lists the compiled struct plans in schema order.
func (t *Table) Structs() []*StructPlan { return t.structs }

func (t *Table) Schema() *schema.Schema { return t.schema }

func (t *Table) Addresses() *address.Table { return t.addrs }

func (t *Table) Limits() wire.Limits { return t.limits }
