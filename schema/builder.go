package schema

import (
	"fmt"

	"go.uber.org/multierr"
)

// Builder collects enums, structs and services, then resolves and validates them in
// one pass. Declarations keep their insertion order: services are indexed in the
// order they were added and methods in the order they were listed.
type Builder struct {
	enums    []Enum
	structs  []Struct
	services []serviceDecl
}

type serviceDecl struct {
	name    string
	methods []Method
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Enum(name string, values ...EnumValue) *Builder {
	b.enums = append(b.enums, Enum{Name: name, Values: values})
	return b
}

func (b *Builder) Struct(name string, fields ...Field) *Builder {
	b.structs = append(b.structs, Struct{Name: name, Fields: fields})
	return b
}

func (b *Builder) Service(name string, methods ...Method) *Builder {
	b.services = append(b.services, serviceDecl{name: name, methods: methods})
	return b
}

// Build resolves every Named reference, assigns enum numbers and service/method
// indices, and rejects anything the wire format cannot carry. The builder's own
// declarations are copied, never aliased.
func (b *Builder) Build() (*Schema, error) {
	s := &Schema{
		enums:    make(map[string]*Enum),
		structs:  make(map[string]*Struct),
		services: make(map[string]*Service),
	}
	var errs error

	// Step 1: declare named types; enums and structs share one namespace
	for _, in := range b.enums {
		entity := "enum " + in.Name
		if err := declareName(s, in.Name, entity); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		e := &Enum{Name: in.Name, Values: make([]EnumValue, len(in.Values))}
		seen := make(map[string]bool, len(in.Values))
		for i, v := range in.Values {
			if seen[v.Name] {
				errs = multierr.Append(errs, errorf(entity, "duplicate value %q", v.Name))
			}
			seen[v.Name] = true
			// Unset values take their declaration index, not previous+1.
			num := int32(i)
			if v.Value != nil {
				num = *v.Value
			}
			e.Values[i] = EnumValue{Name: v.Name, Value: v.Value, Number: num}
		}
		s.Enums = append(s.Enums, e)
		s.enums[e.Name] = e
	}
	for _, in := range b.structs {
		if err := declareName(s, in.Name, "struct "+in.Name); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		st := &Struct{Name: in.Name, Fields: make([]Field, len(in.Fields))}
		for i, f := range in.Fields {
			st.Fields[i] = Field{Name: f.Name, Type: f.Type.clone()}
		}
		s.Structs = append(s.Structs, st)
		s.structs[st.Name] = st
	}

	// Step 2: resolve struct fields now that every name is known
	for _, st := range s.Structs {
		seen := make(map[string]bool, len(st.Fields))
		for _, f := range st.Fields {
			entity := fmt.Sprintf("struct %s field %s", st.Name, f.Name)
			if f.Name == "" {
				errs = multierr.Append(errs, errorf("struct "+st.Name, "field without a name"))
			} else if seen[f.Name] {
				errs = multierr.Append(errs, errorf(entity, "duplicate field"))
			}
			seen[f.Name] = true
			errs = multierr.Append(errs, s.resolve(f.Type, entity, false))
		}
	}

	// Step 3: services and methods, indexed by declaration order
	if len(b.services) > MaxServices {
		errs = multierr.Append(errs, errorf("", "%d services exceed the address space of %d", len(b.services), MaxServices))
	}
	for _, in := range b.services {
		entity := "service " + in.name
		if _, dup := s.services[in.name]; dup {
			errs = multierr.Append(errs, errorf(entity, "duplicate service"))
			continue
		}
		if len(in.methods) > MaxMethodsPerService {
			errs = multierr.Append(errs, errorf(entity, "%d methods exceed the address space of %d", len(in.methods), MaxMethodsPerService))
		}
		svc := &Service{Name: in.name, Index: len(s.Services)}
		for i, m := range in.methods {
			method, err := s.buildMethod(in.name, m, i)
			errs = multierr.Append(errs, err)
			if _, dup := svc.Method(m.Name); dup {
				errs = multierr.Append(errs, errorf(entity, "duplicate method %q", m.Name))
			}
			svc.Methods = append(svc.Methods, method)
		}
		s.Services = append(s.Services, svc)
		s.services[svc.Name] = svc
	}

	if errs != nil {
		return nil, errs
	}
	return s, nil
}

func declareName(s *Schema, name, entity string) error {
	if name == "" {
		return errorf(entity, "missing name")
	}
	if _, ok := s.enums[name]; ok {
		return errorf(entity, "name already declared as an enum")
	}
	if _, ok := s.structs[name]; ok {
		return errorf(entity, "name already declared as a struct")
	}
	return nil
}

func (s *Schema) buildMethod(service string, in Method, index int) (*Method, error) {
	entity := fmt.Sprintf("method %s.%s", service, in.Name)
	var errs error
	m := &Method{
		Name:    in.Name,
		Returns: in.Returns.clone(),
		Options: in.Options,
		Index:   index,
	}
	if in.Name == "" {
		errs = multierr.Append(errs, errorf("service "+service, "method without a name"))
	}
	if in.Stream && m.Returns != nil && m.Returns.Kind != KindStream {
		m.Returns = Stream(m.Returns)
	}
	if in.Stream && m.Returns == nil {
		errs = multierr.Append(errs, errorf(entity, "stream method without an element type"))
	}
	m.Stream = m.Returns != nil && m.Returns.Kind == KindStream

	for _, p := range in.Params {
		pe := entity + " param " + p.Name
		t := p.Type.clone()
		m.Params = append(m.Params, Field{Name: p.Name, Type: t})
		errs = multierr.Append(errs, s.resolve(t, pe, false))
	}
	timeout, err := parseOptions(in.Options)
	if err != nil {
		errs = multierr.Append(errs, errorf(entity, "%v", err))
	}
	m.Timeout = timeout
	if m.Stream && len(m.Params) > 0 {
		errs = multierr.Append(errs, errorf(entity, "stream methods take no params: the invocation payload is always empty"))
	}
	if m.Returns != nil {
		errs = multierr.Append(errs, s.resolve(m.Returns, entity+" return", true))
	}
	return m, errs
}

// resolve validates t in place and links Named references to their definitions.
func (s *Schema) resolve(t *TypeRef, entity string, allowStream bool) error {
	if t == nil {
		return errorf(entity, "missing type")
	}
	switch {
	case t.Kind.IsPrimitive(), t.Kind == KindString:
		return nil
	case t.Kind == KindMap:
		return errorf(entity, "unsupported type %s", t)
	case t.Kind == KindNamed:
		if e, ok := s.enums[t.Name]; ok {
			t.Enum = e
			return nil
		}
		if st, ok := s.structs[t.Name]; ok {
			t.Struct = st
			return nil
		}
		return errorf(entity, "unresolved type reference %q", t.Name)
	case t.Kind.IsWrapper():
		if t.Kind == KindStream && !allowStream {
			return errorf(entity, "STREAM is only valid as a method return type")
		}
		if t.Elem == nil {
			return errorf(entity, "%s without an inner type", t.Kind)
		}
		if t.Elem.Kind.IsWrapper() {
			return errorf(entity, "nested wrapper %s is not supported", t)
		}
		return s.resolve(t.Elem, entity, false)
	default:
		return errorf(entity, "invalid type kind %s", t.Kind)
	}
}
