package schema

import "time"

// Address space limits: a method id packs the service index and the method index into
// four bits each.
const (
	MaxServices          = 16
	MaxMethodsPerService = 16
)

// Field is one named, typed member of a struct or one method parameter.
type Field struct {
	Name string
	Type *TypeRef
}

// F is shorthand for a Field literal.
func F(name string, t *TypeRef) Field { return Field{Name: name, Type: t} }

// Struct fields are encoded in declaration order with no tags.
type Struct struct {
	Name   string
	Fields []Field
}

// EnumValue is one enum member. Value is the explicit number from the input, if any;
// Number is the resolved wire value filled in by Build.
type EnumValue struct {
	Name   string
	Value  *int32
	Number int32
}

// V declares an enum member that takes its declaration index.
func V(name string) EnumValue { return EnumValue{Name: name} }

// VN declares an enum member with an explicit number.
func VN(name string, n int32) EnumValue { return EnumValue{Name: name, Value: &n} }

type Enum struct {
	Name   string
	Values []EnumValue
}

// Number returns the resolved wire value of the named member.
func (e *Enum) Number(name string) (int32, bool) {
	for _, v := range e.Values {
		if v.Name == name {
			return v.Number, true
		}
	}
	return 0, false
}

// Method is one RPC. Returns is nil for void methods. A method whose return type is
// STREAM(T) is a stream method: Stream is true and it never carries an inline response.
type Method struct {
	Name    string
	Params  []Field
	Returns *TypeRef
	Stream  bool
	Options string

	// Timeout is the call timeout from a "timeout" option, 0 when unset. Set by Build.
	Timeout time.Duration

	// Index is the 0-based declaration order within the service, set by Build.
	Index int
}

// Result is the type carried by a response (or by each push, for stream methods).
func (m *Method) Result() *TypeRef {
	if m.Returns != nil && m.Returns.Kind == KindStream {
		return m.Returns.Elem
	}
	return m.Returns
}

type Service struct {
	Name    string
	Methods []*Method

	// Index is the service's position in the merged schema, set by Build.
	Index int
}

// Method looks up a method by name.
func (s *Service) Method(name string) (*Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Schema is the immutable output of Build.
type Schema struct {
	Enums    []*Enum
	Structs  []*Struct
	Services []*Service

	enums    map[string]*Enum
	structs  map[string]*Struct
	services map[string]*Service
}

func (s *Schema) Enum(name string) (*Enum, bool) {
	e, ok := s.enums[name]
	return e, ok
}

func (s *Schema) Struct(name string) (*Struct, bool) {
	st, ok := s.structs[name]
	return st, ok
}

func (s *Schema) Service(name string) (*Service, bool) {
	svc, ok := s.services[name]
	return svc, ok
}
