// Package schema holds the resolved, language-neutral description of enums, structs,
// services and methods that the codec generator and both runtimes consume.
//
// A schema is produced once by Builder.Build (or from TOML documents) and is never
// mutated afterwards. Every Named reference inside a built schema points directly at
// its Struct or Enum, so later stages never look names up again.
//
//	TypeRef
//	  ├── primitive  int32 int64 uint32 uint64 bool float double
//	  ├── string
//	  ├── OPTIONAL(T) ─┐
//	  ├── LIST(T)     ─┼── exactly one inner TypeRef, never another wrapper
//	  ├── STREAM(T)   ─┘   (method return types only)
//	  └── Named ──► *Struct | *Enum
package schema

import "fmt"

// Kind tags the variant held by a TypeRef.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindBool
	KindFloat
	KindDouble
	KindString
	KindOptional
	KindList
	KindStream
	KindNamed
	// KindMap is never valid in a built schema; it exists so inputs carrying a map
	// can be rejected with a precise error.
	KindMap
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindUint32:   "uint32",
	KindUint64:   "uint64",
	KindBool:     "bool",
	KindFloat:    "float",
	KindDouble:   "double",
	KindString:   "string",
	KindOptional: "OPTIONAL",
	KindList:     "LIST",
	KindStream:   "STREAM",
	KindNamed:    "named",
	KindMap:      "MAP",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsPrimitive reports whether k is one of the fixed-width scalar kinds.
func (k Kind) IsPrimitive() bool {
	return k >= KindInt32 && k <= KindDouble
}

// IsWrapper reports whether k wraps exactly one inner TypeRef.
func (k Kind) IsWrapper() bool {
	return k == KindOptional || k == KindList || k == KindStream
}

// TypeRef is the tagged type algebra. Elem is set for wrappers (and holds the value
// type of a map), Key only for maps, Name only for Named references. Struct or Enum
// is filled in by Build when a Named reference is resolved.
type TypeRef struct {
	Kind   Kind
	Elem   *TypeRef
	Key    *TypeRef
	Name   string
	Struct *Struct
	Enum   *Enum
}

func Int32() *TypeRef  { return &TypeRef{Kind: KindInt32} }
func Int64() *TypeRef  { return &TypeRef{Kind: KindInt64} }
func Uint32() *TypeRef { return &TypeRef{Kind: KindUint32} }
func Uint64() *TypeRef { return &TypeRef{Kind: KindUint64} }
func Bool() *TypeRef   { return &TypeRef{Kind: KindBool} }
func Float() *TypeRef  { return &TypeRef{Kind: KindFloat} }
func Double() *TypeRef { return &TypeRef{Kind: KindDouble} }
func Str() *TypeRef    { return &TypeRef{Kind: KindString} }

func Optional(elem *TypeRef) *TypeRef { return &TypeRef{Kind: KindOptional, Elem: elem} }
func List(elem *TypeRef) *TypeRef     { return &TypeRef{Kind: KindList, Elem: elem} }
func Stream(elem *TypeRef) *TypeRef   { return &TypeRef{Kind: KindStream, Elem: elem} }
func Named(name string) *TypeRef      { return &TypeRef{Kind: KindNamed, Name: name} }

// Map builds a map type. Build always rejects it.
func Map(key, value *TypeRef) *TypeRef { return &TypeRef{Kind: KindMap, Key: key, Elem: value} }

// IsEnum reports whether t is a resolved reference to an enum.
func (t *TypeRef) IsEnum() bool { return t != nil && t.Kind == KindNamed && t.Enum != nil }

// IsStruct reports whether t is a resolved reference to a struct.
func (t *TypeRef) IsStruct() bool { return t != nil && t.Kind == KindNamed && t.Struct != nil }

// String renders t in the type-expression spelling accepted by ParseType.
func (t *TypeRef) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindOptional, KindList, KindStream:
		return t.Kind.String() + "(" + t.Elem.String() + ")"
	case KindMap:
		return "MAP(" + t.Key.String() + "," + t.Elem.String() + ")"
	case KindNamed:
		return t.Name
	default:
		return t.Kind.String()
	}
}

// clone deep-copies the unresolved shape of t so Build never aliases caller input.
func (t *TypeRef) clone() *TypeRef {
	if t == nil {
		return nil
	}
	return &TypeRef{
		Kind: t.Kind,
		Elem: t.Elem.clone(),
		Key:  t.Key.clone(),
		Name: t.Name,
	}
}
