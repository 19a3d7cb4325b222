package schema

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

// Document is the structured form of an already-extracted schema, one per source
// file. Type fields hold type expressions (see ParseType).
//
//	[[enum]]
//	name = "Role"
//	values = [{ name = "Admin" }, { name = "Guest", value = 7 }]
//
//	[[struct]]
//	name = "User"
//	fields = [{ name = "id", type = "int" }, { name = "tags", type = "LIST(string)" }]
//
//	[[service]]
//	name = "Calc"
//	  [[service.method]]
//	  name = "Add"
//	  params = [{ name = "a", type = "int" }, { name = "b", type = "int" }]
//	  returns = "int"
type Document struct {
	Enums    []EnumDoc    `toml:"enum"`
	Structs  []StructDoc  `toml:"struct"`
	Services []ServiceDoc `toml:"service"`
}

type EnumDoc struct {
	Name   string         `toml:"name"`
	Values []EnumValueDoc `toml:"values"`
}

type EnumValueDoc struct {
	Name  string `toml:"name"`
	Value *int32 `toml:"value"`
}

type FieldDoc struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type StructDoc struct {
	Name   string     `toml:"name"`
	Fields []FieldDoc `toml:"fields"`
}

type MethodDoc struct {
	Name    string     `toml:"name"`
	Params  []FieldDoc `toml:"params"`
	Returns string     `toml:"returns"`
	Options string     `toml:"options"`
}

type ServiceDoc struct {
	Name    string      `toml:"name"`
	Methods []MethodDoc `toml:"method"`
}

// DecodeDocument reads one TOML schema document.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: decode document: %w", err)
	}
	return &doc, nil
}

// LoadFile reads one TOML schema document from disk.
func LoadFile(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("schema: load %s: %w", path, err)
	}
	return &doc, nil
}

// Merge combines documents. Enums, structs and services are deduplicated by name and
// the first occurrence wins, so services keep their first-seen order across inputs.
func Merge(docs ...*Document) *Document {
	merged := &Document{}
	enums := make(map[string]bool)
	structs := make(map[string]bool)
	services := make(map[string]bool)
	for _, d := range docs {
		if d == nil {
			continue
		}
		for _, e := range d.Enums {
			if !enums[e.Name] {
				enums[e.Name] = true
				merged.Enums = append(merged.Enums, e)
			}
		}
		for _, s := range d.Structs {
			if !structs[s.Name] {
				structs[s.Name] = true
				merged.Structs = append(merged.Structs, s)
			}
		}
		for _, s := range d.Services {
			if !services[s.Name] {
				services[s.Name] = true
				merged.Services = append(merged.Services, s)
			}
		}
	}
	return merged
}

// Builder converts the document into a Builder, parsing every type expression.
func (d *Document) Builder() (*Builder, error) {
	b := NewBuilder()
	var errs error
	parse := func(expr string) *TypeRef {
		t, err := ParseType(expr)
		errs = multierr.Append(errs, err)
		return t
	}
	fields := func(in []FieldDoc) []Field {
		out := make([]Field, 0, len(in))
		for _, f := range in {
			out = append(out, F(f.Name, parse(f.Type)))
		}
		return out
	}

	for _, e := range d.Enums {
		values := make([]EnumValue, 0, len(e.Values))
		for _, v := range e.Values {
			values = append(values, EnumValue{Name: v.Name, Value: v.Value})
		}
		b.Enum(e.Name, values...)
	}
	for _, s := range d.Structs {
		b.Struct(s.Name, fields(s.Fields)...)
	}
	for _, s := range d.Services {
		methods := make([]Method, 0, len(s.Methods))
		for _, m := range s.Methods {
			methods = append(methods, Method{
				Name:    m.Name,
				Params:  fields(m.Params),
				Returns: parse(m.Returns),
				Options: m.Options,
			})
		}
		b.Service(s.Name, methods...)
	}
	if errs != nil {
		return nil, errs
	}
	return b, nil
}

// BuildDocuments merges the documents and builds the resulting schema.
func BuildDocuments(docs ...*Document) (*Schema, error) {
	b, err := Merge(docs...).Builder()
	if err != nil {
		return nil, err
	}
	return b.Build()
}
