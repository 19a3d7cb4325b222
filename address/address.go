// Package address assigns the one-byte method ids shared by both runtimes and
// allocates per-connection invoke ids.
//
// A method id packs two 4-bit indices:
//
//	  7   6   5   4   3   2   1   0
//	┌───┬───┬───┬───┬───┬───┬───┬───┐
//	│  service index │  method index │
//	└───┴───┴───┴───┴───┴───┴───┴───┘
//
// Services are indexed in first-seen order of the merged schema and methods in
// declaration order, so two peers built from the same inputs agree on every id
// without exchanging anything at runtime.
package address

import (
	"esprpc/schema"
	"fmt"
)

// MaxIndex is the largest service or method index a method id can carry.
const MaxIndex = 15

// MethodID is the packed (service, method) address carried in byte 0 of every frame.
type MethodID byte

// Pack builds a method id from a service and a method index.
func Pack(service, method int) (MethodID, error) {
	if service < 0 || service > MaxIndex {
		return 0, &schema.SchemaError{Reason: fmt.Sprintf("service index %d exceeds the address space", service)}
	}
	if method < 0 || method > MaxIndex {
		return 0, &schema.SchemaError{Reason: fmt.Sprintf("method index %d exceeds the address space", method)}
	}
	return MethodID(service<<4 | method), nil
}

// Service returns the high nibble.
func (id MethodID) Service() int { return int(id >> 4) }

// Method returns the low nibble.
func (id MethodID) Method() int { return int(id & 0x0f) }

func (id MethodID) String() string {
	return fmt.Sprintf("0x%02x(%d.%d)", byte(id), id.Service(), id.Method())
}

// Entry is one addressed method.
type Entry struct {
	ID      MethodID
	Service *schema.Service
	Method  *schema.Method
}

// FullName is "Service.Method".
func (e *Entry) FullName() string {
	return e.Service.Name + "." + e.Method.Name
}

// Table maps method ids and names to schema methods.
type Table struct {
	entries []*Entry
	byID    map[MethodID]*Entry
	byName  map[string]*Entry
}

// Assign addresses every method of s. It fails with a SchemaError if a service or
// method index does not fit in four bits.
func Assign(s *schema.Schema) (*Table, error) {
	t := &Table{
		byID:   make(map[MethodID]*Entry),
		byName: make(map[string]*Entry),
	}
	for _, svc := range s.Services {
		for _, m := range svc.Methods {
			id, err := Pack(svc.Index, m.Index)
			if err != nil {
				se := err.(*schema.SchemaError)
				se.Entity = fmt.Sprintf("method %s.%s", svc.Name, m.Name)
				return nil, se
			}
			e := &Entry{ID: id, Service: svc, Method: m}
			t.entries = append(t.entries, e)
			t.byID[id] = e
			t.byName[e.FullName()] = e
		}
	}
	return t, nil
}

// Entries returns every addressed method in id order.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Lookup finds the method addressed by id.
func (t *Table) Lookup(id MethodID) (*Entry, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// LookupName finds a method by "Service.Method".
func (t *Table) LookupName(name string) (*Entry, bool) {
	e, ok := t.byName[name]
	return e, ok
}

// MustID returns the id of "Service.Method" and panics if it is unknown. Meant for
// tests and program setup.
func (t *Table) MustID(name string) MethodID {
	e, ok := t.byName[name]
	if !ok {
		panic("address: unknown method " + name)
	}
	return e.ID
}
