package codec

import (
	"esprpc/schema"
	"fmt"
)

// Op is one step of a compiled codec plan.
type Op uint8

const (
	OpInt32 Op = iota
	OpInt64
	OpUint32
	OpUint64
	OpBool
	OpFloat
	OpDouble
	OpString
	OpEnum
	OpOptional
	OpList
	OpStruct
	OpStream
)

var opNames = [...]string{
	OpInt32:    "int32",
	OpInt64:    "int64",
	OpUint32:   "uint32",
	OpUint64:   "uint64",
	OpBool:     "bool",
	OpFloat:    "float",
	OpDouble:   "double",
	OpString:   "string",
	OpEnum:     "enum",
	OpOptional: "optional",
	OpList:     "list",
	OpStruct:   "struct",
	OpStream:   "stream",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Plan is the language-neutral codec for one type: an op tree that every backend
// walks the same way. Struct plans are shared, so a recursive struct's plan refers
// back to itself instead of unrolling.
type Plan struct {
	Op     Op
	Elem   *Plan        // OpOptional, OpList, OpStream
	Struct *StructPlan  // OpStruct
	Enum   *schema.Enum // OpEnum
}

// StructPlan lists a struct's fields in wire order.
type StructPlan struct {
	Name   string
	Fields []FieldPlan

	minSize int
}

// FieldPlan is one named member of a struct or a method's parameter list.
type FieldPlan struct {
	Name string
	Plan *Plan
}

// MinSize is the fewest bytes any encoding of p occupies. A list header uses it to
// reject counts that cannot fit in the rest of a payload.
func (p *Plan) MinSize() int {
	switch p.Op {
	case OpBool:
		return 1
	case OpInt32, OpUint32, OpFloat, OpEnum:
		return 4
	case OpInt64, OpUint64, OpDouble:
		return 8
	case OpString:
		return 2
	case OpOptional:
		return 1
	case OpList:
		return 4
	case OpStruct:
		return p.Struct.minSize
	}
	return 0
}

func (p *Plan) String() string {
	switch p.Op {
	case OpOptional, OpList, OpStream:
		return p.Op.String() + "(" + p.Elem.String() + ")"
	case OpStruct:
		return p.Struct.Name
	case OpEnum:
		return p.Enum.Name
	}
	return p.Op.String()
}

var primitiveOps = map[schema.Kind]Op{
	schema.KindInt32:  OpInt32,
	schema.KindInt64:  OpInt64,
	schema.KindUint32: OpUint32,
	schema.KindUint64: OpUint64,
	schema.KindBool:   OpBool,
	schema.KindFloat:  OpFloat,
	schema.KindDouble: OpDouble,
	schema.KindString: OpString,
}

// compiler memoises struct plans across one compilation so every reference to a
// struct yields the same *StructPlan.
type compiler struct {
	structs map[*schema.Struct]*StructPlan
	pending []*StructPlan
	chain   map[*schema.Struct]bool // structs reached through direct fields only
	lists   []listSite              // struct-element lists, checked once sizes are known
}

type listSite struct {
	plan   *Plan
	entity string
}

func newCompiler() *compiler {
	return &compiler{
		structs: make(map[*schema.Struct]*StructPlan),
		chain:   make(map[*schema.Struct]bool),
	}
}

// Compile turns a resolved TypeRef into a Plan. Unresolved references and types
// the wire format cannot carry are SchemaErrors.
func Compile(t *schema.TypeRef) (*Plan, error) {
	c := newCompiler()
	p, err := c.compile(t, "type "+t.String())
	if err != nil {
		return nil, err
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// CompileFields compiles an ordered field or parameter list.
func CompileFields(fields []schema.Field) ([]FieldPlan, error) {
	c := newCompiler()
	fp, err := c.fields(fields, "fields")
	if err != nil {
		return nil, err
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return fp, nil
}

func (c *compiler) fields(fields []schema.Field, entity string) ([]FieldPlan, error) {
	out := make([]FieldPlan, len(fields))
	for i, f := range fields {
		p, err := c.compile(f.Type, entity+" "+f.Name)
		if err != nil {
			return nil, err
		}
		out[i] = FieldPlan{Name: f.Name, Plan: p}
	}
	return out, nil
}

func (c *compiler) compile(t *schema.TypeRef, entity string) (*Plan, error) {
	if t == nil {
		return nil, &schema.SchemaError{Entity: entity, Reason: "missing type"}
	}
	if op, ok := primitiveOps[t.Kind]; ok {
		return &Plan{Op: op}, nil
	}

	switch t.Kind {
	case schema.KindOptional, schema.KindList, schema.KindStream:
		if t.Elem == nil || t.Elem.Kind.IsWrapper() {
			return nil, &schema.SchemaError{Entity: entity, Reason: fmt.Sprintf("unsupported wrapper %s", t)}
		}
		// A wrapper breaks any struct cycle, so the direct chain restarts below it
		saved := c.chain
		c.chain = make(map[*schema.Struct]bool)
		elem, err := c.compile(t.Elem, entity)
		c.chain = saved
		if err != nil {
			return nil, err
		}
		op := OpOptional
		if t.Kind == schema.KindList {
			op = OpList
		} else if t.Kind == schema.KindStream {
			op = OpStream
		}
		p := &Plan{Op: op, Elem: elem}
		if op == OpList && elem.Op == OpStruct {
			c.lists = append(c.lists, listSite{plan: p, entity: entity})
		}
		return p, nil

	case schema.KindNamed:
		if t.Enum != nil {
			return &Plan{Op: OpEnum, Enum: t.Enum}, nil
		}
		if t.Struct != nil {
			sp, err := c.structPlan(t.Struct)
			if err != nil {
				return nil, err
			}
			return &Plan{Op: OpStruct, Struct: sp}, nil
		}
		return nil, &schema.SchemaError{Entity: entity, Reason: fmt.Sprintf("unresolved type reference %q", t.Name)}
	}
	return nil, &schema.SchemaError{Entity: entity, Reason: fmt.Sprintf("unsupported type %s", t)}
}

func (c *compiler) structPlan(st *schema.Struct) (*StructPlan, error) {
	if c.chain[st] {
		return nil, &schema.SchemaError{
			Entity: "struct " + st.Name,
			Reason: "recursive through direct fields; wrap the reference in OPTIONAL or LIST",
		}
	}
	if sp, ok := c.structs[st]; ok {
		return sp, nil
	}

	// Register before descending so recursive references find this plan
	sp := &StructPlan{Name: st.Name}
	c.structs[st] = sp
	c.pending = append(c.pending, sp)

	c.chain[st] = true
	fields, err := c.fields(st.Fields, "struct "+st.Name+" field")
	delete(c.chain, st)
	if err != nil {
		return nil, err
	}
	sp.Fields = fields
	return sp, nil
}

// finish computes struct minimum sizes once every plan is complete. Direct cycles
// were rejected above, so the recursion only follows finite chains. A list of a
// zero-width struct is rejected: its count could not be checked against the
// payload.
func (c *compiler) finish() error {
	done := make(map[*StructPlan]bool)
	var size func(sp *StructPlan) int
	size = func(sp *StructPlan) int {
		if done[sp] {
			return sp.minSize
		}
		n := 0
		for _, f := range sp.Fields {
			if f.Plan.Op == OpStruct {
				n += size(f.Plan.Struct)
			} else {
				n += f.Plan.MinSize()
			}
		}
		sp.minSize = n
		done[sp] = true
		return n
	}
	for _, sp := range c.pending {
		size(sp)
	}
	for _, l := range c.lists {
		if l.plan.Elem.MinSize() == 0 {
			return &schema.SchemaError{
				Entity: l.entity,
				Reason: fmt.Sprintf("LIST(%s) of a struct that encodes to zero bytes", l.plan.Elem.Struct.Name),
			}
		}
	}
	return nil
}
