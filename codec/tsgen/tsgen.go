// Package tsgen renders a codec table as TypeScript source for browser and Node
// clients.
//
// The output walks the same Plans as the Go backends, so the bytes it produces
// and accepts match them exactly. It contains a small Writer/Reader runtime, one
// interface plus encode/decode function per struct, an enum per schema enum, the
// method tables (ids, stream and void sets, per-method timeouts) and the two
// entry points the client runtime calls:
//
//	encodeRequest(methodId, args)  → Uint8Array
//	decodeResponse(methodId, bytes) → value (or one push, for stream methods)
package tsgen

import (
	"bytes"
	"esprpc/codec"
	"fmt"
	"strings"
	"time"
)

// Options tune the generated source.
type Options struct {
	// MaxString and MaxList bound what the generated Reader retains by default.
	MaxString int
	MaxList   int

	// CallTimeout is the fallback for methods without a timeout option; 2s when zero.
	CallTimeout time.Duration
}

// Generate renders the TypeScript codec module for t.
func Generate(t *codec.Table, opts Options) []byte {
	g := &generator{opts: opts}
	g.P("/* Code generated by esprpc tsgen. DO NOT EDIT. */")
	g.P()
	g.runtime()
	g.enums(t)
	for _, sp := range t.Structs() {
		g.structType(sp)
	}
	for _, sp := range t.Structs() {
		g.structCodec(sp)
	}
	g.methodIDs(t)
	g.encodeRequest(t)
	g.decodeResponse(t)
	return g.buf.Bytes()
}

type generator struct {
	buf    bytes.Buffer
	indent int
	opts   Options
}

// P prints one line at the current indentation.
func (g *generator) P(v ...any) {
	if len(v) > 0 {
		g.buf.WriteString(strings.Repeat("  ", g.indent))
	}
	for _, x := range v {
		fmt.Fprint(&g.buf, x)
	}
	g.buf.WriteByte('\n')
}

func (g *generator) in()  { g.indent++ }
func (g *generator) out() { g.indent-- }

func (g *generator) enums(t *codec.Table) {
	for _, e := range t.Schema().Enums {
		g.P("export enum ", e.Name, " {")
		g.in()
		for _, v := range e.Values {
			g.P(v.Name, " = ", v.Number, ",")
		}
		g.out()
		g.P("}")
		g.P()
	}
}

func (g *generator) structType(sp *codec.StructPlan) {
	g.P("export interface ", sp.Name, " {")
	g.in()
	for _, f := range sp.Fields {
		g.P(f.Name, ": ", tsType(f.Plan), ";")
	}
	g.out()
	g.P("}")
	g.P()
}

func (g *generator) structCodec(sp *codec.StructPlan) {
	g.P("function encode", sp.Name, "(w: Writer, v: ", sp.Name, "): void {")
	g.in()
	for _, f := range sp.Fields {
		g.P(encodeExpr(f.Plan, withZero(f.Plan, "v."+f.Name), 0), ";")
	}
	g.out()
	g.P("}")
	g.P()
	g.P("function decode", sp.Name, "(r: Reader): ", sp.Name, " {")
	g.in()
	g.P("return {")
	g.in()
	for _, f := range sp.Fields {
		g.P(f.Name, ": ", decodeExpr(f.Plan), ",")
	}
	g.out()
	g.P("};")
	g.out()
	g.P("}")
	g.P()
}

func (g *generator) methodIDs(t *codec.Table) {
	g.P("export const MethodId = {")
	g.in()
	for _, m := range t.Methods() {
		g.P(fmt.Sprintf("%q: 0x%02x,", m.FullName(), byte(m.ID)))
	}
	g.out()
	g.P("} as const;")
	g.P()
	g.P("const streamMethods = new Set<number>([", streamIDs(t), "]);")
	g.P()
	g.P("export function isStream(methodId: number): boolean {")
	g.in()
	g.P("return streamMethods.has(methodId);")
	g.out()
	g.P("}")
	g.P()
	g.P("const voidMethods = new Set<number>([", voidIDs(t), "]);")
	g.P()
	g.P("export function isVoid(methodId: number): boolean {")
	g.in()
	g.P("return voidMethods.has(methodId);")
	g.out()
	g.P("}")
	g.P()
	g.P("const methodTimeouts = new Map<number, number>([", methodTimeouts(t), "]);")
	g.P()
	timeout := g.opts.CallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	g.P(fmt.Sprintf("export const defaultCallTimeout = %d;", timeout.Milliseconds()))
	g.P()
	g.P("export function callTimeout(methodId: number, fallback = defaultCallTimeout): number {")
	g.in()
	g.P("return methodTimeouts.get(methodId) ?? fallback;")
	g.out()
	g.P("}")
	g.P()
}

func (g *generator) encodeRequest(t *codec.Table) {
	g.P("export function encodeRequest(methodId: number, args: unknown[]): Uint8Array {")
	g.in()
	g.P("const w = new Writer();")
	g.P("switch (methodId) {")
	g.in()
	for _, m := range t.Methods() {
		g.P(fmt.Sprintf("case 0x%02x: // %s", byte(m.ID), m.FullName()))
		g.in()
		for i, p := range m.Params {
			arg := fmt.Sprintf("(args[%d] as %s)", i, tsType(p.Plan))
			g.P(encodeExpr(p.Plan, arg, 0), ";")
		}
		g.P("break;")
		g.out()
	}
	g.P("default:")
	g.in()
	g.P("throw new Error(`Unknown methodId: ${methodId}`);")
	g.out()
	g.out()
	g.P("}")
	g.P("return w.bytes();")
	g.out()
	g.P("}")
	g.P()
}

func (g *generator) decodeResponse(t *codec.Table) {
	g.P(fmt.Sprintf("export function decodeResponse(methodId: number, payload: Uint8Array, maxString = %d, maxList = %d): unknown {",
		g.opts.MaxString, g.opts.MaxList))
	g.in()
	g.P("const r = new Reader(payload, maxString, maxList);")
	g.P("switch (methodId) {")
	g.in()
	for _, m := range t.Methods() {
		g.P(fmt.Sprintf("case 0x%02x: // %s", byte(m.ID), m.FullName()))
		g.in()
		if m.Result == nil {
			g.P("return undefined;")
		} else {
			g.P("return ", decodeExpr(m.Result), ";")
		}
		g.out()
	}
	g.P("default:")
	g.in()
	g.P("throw new Error(`Unknown methodId: ${methodId}`);")
	g.out()
	g.out()
	g.P("}")
	g.out()
	g.P("}")
}

func streamIDs(t *codec.Table) string {
	var ids []string
	for _, m := range t.Methods() {
		if m.Stream {
			ids = append(ids, fmt.Sprintf("0x%02x", byte(m.ID)))
		}
	}
	return strings.Join(ids, ", ")
}

func voidIDs(t *codec.Table) string {
	var ids []string
	for _, m := range t.Methods() {
		if !m.Stream && m.Result == nil {
			ids = append(ids, fmt.Sprintf("0x%02x", byte(m.ID)))
		}
	}
	return strings.Join(ids, ", ")
}

// methodTimeouts lists [id, milliseconds] pairs for methods with a timeout option.
func methodTimeouts(t *codec.Table) string {
	var pairs []string
	for _, m := range t.Methods() {
		if m.Timeout > 0 {
			pairs = append(pairs, fmt.Sprintf("[0x%02x, %d]", byte(m.ID), m.Timeout.Milliseconds()))
		}
	}
	return strings.Join(pairs, ", ")
}

func tsType(p *codec.Plan) string {
	switch p.Op {
	case codec.OpInt64, codec.OpUint64:
		return "bigint"
	case codec.OpBool:
		return "boolean"
	case codec.OpString:
		return "string"
	case codec.OpEnum:
		return p.Enum.Name
	case codec.OpOptional:
		return tsType(p.Elem) + " | null"
	case codec.OpList:
		inner := tsType(p.Elem)
		if p.Elem.Op == codec.OpOptional {
			inner = "(" + inner + ")"
		}
		return inner + "[]"
	case codec.OpStruct:
		return p.Struct.Name
	case codec.OpStream:
		return tsType(p.Elem)
	}
	return "number"
}

// withZero substitutes the zero value for a missing struct member, matching the Go
// backends.
func withZero(p *codec.Plan, v string) string {
	switch p.Op {
	case codec.OpInt64, codec.OpUint64:
		return v + " ?? 0n"
	case codec.OpBool:
		return v + " ?? false"
	case codec.OpString:
		return v + ` ?? ""`
	case codec.OpStruct:
		return v + " ?? ({} as " + p.Struct.Name + ")"
	case codec.OpOptional, codec.OpList:
		return v
	}
	return v + " ?? 0"
}

func encodeExpr(p *codec.Plan, v string, depth int) string {
	x := fmt.Sprintf("x%d", depth)
	switch p.Op {
	case codec.OpInt32, codec.OpEnum:
		return "w.i32(" + v + ")"
	case codec.OpUint32:
		return "w.u32(" + v + ")"
	case codec.OpInt64:
		return "w.i64(" + v + ")"
	case codec.OpUint64:
		return "w.u64(" + v + ")"
	case codec.OpBool:
		return "w.bool(" + v + ")"
	case codec.OpFloat:
		return "w.f32(" + v + ")"
	case codec.OpDouble:
		return "w.f64(" + v + ")"
	case codec.OpString:
		return "w.str(" + v + ")"
	case codec.OpOptional:
		return "w.opt(" + v + ", (" + x + ") => " + encodeExpr(p.Elem, x, depth+1) + ")"
	case codec.OpList:
		return "w.list(" + v + ", (" + x + ") => " + encodeExpr(p.Elem, x, depth+1) + ")"
	case codec.OpStruct:
		return "encode" + p.Struct.Name + "(w, " + v + ")"
	}
	return "void 0"
}

func decodeExpr(p *codec.Plan) string {
	switch p.Op {
	case codec.OpInt32, codec.OpEnum:
		return "r.i32()"
	case codec.OpUint32:
		return "r.u32()"
	case codec.OpInt64:
		return "r.i64()"
	case codec.OpUint64:
		return "r.u64()"
	case codec.OpBool:
		return "r.bool()"
	case codec.OpFloat:
		return "r.f32()"
	case codec.OpDouble:
		return "r.f64()"
	case codec.OpString:
		return "r.str()"
	case codec.OpOptional:
		return "r.opt(() => " + decodeExpr(p.Elem) + ")"
	case codec.OpList:
		return "r.list(() => " + decodeExpr(p.Elem) + ")"
	case codec.OpStruct:
		return "decode" + p.Struct.Name + "(r)"
	}
	return "undefined"
}
