package codec

import (
	"bytes"
	"errors"
	"esprpc/schema"
	"esprpc/wire"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type user struct {
	ID   int32
	Name string
	Role int32
	Nick *string
	Tags []string `rpc:"tags"`
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewBuilder().
		Enum("Role", schema.V("Admin"), schema.VN("Guest", 7)).
		Struct("User",
			schema.F("id", schema.Int32()),
			schema.F("name", schema.Str()),
			schema.F("role", schema.Named("Role")),
			schema.F("nick", schema.Optional(schema.Str())),
			schema.F("tags", schema.List(schema.Str())),
		).
		Struct("Batch",
			schema.F("items", schema.List(schema.Int32())),
			schema.F("tail", schema.Int32()),
		).
		Struct("Node",
			schema.F("value", schema.Int32()),
			schema.F("children", schema.List(schema.Named("Node"))),
			schema.F("next", schema.Optional(schema.Named("Node"))),
		).
		Service("Calc",
			schema.Method{Name: "Add", Params: []schema.Field{schema.F("a", schema.Int32()), schema.F("b", schema.Int32())}, Returns: schema.Int32()},
			schema.Method{Name: "Ticks", Returns: schema.Stream(schema.Double())},
			schema.Method{Name: "Reset"},
		).
		Service("Users",
			schema.Method{Name: "Get", Params: []schema.Field{schema.F("id", schema.Int32())}, Returns: schema.Named("User")},
		).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return s
}

func testTable(t *testing.T, limits wire.Limits) *Table {
	t.Helper()
	table, err := NewTable(testSchema(t), limits)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table
}

func structPlan(t *testing.T, table *Table, name string) *Plan {
	t.Helper()
	for _, sp := range table.Structs() {
		if sp.Name == name {
			return &Plan{Op: OpStruct, Struct: sp}
		}
	}
	t.Fatalf("no struct plan %s", name)
	return nil
}

func TestCalcAdd(t *testing.T) {
	table := testTable(t, wire.Limits{})
	add, ok := table.Lookup("Calc.Add")
	if !ok || add.ID != 0 {
		t.Fatalf("Calc.Add not at methodId 0: %v", add)
	}

	req, err := add.EncodeRequest([]any{2, 3})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if want := []byte{0x02, 0, 0, 0, 0x03, 0, 0, 0}; !bytes.Equal(req, want) {
		t.Fatalf("request: got % x, want % x", req, want)
	}

	args, err := add.DecodeRequest(req)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if diff := cmp.Diff([]any{int32(2), int32(3)}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}

	resp, err := add.EncodeResponse(args[0].(int32) + args[1].(int32))
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x05, 0, 0, 0}; !bytes.Equal(resp, want) {
		t.Fatalf("response: got % x, want % x", resp, want)
	}
	got, err := add.DecodeResponse(resp)
	if err != nil || got != int32(5) {
		t.Fatalf("DecodeResponse: got %v, %v", got, err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	table := testTable(t, wire.Limits{})
	get, _ := table.Lookup("Users.Get")

	in := Record{"id": int32(7), "name": "ada", "role": int32(7), "nick": "ad", "tags": []any{"a", "b"}}
	payload, err := get.EncodeResponse(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := get.DecodeResponse(payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBackendsInterchangeable(t *testing.T) {
	table := testTable(t, wire.Limits{})
	plan := structPlan(t, table, "User")
	values := GetCodec(CodecTypeValues, plan, wire.Limits{})
	bind := GetCodec(CodecTypeBind, plan, wire.Limits{})

	nick := "ad"
	typed := user{ID: -1, Name: "héllo", Role: 7, Nick: &nick, Tags: []string{"x"}}
	dynamic := Record{"id": int32(-1), "name": "héllo", "role": int32(7), "nick": "ad", "tags": []any{"x"}}

	fromBind, err := bind.Encode(typed)
	if err != nil {
		t.Fatalf("bind Encode failed: %v", err)
	}
	fromValues, err := values.Encode(dynamic)
	if err != nil {
		t.Fatalf("values Encode failed: %v", err)
	}
	if !bytes.Equal(fromBind, fromValues) {
		t.Fatalf("backends disagree:\nbind   % x\nvalues % x", fromBind, fromValues)
	}

	// Each backend decodes the other's bytes
	var asAny any
	if err := values.Decode(fromBind, &asAny); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(dynamic, asAny); diff != "" {
		t.Fatalf("values decode of bind bytes (-want +got):\n%s", diff)
	}
	var asUser user
	if err := bind.Decode(fromValues, &asUser); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(typed, asUser); diff != "" {
		t.Fatalf("bind decode of values bytes (-want +got):\n%s", diff)
	}
}

func TestOptionalSize(t *testing.T) {
	opt, err := Compile(schema.Optional(schema.Int64()))
	if err != nil {
		t.Fatal(err)
	}
	c := GetCodec(CodecTypeValues, opt, wire.Limits{})

	none, _ := c.Encode(nil)
	if len(none) != 1 || none[0] != 0 {
		t.Fatalf("Optional(None) should be exactly 0x00, got % x", none)
	}
	some, _ := c.Encode(int64(9))
	if len(some) != 1+8 || some[0] != 1 {
		t.Fatalf("Optional(Some) should be 1+8 bytes, got % x", some)
	}
}

func TestListTruncationKeepsCursor(t *testing.T) {
	table := testTable(t, wire.Limits{MaxList: 8})
	plan := structPlan(t, table, "Batch")

	items := make([]any, 10)
	for i := range items {
		items[i] = int32(i)
	}
	payload, err := GetCodec(CodecTypeValues, plan, wire.Limits{}).Encode(Record{"items": items, "tail": int32(77)})
	if err != nil {
		t.Fatal(err)
	}

	var got any
	if err := GetCodec(CodecTypeValues, plan, wire.Limits{MaxList: 8}).Decode(payload, &got); err != nil {
		t.Fatal(err)
	}
	want := Record{"items": items[:8], "tail": int32(77)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("values truncation (-want +got):\n%s", diff)
	}

	var typed struct {
		Items []int32
		Tail  int32
	}
	if err := GetCodec(CodecTypeBind, plan, wire.Limits{MaxList: 8}).Decode(payload, &typed); err != nil {
		t.Fatal(err)
	}
	if len(typed.Items) != 8 || typed.Items[7] != 7 || typed.Tail != 77 {
		t.Fatalf("bind truncation: %+v", typed)
	}
}

func TestRecursiveStruct(t *testing.T) {
	table := testTable(t, wire.Limits{})
	plan := structPlan(t, table, "Node")
	if plan.Struct.Fields[1].Plan.Elem.Struct != plan.Struct {
		t.Fatal("recursive reference should reuse the same struct plan")
	}

	leaf := Record{"value": int32(3), "children": []any{}, "next": nil}
	tree := Record{
		"value":    int32(1),
		"children": []any{leaf, leaf},
		"next":     Record{"value": int32(2), "children": []any{}, "next": nil},
	}
	c := GetCodec(CodecTypeValues, plan, wire.Limits{})
	payload, err := c.Encode(tree)
	if err != nil {
		t.Fatal(err)
	}
	var got any
	if err := c.Decode(payload, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tree, got); diff != "" {
		t.Fatalf("recursive round trip (-want +got):\n%s", diff)
	}
}

func TestDirectRecursionRejected(t *testing.T) {
	s, err := schema.NewBuilder().
		Struct("A", schema.F("b", schema.Named("B"))).
		Struct("B", schema.F("a", schema.Named("A"))).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewTable(s, wire.Limits{})
	var se *schema.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

// 零宽结构体的 LIST 无法用剩余字节校验元素个数，编译期就拒绝
func TestListOfZeroWidthStructRejected(t *testing.T) {
	s, err := schema.NewBuilder().
		Struct("Empty").
		Struct("Hollow", schema.F("e", schema.Named("Empty"))).
		Service("S",
			schema.Method{Name: "M", Params: []schema.Field{schema.F("l", schema.List(schema.Named("Hollow")))}},
		).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	table, err := NewTable(s, wire.Limits{})
	var se *schema.SchemaError
	if !errors.As(err, &se) || table != nil {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Entity != "method S.M param l" {
		t.Fatalf("error names %q", se.Entity)
	}

	// A lone empty struct and OPTIONAL of one still compile
	s, err = schema.NewBuilder().
		Struct("Empty").
		Service("S",
			schema.Method{Name: "M", Params: []schema.Field{schema.F("e", schema.Named("Empty")), schema.F("o", schema.Optional(schema.Named("Empty")))}},
		).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTable(s, wire.Limits{}); err != nil {
		t.Fatalf("empty struct outside a list: %v", err)
	}
}

func TestMissingFieldsEncodeZero(t *testing.T) {
	table := testTable(t, wire.Limits{})
	c := GetCodec(CodecTypeValues, structPlan(t, table, "User"), wire.Limits{})

	sparse, err := c.Encode(Record{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	full, err := GetCodec(CodecTypeBind, structPlan(t, table, "User"), wire.Limits{}).Encode(user{Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sparse, full) {
		t.Fatalf("sparse record % x, zero struct % x", sparse, full)
	}
}

func TestEncodeErrors(t *testing.T) {
	table := testTable(t, wire.Limits{})
	add, _ := table.Lookup("Calc.Add")

	_, err := add.EncodeRequest([]any{"two", 3})
	var ee *EncodeError
	if !errors.As(err, &ee) || !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch EncodeError, got %v", err)
	}
	if ee.Path != "Calc.Add(a)" {
		t.Fatalf("unexpected path %q", ee.Path)
	}
	if _, err := add.EncodeRequest([]any{1 << 40, 3}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := add.EncodeRequest([]any{1}); !errors.Is(err, ErrArgCount) {
		t.Fatalf("expected ErrArgCount, got %v", err)
	}
}

func TestDecodeShortPayload(t *testing.T) {
	table := testTable(t, wire.Limits{})
	add, _ := table.Lookup("Calc.Add")
	_, err := add.DecodeRequest([]byte{2, 0, 0, 0, 3})
	var de *wire.DecodeError
	if !errors.As(err, &de) || de.Offset != 4 {
		t.Fatalf("expected DecodeError at offset 4, got %v", err)
	}
}

func TestStreamAndVoidMethods(t *testing.T) {
	table := testTable(t, wire.Limits{})

	ticks, _ := table.Lookup("Calc.Ticks")
	if !ticks.Stream || ticks.ID != 0x01 {
		t.Fatalf("Calc.Ticks: stream=%v id=%s", ticks.Stream, ticks.ID)
	}
	req, err := ticks.EncodeRequest(nil)
	if err != nil || len(req) != 0 {
		t.Fatalf("stream invocation should be empty, got % x (%v)", req, err)
	}
	push, _ := ticks.EncodeResponse(0.5)
	v, err := ticks.DecodeResponse(push)
	if err != nil || v != 0.5 {
		t.Fatalf("push round trip: %v, %v", v, err)
	}

	reset, _ := table.Lookup("Calc.Reset")
	resp, err := reset.EncodeResponse(nil)
	if err != nil || len(resp) != 0 {
		t.Fatalf("void response should be empty, got % x", resp)
	}
	if v, err := reset.DecodeResponse(nil); v != nil || err != nil {
		t.Fatalf("void decode: %v, %v", v, err)
	}
}

func TestReadRequestInto(t *testing.T) {
	table := testTable(t, wire.Limits{MaxString: 3})
	get, _ := table.Lookup("Users.Get")
	var id int64
	r := wire.NewReader([]byte{9, 0, 0, 0}, get.Limits())
	if err := get.ReadRequestInto(r, []reflect.Value{reflect.ValueOf(&id).Elem()}); err != nil {
		t.Fatal(err)
	}
	if id != 9 {
		t.Fatalf("got %d", id)
	}
}

func TestEmptyListsDecodeEmpty(t *testing.T) {
	table := testTable(t, wire.Limits{})
	c := GetCodec(CodecTypeBind, structPlan(t, table, "User"), wire.Limits{})
	payload, _ := c.Encode(user{Name: "n"})
	var got user
	if err := c.Decode(payload, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(user{Name: "n"}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}
