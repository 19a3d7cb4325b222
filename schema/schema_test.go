package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func calcBuilder() *Builder {
	return NewBuilder().
		Enum("Role", V("Admin"), VN("Guest", 7), V("Owner")).
		Struct("User",
			F("id", Int32()),
			F("name", Str()),
			F("role", Named("Role")),
			F("nick", Optional(Str())),
			F("tags", List(Str())),
		).
		Service("Calc",
			Method{Name: "Add", Params: []Field{F("a", Int32()), F("b", Int32())}, Returns: Int32()},
			Method{Name: "Ticks", Returns: Stream(Int64())},
			Method{Name: "Reset"},
		).
		Service("Users",
			Method{Name: "Get", Params: []Field{F("id", Int32())}, Returns: Named("User")},
		)
}

func TestBuild(t *testing.T) {
	s, err := calcBuilder().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	role, ok := s.Enum("Role")
	if !ok {
		t.Fatal("enum Role missing")
	}
	// Unset values take their declaration index, explicit ones keep their number
	for name, want := range map[string]int32{"Admin": 0, "Guest": 7, "Owner": 2} {
		if got, _ := role.Number(name); got != want {
			t.Errorf("Role.%s: got %d, want %d", name, got, want)
		}
	}

	users, _ := s.Service("Users")
	if users.Index != 1 {
		t.Fatalf("Users index: got %d, want 1", users.Index)
	}
	get, _ := users.Method("Get")
	if !get.Returns.IsStruct() || get.Returns.Struct.Name != "User" {
		t.Fatalf("Get return not resolved to struct User: %+v", get.Returns)
	}
	user, _ := s.Struct("User")
	if !user.Fields[2].Type.IsEnum() {
		t.Fatalf("User.role not resolved to enum")
	}

	calc, _ := s.Service("Calc")
	ticks, _ := calc.Method("Ticks")
	if !ticks.Stream || ticks.Index != 1 || ticks.Result().Kind != KindInt64 {
		t.Fatalf("Ticks: stream=%v index=%d result=%s", ticks.Stream, ticks.Index, ticks.Result())
	}
	reset, _ := calc.Method("Reset")
	if reset.Returns != nil || reset.Stream {
		t.Fatalf("Reset should be void, got %s", reset.Returns)
	}
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	field := Named("User")
	b := NewBuilder().Struct("User", F("id", Int32())).
		Service("S", Method{Name: "Get", Returns: field})
	if _, err := b.Build(); err != nil {
		t.Fatal(err)
	}
	if field.Struct != nil {
		t.Fatal("Build resolved the caller's TypeRef in place")
	}
}

func TestBuildErrors(t *testing.T) {
	tooMany := make([]Method, MaxMethodsPerService+1)
	for i := range tooMany {
		tooMany[i] = Method{Name: "M" + strings.Repeat("x", i)}
	}

	cases := []struct {
		name    string
		builder *Builder
		reason  string
	}{
		{"unresolved", NewBuilder().Struct("A", F("b", Named("Missing"))), "unresolved type reference"},
		{"map", NewBuilder().Struct("A", F("m", Map(Str(), Int32()))), "unsupported type"},
		{"double optional", NewBuilder().Struct("A", F("o", Optional(Optional(Int32())))), "nested wrapper"},
		{"list of optional", NewBuilder().Struct("A", F("o", List(Optional(Int32())))), "nested wrapper"},
		{"stream field", NewBuilder().Struct("A", F("s", Stream(Int32()))), "only valid as a method return type"},
		{"stream params", NewBuilder().Service("S", Method{Name: "Watch", Params: []Field{F("id", Int32())}, Returns: Stream(Int32())}), "take no params"},
		{"duplicate name", NewBuilder().Enum("A", V("X")).Struct("A"), "already declared"},
		{"duplicate method", NewBuilder().Service("S", Method{Name: "M"}, Method{Name: "M"}), "duplicate method"},
		{"too many methods", NewBuilder().Service("S", tooMany...), "exceed the address space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build()
			if err == nil {
				t.Fatal("expected a schema error")
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("error %q does not mention %q", err, tc.reason)
			}
		})
	}
}

func TestBuildReportsEveryProblem(t *testing.T) {
	_, err := NewBuilder().
		Struct("A", F("x", Named("Nope")), F("y", Map(Str(), Str()))).
		Build()
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("expected 2 problems, got %d: %v", n, err)
	}
}

func TestTooManyServices(t *testing.T) {
	b := NewBuilder()
	for i := 0; i <= MaxServices; i++ {
		b.Service("S" + strings.Repeat("x", i))
	}
	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "17 services") {
		t.Fatalf("expected address space error, got %v", err)
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]string{
		"int":                    "int32",
		"REQUIRED(string)":       "string",
		"OPTIONAL(int)":          "OPTIONAL(int32)",
		" LIST( User ) ":         "LIST(User)",
		"STREAM(double)":         "STREAM(double)",
		"MAP(string, LIST(int))": "MAP(string,LIST(int32))",
	}
	for in, want := range cases {
		got, err := ParseType(in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", in, err)
		}
		if got.String() != want {
			t.Errorf("ParseType(%q) = %s, want %s", in, got, want)
		}
	}

	if v, err := ParseType("void"); err != nil || v != nil {
		t.Fatalf("void: got %v, %v", v, err)
	}
	for _, bad := range []string{"LIST(int", "TUPLE(int)", "9lives", "MAP(int)"} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) should fail", bad)
		}
	}
}

const userDoc = `
[[enum]]
name = "Role"
values = [{ name = "Admin" }, { name = "Guest", value = 7 }, { name = "Owner" }]

[[struct]]
name = "User"
fields = [
  { name = "id", type = "int" },
  { name = "name", type = "string" },
  { name = "role", type = "Role" },
  { name = "nick", type = "OPTIONAL(string)" },
  { name = "tags", type = "LIST(string)" },
]

[[service]]
name = "Calc"
  [[service.method]]
  name = "Add"
  params = [{ name = "a", type = "int" }, { name = "b", type = "int" }]
  returns = "int"
  [[service.method]]
  name = "Ticks"
  returns = "STREAM(int64)"
  [[service.method]]
  name = "Reset"
`

const usersDoc = `
[[struct]]
name = "User"
fields = [{ name = "other", type = "double" }]

[[service]]
name = "Calc"
  [[service.method]]
  name = "Shadowed"

[[service]]
name = "Users"
  [[service.method]]
  name = "Get"
  params = [{ name = "id", type = "int" }]
  returns = "User"
`

func TestDocumentsMatchBuilder(t *testing.T) {
	d1, err := DecodeDocument(strings.NewReader(userDoc))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := DecodeDocument(strings.NewReader(usersDoc))
	if err != nil {
		t.Fatal(err)
	}
	fromDocs, err := BuildDocuments(d1, d2)
	if err != nil {
		t.Fatalf("BuildDocuments: %v", err)
	}

	// First occurrence wins: User keeps d1's fields, Calc keeps d1's methods
	user, _ := fromDocs.Struct("User")
	if len(user.Fields) != 5 {
		t.Fatalf("User should come from the first document, got %d fields", len(user.Fields))
	}
	calc, _ := fromDocs.Service("Calc")
	if _, ok := calc.Method("Shadowed"); ok {
		t.Fatal("second Calc declaration should be ignored")
	}

	fromBuilder, err := calcBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	if fromDocs.Fingerprint() != fromBuilder.Fingerprint() {
		t.Fatalf("fingerprints differ:\n%s\n---\n%s", fromDocs.canonical(), fromBuilder.canonical())
	}
}

func TestFingerprintTracksFieldOrder(t *testing.T) {
	a, _ := NewBuilder().Struct("P", F("x", Int32()), F("y", Int64())).Build()
	b, _ := NewBuilder().Struct("P", F("y", Int64()), F("x", Int32())).Build()
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("reordered fields must change the fingerprint")
	}
}

func TestMethodTimeoutOption(t *testing.T) {
	s, err := NewBuilder().
		Service("Users",
			Method{Name: "List", Returns: List(Int32()), Options: "timeout:5000"},
			Method{Name: "Scan", Options: "retain, timeout"},
			Method{Name: "Get", Params: []Field{F("id", Int32())}, Returns: Int32()},
		).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	users, _ := s.Service("Users")
	for name, want := range map[string]time.Duration{"List": 5 * time.Second, "Scan": DefaultOptionTimeout, "Get": 0} {
		m, _ := users.Method(name)
		if m.Timeout != want {
			t.Errorf("%s timeout: got %s, want %s", name, m.Timeout, want)
		}
	}

	_, err = NewBuilder().
		Service("Users", Method{Name: "List", Options: "timeout:soon"}).
		Build()
	var se *SchemaError
	if !errors.As(err, &se) || !strings.Contains(se.Reason, "timeout") {
		t.Fatalf("expect a timeout SchemaError, got %v", err)
	}
}
