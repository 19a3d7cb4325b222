package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunWritesModule(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "users.toml")
	os.WriteFile(schemaPath, []byte(`
[[service]]
name = "Users"
  [[service.method]]
  name = "List"
  returns = "LIST(int)"
  options = "timeout:5000"
  [[service.method]]
  name = "Ping"
`), 0o644)
	cfgPath := filepath.Join(dir, "esprpc.toml")
	os.WriteFile(cfgPath, []byte(`schemas = ["`+filepath.ToSlash(schemaPath)+`"]

[client]
call_timeout = "3s"

[log]
level = "off"
`), 0o644)

	output := filepath.Join(dir, "gen", "rpc_codec.ts")
	if err := run(cfgPath, output); err != nil {
		t.Fatal(err)
	}
	src, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"Users.List": 0x00,`,
		`"Users.Ping": 0x01,`,
		"const voidMethods = new Set<number>([0x01]);",
		"const methodTimeouts = new Map<number, number>([[0x00, 5000]]);",
		"export const defaultCallTimeout = 3000;",
	} {
		if !strings.Contains(string(src), want) {
			t.Errorf("generated module is missing %q", want)
		}
	}

	if err := run(filepath.Join(dir, "missing.toml"), output); err == nil {
		t.Fatal("expect an error for a missing config")
	}
}
