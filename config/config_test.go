package config

import (
	"esprpc/protocol"
	"esprpc/wire"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Client.CallTimeout.Duration != 2*time.Second {
		t.Fatalf("call timeout %s", cfg.Client.CallTimeout)
	}
	want := wire.Limits{MaxString: 127, MaxList: 8, Bool: wire.BoolLenient}
	if diff := cmp.Diff(want, cfg.Dispatch.WireLimits()); diff != "" {
		t.Fatalf("wire limits (-want +got):\n%s", diff)
	}
	if cfg.Dispatch.FrameLimits() != (protocol.Limits{MaxFrame: 2048}) {
		t.Fatalf("frame limits %+v", cfg.Dispatch.FrameLimits())
	}
	if cfg.Registry.TTLSeconds() != 10 {
		t.Fatalf("ttl %d", cfg.Registry.TTLSeconds())
	}
}

func TestDecodeKeepsUnsetDefaults(t *testing.T) {
	cfg, err := Decode(`
[client]
call_timeout = "150ms"

[dispatch]
max_list = 32
strict_bool = true

[registry]
endpoints = ["10.0.0.1:2379", "10.0.0.2:2379"]
`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.CallTimeout.Duration != 150*time.Millisecond {
		t.Fatalf("call timeout %s", cfg.Client.CallTimeout)
	}
	want := wire.Limits{MaxString: 127, MaxList: 32, Bool: wire.BoolStrict}
	if diff := cmp.Diff(want, cfg.Dispatch.WireLimits()); diff != "" {
		t.Fatalf("wire limits (-want +got):\n%s", diff)
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.TTL.Duration != 10*time.Second {
		t.Fatalf("registry %+v", cfg.Registry)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format %q", cfg.Log.Format)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(EnvCallTimeout, "750ms")
	cfg, err := Decode(`[client]
call_timeout = "5s"`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.CallTimeout.Duration != 750*time.Millisecond {
		t.Fatalf("env override ignored: %s", cfg.Client.CallTimeout)
	}

	t.Setenv(EnvCallTimeout, "soon")
	if _, err := Decode(""); err == nil {
		t.Fatal("expect a bad env duration to fail")
	}
}

func TestValidate(t *testing.T) {
	_, err := Decode(`
[client]
call_timeout = "0s"

[dispatch]
max_string = 70000
max_frame = 3

[log]
format = "xml"
`)
	if err == nil {
		t.Fatal("expect validation errors")
	}
	if n := len(multierr.Errors(err)); n != 4 {
		t.Fatalf("expect 4 problems, got %d: %v", n, err)
	}

	if _, err := Decode(`[client]
call_timeout = "fast"`); err == nil {
		t.Fatal("expect a bad duration to fail")
	}
}

func TestLoadAndCodecs(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "calc.toml")
	os.WriteFile(schemaPath, []byte(`
[[service]]
name = "Calc"
  [[service.method]]
  name = "Add"
  params = [{ name = "a", type = "int" }, { name = "b", type = "int" }]
  returns = "int"
`), 0o644)
	cfgPath := filepath.Join(dir, "esprpc.toml")
	os.WriteFile(cfgPath, []byte(`schemas = ["`+filepath.ToSlash(schemaPath)+`"]

[dispatch]
max_string = 16
`), 0o644)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	table, err := cfg.Codecs()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := table.Lookup("Calc.Add")
	if !ok || m.ID != 0x00 {
		t.Fatalf("Calc.Add missing or misaddressed: %v", m)
	}
	if table.Limits().MaxString != 16 {
		t.Fatalf("limits %+v", table.Limits())
	}

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatal("expect missing file error")
	}
	if _, err := Default().Codecs(); err == nil {
		t.Fatal("expect an error without schema files")
	}
}
