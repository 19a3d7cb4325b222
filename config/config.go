// Package config loads runtime settings from TOML.
//
//	[client]
//	call_timeout = "2s"
//
//	[dispatch]
//	max_string = 127
//	max_list   = 8
//	max_frame  = 2048
//
//	[log]
//	level  = "info"
//	format = "json"
//
//	[registry]
//	endpoints = ["127.0.0.1:2379"]
//	ttl       = "10s"
//
// Keys left out keep their Default value. ESPRPC_CALL_TIMEOUT overrides
// client.call_timeout after the file is read.
package config

import (
	"errors"
	"esprpc/codec"
	"esprpc/protocol"
	"esprpc/schema"
	"esprpc/wire"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

const EnvCallTimeout = "ESPRPC_CALL_TIMEOUT"

// Duration is a time.Duration written as a string ("2s", "150ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Schemas  []string `toml:"schemas"` // schema document files, merged in order
	Client   Client   `toml:"client"`
	Dispatch Dispatch `toml:"dispatch"`
	Log      Log      `toml:"log"`
	Registry Registry `toml:"registry"`
}

type Client struct {
	CallTimeout Duration `toml:"call_timeout"`
	Origin      string   `toml:"origin"` // WebSocket origin when dialling ws endpoints
}

// Dispatch bounds what a peer retains from the wire and puts on it.
type Dispatch struct {
	MaxString  int  `toml:"max_string"` // bytes kept per decoded string
	MaxList    int  `toml:"max_list"`   // elements kept per decoded list
	MaxFrame   int  `toml:"max_frame"`  // largest frame sent or accepted, header included
	StrictBool bool `toml:"strict_bool"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

type Registry struct {
	Endpoints   []string `toml:"endpoints"`
	TTL         Duration `toml:"ttl"`
	DialTimeout Duration `toml:"dial_timeout"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Client: Client{CallTimeout: Duration{2 * time.Second}},
		Dispatch: Dispatch{
			MaxString: 127,
			MaxList:   8,
			MaxFrame:  protocol.DefaultMaxFrame,
		},
		Log: Log{Level: "info", Format: "json"},
		Registry: Registry{
			TTL:         Duration{10 * time.Second},
			DialTimeout: Duration{5 * time.Second},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates
// the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode is Load for TOML text that is already in memory.
func Decode(text string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := strings.TrimSpace(os.Getenv(EnvCallTimeout)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvCallTimeout, err)
		}
		c.Client.CallTimeout.Duration = d
	}
	return nil
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs error
	if c.Client.CallTimeout.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("config: client.call_timeout must be positive"))
	}
	if c.Dispatch.MaxString < 0 || c.Dispatch.MaxString > wire.MaxStringLen {
		errs = multierr.Append(errs, fmt.Errorf("config: dispatch.max_string must be within [0, %d]", wire.MaxStringLen))
	}
	if c.Dispatch.MaxList < 0 {
		errs = multierr.Append(errs, errors.New("config: dispatch.max_list must not be negative"))
	}
	if c.Dispatch.MaxFrame < protocol.HeaderSize || c.Dispatch.MaxFrame > protocol.HeaderSize+protocol.MaxPayload {
		errs = multierr.Append(errs, fmt.Errorf("config: dispatch.max_frame must be within [%d, %d]",
			protocol.HeaderSize, protocol.HeaderSize+protocol.MaxPayload))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: log.format %q is not json or console", c.Log.Format))
	}
	if len(c.Registry.Endpoints) > 0 && c.Registry.TTL.Duration < time.Second {
		errs = multierr.Append(errs, errors.New("config: registry.ttl must be at least 1s"))
	}
	return errs
}

// WireLimits are the decode bounds for codec tables.
func (d Dispatch) WireLimits() wire.Limits {
	l := wire.Limits{MaxString: d.MaxString, MaxList: d.MaxList, Bool: wire.BoolLenient}
	if d.StrictBool {
		l.Bool = wire.BoolStrict
	}
	return l
}

// FrameLimits are the frame size bounds for servers.
func (d Dispatch) FrameLimits() protocol.Limits {
	return protocol.Limits{MaxFrame: d.MaxFrame}
}

// TTLSeconds is the registry lease TTL as etcd wants it.
func (r Registry) TTLSeconds() int64 {
	return int64(r.TTL.Duration / time.Second)
}

// Codecs loads and merges the configured schema files and compiles them with
// the dispatch limits.
func (c Config) Codecs() (*codec.Table, error) {
	if len(c.Schemas) == 0 {
		return nil, errors.New("config: no schema files configured")
	}
	docs := make([]*schema.Document, 0, len(c.Schemas))
	for _, path := range c.Schemas {
		doc, err := schema.LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	s, err := schema.BuildDocuments(docs...)
	if err != nil {
		return nil, err
	}
	return codec.NewTable(s, c.Dispatch.WireLimits())
}
