// Command esprpc-tsgen writes the TypeScript codec module for the schemas named in
// an esprpc config file.
//
//	esprpc-tsgen -config esprpc.toml -output web/src/generated/rpc_codec.ts
package main

import (
	"esprpc/codec/tsgen"
	"esprpc/config"
	"esprpc/logging"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "esprpc.toml", "config file listing the schema documents")
	output := flag.String("output", "rpc_codec.ts", "path of the generated TypeScript module")
	flag.Parse()

	if err := run(*cfgPath, *output); err != nil {
		fmt.Fprintf(os.Stderr, "esprpc-tsgen: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, output string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	table, err := cfg.Codecs()
	if err != nil {
		return err
	}
	src := tsgen.Generate(table, tsgen.Options{
		MaxString:   cfg.Dispatch.MaxString,
		MaxList:     cfg.Dispatch.MaxList,
		CallTimeout: cfg.Client.CallTimeout.Duration,
	})
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(output, src, 0o644); err != nil {
		return err
	}
	log.Info("generated",
		zap.String("output", output),
		zap.Int("methods", len(table.Methods())),
		zap.Uint32("fingerprint", table.Schema().Fingerprint()))
	return nil
}
