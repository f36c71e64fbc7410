package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Alex-PLACET/sparrow-go-bridge/bridge"
	"github.com/Alex-PLACET/sparrow-go-bridge/sparrow"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("bridge demo failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	// in-process exchange: export, import, verify, all on the Go side
	log.Info("creating test array")
	schemaAddr, arrayAddr, status := sparrow.CreateArray()
	if status != bridge.StatusOK {
		return fmt.Errorf("create: %s", status)
	}
	log.Info("created descriptor pair", "schema", fmt.Sprintf("%#x", schemaAddr), "array", fmt.Sprintf("%#x", arrayAddr))

	outSchema, outArray, status := sparrow.Roundtrip(schemaAddr, arrayAddr)
	if status != bridge.StatusOK {
		sparrow.ReleasePair(schemaAddr, arrayAddr)
		return fmt.Errorf("roundtrip: %s", status)
	}
	if status := sparrow.VerifySize(outSchema, outArray, 5); status != bridge.StatusOK {
		return fmt.Errorf("verify: %s", status)
	}
	log.Info("in-process roundtrip verified", "len", 5)

	// full coordinator cycle through capsules
	coord := sparrow.NewCoordinator(log)
	src := sparrow.NewInt32Array(
		[]int32{1, 2, 0, 4, 5},
		[]bool{true, true, false, true, true},
	)
	out, err := coord.RoundTrip(src)
	src.Release()
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	log.Info("capsule roundtrip verified", "len", out.Len(), "nulls", out.NullN())
	out.Release()

	// the same exchange against an external engine, when one is configured
	if err := sparrow.CheckLibraries(); err != nil {
		log.Info("no external engine configured, skipping FFI leg", "reason", err.Error())
		return nil
	}
	return runExternal(log)
}

func runExternal(log *slog.Logger) error {
	engine, err := sparrow.LoadEngine("", "")
	if err != nil {
		return fmt.Errorf("load engine: %w", err)
	}
	engine.InitRuntime()
	log.Info("external engine loaded")

	schemaAddr, arrayAddr, status := engine.CreateTestArray()
	if status != bridge.StatusOK {
		return fmt.Errorf("engine create: %s", status)
	}

	im, err := bridge.ImportFromAddrs(schemaAddr, arrayAddr)
	if err != nil {
		sparrow.ReleasePair(schemaAddr, arrayAddr)
		return fmt.Errorf("import engine array: %w", err)
	}
	log.Info("imported engine array", "len", im.Array().Len(), "nulls", im.Array().NullN())
	im.Release()

	// hand one of ours to the engine and let it verify the size
	schemaAddr, arrayAddr, status = sparrow.CreateArray()
	if status != bridge.StatusOK {
		return fmt.Errorf("create: %s", status)
	}
	if status := engine.VerifyArraySize(schemaAddr, arrayAddr, 5); status != bridge.StatusOK {
		sparrow.ReleasePair(schemaAddr, arrayAddr)
		return fmt.Errorf("engine verify: %s", status)
	}
	log.Info("engine verified exported array", "len", 5)
	return nil
}
