// Command rv32im loads a flat RV32IM machine-code image into memory and
// runs it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"rv32im/internal/monitor"
	"rv32im/pkg/console"
	"rv32im/pkg/luaenv"
	"rv32im/pkg/rv32"
)

// ramSize is a flag.Value so -ram accepts a plain byte count or a count
// suffixed with "k" or "m" (case-insensitive), e.g. "16m" for 16 MiB.
type ramSize uint32

func (r *ramSize) String() string {
	return strconv.FormatUint(uint64(*r), 10)
}

func (r *ramSize) Set(s string) error {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "k") || strings.HasSuffix(s, "K"):
		mult = 1 << 10
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m") || strings.HasSuffix(s, "M"):
		mult = 1 << 20
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid RAM size %q: %w", s, err)
	}
	*r = ramSize(n * mult)
	return nil
}

func main() {
	log.SetFlags(0)

	filename := flag.String("f", "", "machine-code image to load (required)")
	ramBytes := ramSize(16 << 20)
	flag.Var(&ramBytes, "ram", "RAM size in bytes, accepts a k or m suffix (default 16m)")
	startAddr := flag.Uint("start", 0, "load address and initial PC")
	envKind := flag.String("env", "console", "environment to service ECALL/EBREAK: console or lua")
	luaScript := flag.String("script", "", "Lua script path, required when -env=lua")
	useMonitor := flag.Bool("monitor", false, "attach the interactive debug monitor instead of running to completion")
	flag.Parse()

	if *filename == "" && flag.NArg() == 1 {
		*filename = flag.Arg(0)
	}
	if *filename == "" {
		log.Fatal("usage: rv32im -f <image> [-ram N] [-start N] [-env console|lua] [-script path] [-monitor]")
	}

	image, err := os.ReadFile(*filename)
	if err != nil {
		log.Fatalf("rv32im: %v", err)
	}

	cpu := rv32.New(uint32(ramBytes))
	if err := cpu.LoadProgram(image, uint32(*startAddr)); err != nil {
		log.Fatalf("rv32im: loading image: %v", err)
	}

	switch *envKind {
	case "console":
		cpu.SetEnvironment(console.New(os.Stdout, os.Stderr))
	case "lua":
		if *luaScript == "" {
			log.Fatal("rv32im: -env=lua requires -script")
		}
		env, err := luaenv.New(*luaScript)
		if err != nil {
			log.Fatalf("rv32im: %v", err)
		}
		defer env.Close()
		env.Attach(cpu)
		cpu.SetEnvironment(env)
	default:
		log.Fatalf("rv32im: unknown -env %q", *envKind)
	}

	if *useMonitor {
		mon := monitor.New(cpu, os.Stdin, os.Stdout)
		if err := mon.RunInteractive(); err != nil {
			log.Fatalf("rv32im: monitor: %v", err)
		}
		return
	}

	if err := cpu.Run(); err != nil {
		var fault *rv32.Fault
		if errors.As(err, &fault) {
			log.Fatalf("rv32im: %v", fault)
		}
		log.Fatalf("rv32im: %v", err)
	}
}
