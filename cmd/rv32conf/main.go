// Command rv32conf runs a directory of conformance programs concurrently,
// one independent CPU per goroutine, and checks each program's final
// register state against an expected-value manifest. Independent *CPU
// instances are safe to run on independent goroutines, and a conformance
// sweep is the natural place to actually do that, which is why this is
// the component wired to golang.org/x/sync/errgroup.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"rv32im/pkg/rv32"
)

// manifest maps register index to its expected final value, read from a
// "<program>.expected" file sitting beside "<program>.bin": one
// "xN value" pair per line, value in hex with a leading 0x.
type manifest map[uint32]uint32

func loadManifest(path string) (manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := make(manifest)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "x") {
			return nil, fmt.Errorf("malformed manifest line: %q", line)
		}
		idx, err := strconv.ParseUint(fields[0][1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed register name: %q", fields[0])
		}
		val, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed expected value: %q", fields[1])
		}
		m[uint32(idx)] = uint32(val)
	}
	return m, scanner.Err()
}

// runOne loads, executes and checks a single conformance program.
func runOne(name, binPath string, ramBytes uint32) error {
	image, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	expected, err := loadManifest(strings.TrimSuffix(binPath, filepath.Ext(binPath)) + ".expected")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	cpu := rv32.New(ramBytes)
	if err := cpu.LoadProgram(image, 0); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := cpu.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	for idx, want := range expected {
		if got := cpu.Reg(idx); got != want {
			return fmt.Errorf("%s: x%d = 0x%08x, want 0x%08x", name, idx, got, want)
		}
	}
	return nil
}

func main() {
	log.SetFlags(0)

	dir := flag.String("dir", "", "directory of <name>.bin/<name>.expected pairs (required)")
	ramBytes := flag.Uint("ram", 1<<20, "RAM size in bytes for each CPU instance")
	concurrency := flag.Int("j", 8, "maximum programs running concurrently")
	flag.Parse()

	if *dir == "" {
		log.Fatal("usage: rv32conf -dir <directory> [-ram N] [-j N]")
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatalf("rv32conf: %v", err)
	}

	group, _ := errgroup.WithContext(context.Background())
	group.SetLimit(*concurrency)

	passed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".bin" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".bin")
		binPath := filepath.Join(*dir, entry.Name())
		passed++
		group.Go(func() error {
			return runOne(name, binPath, uint32(*ramBytes))
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatalf("rv32conf: %v", err)
	}
	fmt.Printf("rv32conf: %d program(s) passed\n", passed)
}
