package monitor

import (
	"bytes"
	"strings"
	"testing"

	"rv32im/pkg/rv32"
)

func newTestMonitor(t *testing.T) (*Monitor, *bytes.Buffer) {
	t.Helper()
	cpu := rv32.New(4096)
	var out bytes.Buffer
	m := New(cpu, strings.NewReader(""), &out)
	return m, &out
}

func TestStepAdvancesPC(t *testing.T) {
	m, out := newTestMonitor(t)
	// ADDI x0, x0, 0 (a NOP) so Step succeeds.
	instr := uint32(0b000000000000_00000_000_00000_0010011)
	buf := []byte{byte(instr), byte(instr >> 8), byte(instr >> 16), byte(instr >> 24)}
	if err := m.cpu.LoadProgram(buf, 0); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if done := m.dispatch("step"); done {
		t.Fatal("step should not end the session")
	}
	if !strings.Contains(out.String(), "pc = 0x00000004") {
		t.Fatalf("output = %q, want it to report pc = 0x00000004", out.String())
	}
}

func TestBreakAndDeleteBreakpoint(t *testing.T) {
	m, out := newTestMonitor(t)
	m.dispatch("break 100")
	if !m.breakpoints[0x100] {
		t.Fatal("break 100 should set a breakpoint at 0x100")
	}
	m.dispatch("delete 100")
	if m.breakpoints[0x100] {
		t.Fatal("delete 100 should clear the breakpoint at 0x100")
	}
	_ = out
}

func TestQuitEndsSession(t *testing.T) {
	m, _ := newTestMonitor(t)
	if !m.dispatch("quit") {
		t.Fatal("quit should end the session")
	}
}

func TestUnknownCommandReportsError(t *testing.T) {
	m, out := newTestMonitor(t)
	m.dispatch("frobnicate")
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("output = %q, want it to report an unknown command", out.String())
	}
}

func TestRegsPrintsAllRegisters(t *testing.T) {
	m, out := newTestMonitor(t)
	m.cpu.SetReg(5, 0xDEADBEEF)
	m.dispatch("regs")
	if !strings.Contains(out.String(), "0xdeadbeef") {
		t.Fatalf("output = %q, want it to include 0xdeadbeef", out.String())
	}
}

func TestMemPrintsHexBytes(t *testing.T) {
	m, out := newTestMonitor(t)
	_ = m.cpu.Store32(0, 0x01020304)
	m.dispatch("mem 0 4")
	if !strings.Contains(out.String(), "04 03 02 01") {
		t.Fatalf("output = %q, want little-endian bytes 04 03 02 01", out.String())
	}
}
