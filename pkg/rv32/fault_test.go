package rv32

import (
	"errors"
	"testing"
)

func TestFaultErrorMessageFormat(t *testing.T) {
	f := newFault(LoadOOB, 0x1000, 0x40)
	want := "fault: load out of bounds at 0x00001000 (pc=0x00000040)"
	if got := f.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestFaultIsMatchesOnKindOnly(t *testing.T) {
	a := newFault(UnknownOpcode, 0x7F, 0x100)
	b := newFault(UnknownOpcode, 0x00, 0x200)
	if !errors.Is(a, b) {
		t.Fatal("faults of the same Kind should match via errors.Is regardless of Addr/PC")
	}

	c := newFault(UnknownFunct3, 0x7F, 0x100)
	if errors.Is(a, c) {
		t.Fatal("faults of different Kind should not match via errors.Is")
	}
}

func TestKindStringIsHumanReadable(t *testing.T) {
	cases := map[Kind]string{
		FetchOOB:          "fetch out of bounds",
		UnknownOpcode:     "unknown opcode",
		UnsupportedSystem: "unsupported SYSTEM encoding",
		ProgramTooLarge:   "program too large",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", kind, got, want)
		}
	}
}
