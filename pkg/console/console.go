// console.go - the bundled console Environment for the RV32IM engine
//
// This implements the syscall table a guest program invokes via ECALL,
// following original_source/src/environment/simple_env.hpp's numbering and
// formatting exactly (including finishing syscall 12, which the original
// declares but leaves commented out). Guest-visible output goes straight
// to an io.Writer (stdout in the front end); host diagnostics — an unknown
// syscall, an EBREAK notice — go through a *log.Logger so they are never
// mistaken for guest output.
package console

import (
	"fmt"
	"io"
	"log"
	"strings"

	"rv32im/pkg/rv32"
)

// Environment is the bundled console implementation of rv32.Environment.
// Writer receives guest-visible output (syscalls 0-9, 11, 12); Diag receives
// host diagnostics (unknown syscalls, EBREAK notices). Neither has a
// default: both must be set, which New does.
type Environment struct {
	Writer io.Writer
	Diag   *log.Logger
}

// New builds a console Environment writing guest output to w and
// diagnostics to a logger over diag, with no line prefix or timestamp
// (diagnostics are meant to read like a program's own stderr chatter, not
// a framework's).
func New(w io.Writer, diag io.Writer) *Environment {
	return &Environment{
		Writer: w,
		Diag:   log.New(diag, "", 0),
	}
}

// OnECall dispatches the syscall named by x17 (a7), with primary and
// secondary arguments in x10 (a0) and x11 (a1).
func (e *Environment) OnECall(cpu *rv32.CPU) {
	syscall := cpu.Reg(17)
	a0 := cpu.Reg(10)
	a1 := cpu.Reg(11)

	switch syscall {
	case 0: // print character
		fmt.Fprintf(e.Writer, "%c", byte(a0))
	case 1: // print signed decimal
		fmt.Fprintf(e.Writer, "%d", int32(a0))
	case 2: // print 0x-prefixed hex
		fmt.Fprintf(e.Writer, "0x%x", a0)
	case 3: // print binary, grouped in nibbles
		fmt.Fprint(e.Writer, formatBinary(a0))
	case 4: // print NUL-terminated string
		e.printCString(cpu, a0)
	case 5: // print a1 bytes starting at a0
		e.printBytes(cpu, a0, a1)
	case 6: // newline
		fmt.Fprintln(e.Writer)
	case 7: // space
		fmt.Fprint(e.Writer, " ")
	case 8: // formatted number: a1 selects 0=dec,1=hex,2=bin,3=char
		e.printFormatted(a0, a1)
	case 9: // hex dump of a1 bytes starting at a0
		e.printHexDump(cpu, a0, a1)
	case 10: // exit
		cpu.Stop()
	case 11: // register dump
		e.printRegisterDump(cpu)
	case 12: // print PC
		fmt.Fprintf(e.Writer, "0x%08x", cpu.PC())
	default:
		e.Diag.Printf("unknown syscall: %d", syscall)
		cpu.Stop()
	}
}

// OnEBreak reports the breakpoint to the diagnostic stream and stops the
// CPU, matching the original's default reaction in the absence of an
// attached debugger.
func (e *Environment) OnEBreak(cpu *rv32.CPU) {
	e.Diag.Printf("EBREAK encountered at pc=0x%08x", cpu.PC()-4)
	cpu.Stop()
}

func (e *Environment) printCString(cpu *rv32.CPU, addr uint32) {
	for {
		b, err := cpu.Load8(addr)
		if err != nil || b == 0 {
			return
		}
		fmt.Fprintf(e.Writer, "%c", b)
		addr++
	}
}

func (e *Environment) printBytes(cpu *rv32.CPU, addr, length uint32) {
	for i := uint32(0); i < length; i++ {
		b, err := cpu.Load8(addr + i)
		if err != nil {
			return
		}
		fmt.Fprintf(e.Writer, "%c", b)
	}
}

func (e *Environment) printFormatted(a0, format uint32) {
	switch format {
	case 0:
		fmt.Fprintf(e.Writer, "%d", int32(a0))
	case 1:
		fmt.Fprintf(e.Writer, "0x%x", a0)
	case 2:
		fmt.Fprint(e.Writer, formatBinary(a0))
	case 3:
		fmt.Fprintf(e.Writer, "%c", byte(a0))
	default:
		fmt.Fprintf(e.Writer, "%d", int32(a0))
	}
}

func (e *Environment) printHexDump(cpu *rv32.CPU, addr, length uint32) {
	for i := uint32(0); i < length; i++ {
		if i%16 == 0 {
			if i > 0 {
				fmt.Fprintln(e.Writer)
			}
			fmt.Fprintf(e.Writer, "0x%08x: ", addr+i)
		}
		b, err := cpu.Load8(addr + i)
		if err != nil {
			break
		}
		fmt.Fprintf(e.Writer, "%02x ", b)
	}
	fmt.Fprintln(e.Writer)
}

func (e *Environment) printRegisterDump(cpu *rv32.CPU) {
	fmt.Fprintln(e.Writer)
	fmt.Fprintln(e.Writer, "Register dump:")
	for i := uint32(0); i < 32; i++ {
		if i%4 == 0 {
			fmt.Fprintln(e.Writer)
		}
		fmt.Fprintf(e.Writer, "x%-2d = 0x%08x  ", i, cpu.Reg(i))
	}
	fmt.Fprintln(e.Writer)
}

func formatBinary(v uint32) string {
	var b strings.Builder
	b.WriteString("0b")
	for i := 31; i >= 0; i-- {
		if (v>>uint(i))&1 != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		if i > 0 && i%4 == 0 {
			b.WriteByte('\'')
		}
	}
	return b.String()
}
