// monitor.go - an interactive, line-oriented debug REPL for a single CPU
//
// There is exactly one CPU in view; commands are whole lines read with
// bufio.Scanner rather than individual raw keystrokes. Raw mode is never
// entered: when stdin is a terminal its state is saved on entry and
// restored when the command loop returns; the command loop itself is
// ordinary line input.
package monitor

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.design/x/clipboard"
	"golang.org/x/image/bmp"
	"golang.org/x/term"

	"rv32im/pkg/rv32"
)

// Monitor drives a single CPU under interactive step/continue control.
// Breakpoints are plain PC values; continueRun honors them by single-stepping
// and checking the new PC after every instruction, since the CPU itself
// has no breakpoint concept.
type Monitor struct {
	cpu         *rv32.CPU
	out         io.Writer
	in          *bufio.Scanner
	breakpoints map[uint32]bool
	clipReady   bool
}

// New builds a monitor reading commands from in and writing transcript
// output to out.
func New(cpu *rv32.CPU, in io.Reader, out io.Writer) *Monitor {
	return &Monitor{
		cpu:         cpu,
		out:         out,
		in:          bufio.NewScanner(in),
		breakpoints: make(map[uint32]bool),
	}
}

// RunInteractive saves the terminal state if stdin is a terminal (it does
// not switch to raw mode; line input needs none), restores it on return,
// and loops reading commands until "quit" or EOF.
func (m *Monitor) RunInteractive() error {
	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		state, err := term.GetState(fd)
		if err == nil {
			oldState = state
		}
	}
	defer func() {
		if oldState != nil {
			_ = term.Restore(fd, oldState)
		}
	}()

	fmt.Fprintln(m.out, "rv32im debug monitor. Type 'help' for commands.")
	for {
		fmt.Fprint(m.out, "(rv32im) ")
		if !m.in.Scan() {
			return m.in.Err()
		}
		line := strings.TrimSpace(m.in.Text())
		if line == "" {
			continue
		}
		if m.dispatch(line) {
			return nil
		}
	}
}

// dispatch executes one command line and reports whether the monitor
// should exit.
func (m *Monitor) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help", "h":
		m.printHelp()
	case "quit", "q", "exit":
		return true
	case "step", "s":
		m.step()
	case "continue", "c":
		m.continueRun()
	case "regs", "r":
		m.printRegs()
	case "pc":
		fmt.Fprintf(m.out, "pc = 0x%08x\n", m.cpu.PC())
	case "break", "b":
		m.setBreakpoint(args)
	case "delete", "d":
		m.deleteBreakpoint(args)
	case "mem":
		m.printMem(args)
	case "memdump":
		m.dumpMemBMP(args)
	case "clip":
		m.copyRegsToClipboard()
	default:
		fmt.Fprintf(m.out, "unknown command: %s (try 'help')\n", cmd)
	}
	return false
}

func (m *Monitor) printHelp() {
	fmt.Fprint(m.out, `commands:
  step, s               execute one instruction
  continue, c           run until a breakpoint or the CPU stops
  regs, r               print all 32 registers
  pc                    print the program counter
  break, b <hex addr>   set a breakpoint
  delete, d <hex addr>  remove a breakpoint
  mem <hex addr> <len>  print a range of memory as hex bytes
  memdump <path>        write a 256x256 BMP of the low 64KiB of memory
  clip                  copy the current register dump to the clipboard
  quit, q, exit         leave the monitor
`)
}

func (m *Monitor) step() {
	if err := m.cpu.Step(); err != nil {
		fmt.Fprintf(m.out, "step fault: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "pc = 0x%08x\n", m.cpu.PC())
}

func (m *Monitor) continueRun() {
	for m.cpu.Running() {
		if err := m.cpu.Step(); err != nil {
			fmt.Fprintf(m.out, "fault: %v\n", err)
			return
		}
		if m.breakpoints[m.cpu.PC()] {
			fmt.Fprintf(m.out, "breakpoint hit at pc = 0x%08x\n", m.cpu.PC())
			return
		}
	}
	fmt.Fprintln(m.out, "CPU stopped")
}

func (m *Monitor) printRegs() {
	for i := uint32(0); i < 32; i++ {
		if i%4 == 0 && i > 0 {
			fmt.Fprintln(m.out)
		}
		fmt.Fprintf(m.out, "x%-2d=0x%08x ", i, m.cpu.Reg(i))
	}
	fmt.Fprintln(m.out)
}

func (m *Monitor) setBreakpoint(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(m.out, "usage: break <hex addr>")
		return
	}
	addr, err := parseHex(args[0])
	if err != nil {
		fmt.Fprintf(m.out, "bad address: %v\n", err)
		return
	}
	m.breakpoints[addr] = true
	fmt.Fprintf(m.out, "breakpoint set at 0x%08x\n", addr)
}

func (m *Monitor) deleteBreakpoint(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(m.out, "usage: delete <hex addr>")
		return
	}
	addr, err := parseHex(args[0])
	if err != nil {
		fmt.Fprintf(m.out, "bad address: %v\n", err)
		return
	}
	delete(m.breakpoints, addr)
	fmt.Fprintf(m.out, "breakpoint cleared at 0x%08x\n", addr)
}

func (m *Monitor) printMem(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(m.out, "usage: mem <hex addr> <decimal length>")
		return
	}
	addr, err := parseHex(args[0])
	if err != nil {
		fmt.Fprintf(m.out, "bad address: %v\n", err)
		return
	}
	length, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fmt.Fprintf(m.out, "bad length: %v\n", err)
		return
	}
	data := m.cpu.Memory().LoadBytes(addr, uint32(length))
	for i, b := range data {
		if i%16 == 0 {
			if i > 0 {
				fmt.Fprintln(m.out)
			}
			fmt.Fprintf(m.out, "0x%08x: ", addr+uint32(i))
		}
		fmt.Fprintf(m.out, "%02x ", b)
	}
	fmt.Fprintln(m.out)
}

// dumpMemBMP renders the low 64KiB of memory as a 256x256 grayscale BMP,
// one byte per pixel, the way a memory viewer might visualize a region
// at a glance. This is the component that gives the x/image dependency
// carried in go.mod a real caller.
func (m *Monitor) dumpMemBMP(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(m.out, "usage: memdump <path>")
		return
	}
	const side = 256
	data := m.cpu.Memory().LoadBytes(0, side*side)

	img := image.NewGray(image.Rect(0, 0, side, side))
	copy(img.Pix, data)

	f, err := os.Create(args[0])
	if err != nil {
		fmt.Fprintf(m.out, "memdump: %v\n", err)
		return
	}
	defer f.Close()
	if err := bmp.Encode(f, img); err != nil {
		fmt.Fprintf(m.out, "memdump: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "wrote %s\n", args[0])
}

// copyRegsToClipboard pushes the current register dump onto the system
// clipboard. This is the component that gives the golang.design/x/clipboard
// dependency carried in go.mod a real caller; clipboard.Init is retried
// per call rather than once at startup so a headless CI environment
// without clipboard access doesn't crash the whole monitor.
func (m *Monitor) copyRegsToClipboard() {
	if !m.clipReady {
		if err := clipboard.Init(); err != nil {
			fmt.Fprintf(m.out, "clip: clipboard unavailable: %v\n", err)
			return
		}
		m.clipReady = true
	}
	var b strings.Builder
	for i := uint32(0); i < 32; i++ {
		fmt.Fprintf(&b, "x%d=0x%08x\n", i, m.cpu.Reg(i))
	}
	clipboard.Write(clipboard.FmtText, []byte(b.String()))
	fmt.Fprintln(m.out, "register dump copied to clipboard")
}

func parseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}
