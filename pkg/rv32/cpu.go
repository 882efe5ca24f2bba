// cpu.go - RV32IM fetch/decode/dispatch/writeback core
//
// This is the hard part: a user-mode interpreter for the 32-bit RISC-V
// integer ISA plus the M (multiply/divide) extension. It owns the register
// file, program counter, running flag, and memory, and dispatches every
// instruction from a single switch keyed on the 7-bit opcode field.
//
// Signal flow per Step:
//  1. Fetch a 32-bit little-endian word at PC.
//  2. Advance PC by 4 (RISC-V convention: PC now names the next
//     instruction, which is what JAL/JALR link values are; AUIPC, JAL and
//     branch targets are computed from the instruction's own address).
//  3. Decode and dispatch on opcode/funct3/funct7.
//  4. Force x0 back to zero.
//
// A handler that returns a *Fault aborts the step without completing its
// writeback; Running is left as-is (the caller decides whether to stop).

package rv32

import "math"

const (
	numRegisters = 32

	opLUI     = 0b0110111
	opAUIPC   = 0b0010111
	opJAL     = 0b1101111
	opJALR    = 0b1100111
	opBRANCH  = 0b1100011
	opOPIMM   = 0b0010011
	opOP      = 0b0110011
	opLOAD    = 0b0000011
	opSTORE   = 0b0100011
	opMISCMEM = 0b0001111
	opSYSTEM  = 0b1110011
)

// CPU is a single RV32IM hart: 32 general-purpose registers, a program
// counter, a running flag, its own Memory, and a non-owning Environment
// reference for servicing ECALL/EBREAK.
//
// A *CPU is not safe for concurrent use: Step/Run must be called from a
// single goroutine, and an attached Environment's OnECall/OnEBreak runs on
// that same goroutine. Running independent CPUs on independent goroutines
// is fine; sharing one CPU across goroutines is not.
type CPU struct {
	reg     [numRegisters]uint32
	pc      uint32
	running bool

	mem *Memory
	env Environment
}

// New constructs a CPU with ramBytes of zeroed memory, reset and ready to
// load a program.
func New(ramBytes uint32) *CPU {
	cpu := &CPU{mem: NewMemory(ramBytes)}
	cpu.Reset()
	return cpu
}

// Reset zeroes every register and the program counter and sets Running.
// It does not clear memory — LoadProgram is responsible for placing a
// fresh image, and a caller that wants a clean RAM state should construct
// a new CPU or call Memory().Reset() explicitly.
func (cpu *CPU) Reset() {
	for i := range cpu.reg {
		cpu.reg[i] = 0
	}
	cpu.pc = 0
	cpu.running = true
}

// LoadProgram copies bytes into memory starting at startAddr and sets PC
// to startAddr. It fails with a ProgramTooLarge fault if the image would
// overflow memory.
func (cpu *CPU) LoadProgram(data []byte, startAddr uint32) error {
	if err := cpu.mem.LoadProgram(data, startAddr); err != nil {
		return err
	}
	cpu.pc = startAddr
	return nil
}

// SetEnvironment attaches (or, with nil, detaches) the hook servicing
// ECALL/EBREAK. Replace it only between steps, never from inside a hook
// callback.
func (cpu *CPU) SetEnvironment(env Environment) {
	cpu.env = env
}

// Stop requests termination: Run's loop condition (and a host's own Step
// loop) observes this on the next check.
func (cpu *CPU) Stop() {
	cpu.running = false
}

// Running reports whether the CPU would still execute another Step.
func (cpu *CPU) Running() bool {
	return cpu.running
}

// PC returns the address of the instruction that will be fetched next.
func (cpu *CPU) PC() uint32 {
	return cpu.pc
}

// Reg reads general-purpose register i. Reg(0) always returns 0.
func (cpu *CPU) Reg(i uint32) uint32 {
	return cpu.reg[i&0x1F]
}

// SetReg writes general-purpose register i. Writes to register 0 are
// silently discarded.
func (cpu *CPU) SetReg(i uint32, v uint32) {
	i &= 0x1F
	if i == 0 {
		return
	}
	cpu.reg[i] = v
}

// Memory returns the CPU's owned memory, for callers (environment hooks,
// the debug monitor) that need bulk or typed access beyond Load8/16/32.
func (cpu *CPU) Memory() *Memory {
	return cpu.mem
}

// Load8, Load16, Load32, Store8, Store16 and Store32 delegate to the
// owned Memory; they exist on CPU so environment hooks and tests don't
// need to reach through Memory() for the common case.
func (cpu *CPU) Load8(addr uint32) (uint8, error)   { return cpu.mem.Load8(addr) }
func (cpu *CPU) Load16(addr uint32) (uint16, error) { return cpu.mem.Load16(addr) }
func (cpu *CPU) Load32(addr uint32) (uint32, error) { return cpu.mem.Load32(addr) }

func (cpu *CPU) Store8(addr uint32, v uint8) error   { return cpu.mem.Store8(addr, v) }
func (cpu *CPU) Store16(addr uint32, v uint16) error { return cpu.mem.Store16(addr, v) }
func (cpu *CPU) Store32(addr uint32, v uint32) error { return cpu.mem.Store32(addr, v) }

// Run steps the CPU until Running is false or a Step reports a fault.
func (cpu *CPU) Run() error {
	for cpu.running {
		if err := cpu.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step fetches, decodes and executes exactly one instruction.
func (cpu *CPU) Step() error {
	faultPC := cpu.pc
	instr, err := cpu.mem.Load32(cpu.pc)
	if err != nil {
		return newFault(FetchOOB, cpu.pc, faultPC)
	}
	cpu.pc += 4

	if err := cpu.exec(instr, faultPC); err != nil {
		return err
	}
	cpu.reg[0] = 0
	return nil
}

// exec dispatches a fetched instruction. pc is the address of this
// instruction itself (i.e. cpu.pc minus 4, captured before Step's
// pre-increment), used for AUIPC, JAL and BRANCH target arithmetic and
// for stamping faults with the faulting instruction's address rather than
// the already-advanced PC.
func (cpu *CPU) exec(instr uint32, pc uint32) error {
	opcode := decodeOpcode(instr)
	rd := decodeRd(instr)
	funct3 := decodeFunct3(instr)
	rs1 := decodeRs1(instr)
	rs2 := decodeRs2(instr)
	funct7 := decodeFunct7(instr)

	switch opcode {
	case opLUI:
		cpu.reg[rd] = decodeImmU(instr)

	case opAUIPC:
		cpu.reg[rd] = pc + decodeImmU(instr)

	case opJAL:
		cpu.reg[rd] = cpu.pc
		cpu.pc = pc + decodeImmJ(instr)

	case opJALR:
		target := (cpu.reg[rs1] + decodeImmI(instr)) &^ 1
		cpu.reg[rd] = cpu.pc
		cpu.pc = target

	case opBRANCH:
		return cpu.execBranch(instr, pc, funct3, rs1, rs2)

	case opOPIMM:
		return cpu.execOpImm(instr, pc, rd, funct3, rs1)

	case opOP:
		return cpu.execOp(pc, rd, funct3, funct7, rs1, rs2)

	case opLOAD:
		return cpu.execLoad(instr, pc, rd, funct3, rs1)

	case opSTORE:
		return cpu.execStore(instr, pc, funct3, rs1, rs2)

	case opMISCMEM:
		// FENCE: single-threaded semantics make this a no-op.

	case opSYSTEM:
		return cpu.execSystem(instr, pc, funct3)

	default:
		return newFault(UnknownOpcode, opcode, pc)
	}
	return nil
}

func (cpu *CPU) execBranch(instr uint32, pc, funct3, rs1, rs2 uint32) error {
	var taken bool
	switch funct3 {
	case 0b000: // BEQ
		taken = cpu.reg[rs1] == cpu.reg[rs2]
	case 0b001: // BNE
		taken = cpu.reg[rs1] != cpu.reg[rs2]
	case 0b100: // BLT
		taken = int32(cpu.reg[rs1]) < int32(cpu.reg[rs2])
	case 0b101: // BGE
		taken = int32(cpu.reg[rs1]) >= int32(cpu.reg[rs2])
	case 0b110: // BLTU
		taken = cpu.reg[rs1] < cpu.reg[rs2]
	case 0b111: // BGEU
		taken = cpu.reg[rs1] >= cpu.reg[rs2]
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	if taken {
		cpu.pc = pc + decodeImmB(instr)
	}
	return nil
}

func (cpu *CPU) execOpImm(instr uint32, pc, rd, funct3, rs1 uint32) error {
	imm := decodeImmI(instr)
	switch funct3 {
	case 0b000: // ADDI
		cpu.reg[rd] = cpu.reg[rs1] + imm
	case 0b010: // SLTI
		cpu.reg[rd] = boolToWord(int32(cpu.reg[rs1]) < int32(imm))
	case 0b011: // SLTIU
		cpu.reg[rd] = boolToWord(cpu.reg[rs1] < imm)
	case 0b100: // XORI
		cpu.reg[rd] = cpu.reg[rs1] ^ imm
	case 0b110: // ORI
		cpu.reg[rd] = cpu.reg[rs1] | imm
	case 0b111: // ANDI
		cpu.reg[rd] = cpu.reg[rs1] & imm
	case 0b001: // SLLI
		cpu.reg[rd] = cpu.reg[rs1] << shamt(imm)
	case 0b101: // SRLI/SRAI, selected by instr bit 30
		if (instr>>30)&1 != 0 {
			cpu.reg[rd] = uint32(int32(cpu.reg[rs1]) >> shamt(imm))
		} else {
			cpu.reg[rd] = cpu.reg[rs1] >> shamt(imm)
		}
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	return nil
}

func (cpu *CPU) execOp(pc, rd, funct3, funct7, rs1, rs2 uint32) error {
	if funct7&1 != 0 {
		if funct7 != 0x01 {
			return newFault(UnknownFunct7, funct7, pc)
		}
		return cpu.execMulDiv(pc, rd, funct3, rs1, rs2)
	}

	switch funct3 {
	case 0b000: // ADD/SUB
		switch funct7 {
		case 0x00:
			cpu.reg[rd] = cpu.reg[rs1] + cpu.reg[rs2]
		case 0x20:
			cpu.reg[rd] = cpu.reg[rs1] - cpu.reg[rs2]
		default:
			return newFault(UnknownFunct7, funct7, pc)
		}
	case 0b001: // SLL
		cpu.reg[rd] = cpu.reg[rs1] << shamt(cpu.reg[rs2])
	case 0b010: // SLT
		cpu.reg[rd] = boolToWord(int32(cpu.reg[rs1]) < int32(cpu.reg[rs2]))
	case 0b011: // SLTU
		cpu.reg[rd] = boolToWord(cpu.reg[rs1] < cpu.reg[rs2])
	case 0b100: // XOR
		cpu.reg[rd] = cpu.reg[rs1] ^ cpu.reg[rs2]
	case 0b101: // SRL/SRA
		switch funct7 {
		case 0x00:
			cpu.reg[rd] = cpu.reg[rs1] >> shamt(cpu.reg[rs2])
		case 0x20:
			cpu.reg[rd] = uint32(int32(cpu.reg[rs1]) >> shamt(cpu.reg[rs2]))
		default:
			return newFault(UnknownFunct7, funct7, pc)
		}
	case 0b110: // OR
		cpu.reg[rd] = cpu.reg[rs1] | cpu.reg[rs2]
	case 0b111: // AND
		cpu.reg[rd] = cpu.reg[rs1] & cpu.reg[rs2]
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	return nil
}

// execMulDiv implements RV32M. Division and remainder follow the
// RISC-V-defined non-trapping results for divide-by-zero and the
// INT32_MIN/-1 signed overflow case; neither is a fault.
func (cpu *CPU) execMulDiv(pc, rd, funct3, rs1, rs2 uint32) error {
	a, b := cpu.reg[rs1], cpu.reg[rs2]
	switch funct3 {
	case 0b000: // MUL
		cpu.reg[rd] = uint32(int64(int32(a)) * int64(int32(b)))
	case 0b001: // MULH (signed x signed)
		cpu.reg[rd] = uint32((int64(int32(a)) * int64(int32(b))) >> 32)
	case 0b010: // MULHSU (signed x unsigned)
		cpu.reg[rd] = uint32((int64(int32(a)) * int64(uint64(b))) >> 32)
	case 0b011: // MULHU (unsigned x unsigned)
		cpu.reg[rd] = uint32((uint64(a) * uint64(b)) >> 32)
	case 0b100: // DIV
		da, db := int32(a), int32(b)
		switch {
		case db == 0:
			cpu.reg[rd] = 0xFFFFFFFF
		case da == math.MinInt32 && db == -1:
			cpu.reg[rd] = a
		default:
			cpu.reg[rd] = uint32(da / db)
		}
	case 0b101: // DIVU
		if b == 0 {
			cpu.reg[rd] = 0xFFFFFFFF
		} else {
			cpu.reg[rd] = a / b
		}
	case 0b110: // REM
		da, db := int32(a), int32(b)
		switch {
		case db == 0:
			cpu.reg[rd] = a
		case da == math.MinInt32 && db == -1:
			cpu.reg[rd] = 0
		default:
			cpu.reg[rd] = uint32(da % db)
		}
	case 0b111: // REMU
		if b == 0 {
			cpu.reg[rd] = a
		} else {
			cpu.reg[rd] = a % b
		}
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	return nil
}

func (cpu *CPU) execLoad(instr uint32, pc, rd, funct3, rs1 uint32) error {
	addr := cpu.reg[rs1] + decodeImmI(instr)
	switch funct3 {
	case 0b000: // LB
		v, err := cpu.mem.Load8(addr)
		if err != nil {
			return stampFault(err, pc)
		}
		cpu.reg[rd] = signExtend(uint32(v), 8)
	case 0b001: // LH
		v, err := cpu.mem.Load16(addr)
		if err != nil {
			return stampFault(err, pc)
		}
		cpu.reg[rd] = signExtend(uint32(v), 16)
	case 0b010: // LW
		v, err := cpu.mem.Load32(addr)
		if err != nil {
			return stampFault(err, pc)
		}
		cpu.reg[rd] = v
	case 0b100: // LBU
		v, err := cpu.mem.Load8(addr)
		if err != nil {
			return stampFault(err, pc)
		}
		cpu.reg[rd] = uint32(v)
	case 0b101: // LHU
		v, err := cpu.mem.Load16(addr)
		if err != nil {
			return stampFault(err, pc)
		}
		cpu.reg[rd] = uint32(v)
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	return nil
}

func (cpu *CPU) execStore(instr uint32, pc, funct3, rs1, rs2 uint32) error {
	addr := cpu.reg[rs1] + decodeImmS(instr)
	var err error
	switch funct3 {
	case 0b000: // SB
		err = cpu.mem.Store8(addr, uint8(cpu.reg[rs2]))
	case 0b001: // SH
		err = cpu.mem.Store16(addr, uint16(cpu.reg[rs2]))
	case 0b010: // SW
		err = cpu.mem.Store32(addr, cpu.reg[rs2])
	default:
		return newFault(UnknownFunct3, funct3, pc)
	}
	if err != nil {
		return stampFault(err, pc)
	}
	return nil
}

func (cpu *CPU) execSystem(instr uint32, pc, funct3 uint32) error {
	if funct3 != 0 {
		return newFault(UnsupportedSystem, funct3, pc)
	}
	switch instr >> 20 {
	case 0x000: // ECALL
		if cpu.env != nil {
			cpu.env.OnECall(cpu)
		} else {
			cpu.running = false
		}
	case 0x001: // EBREAK
		if cpu.env != nil {
			cpu.env.OnEBreak(cpu)
		} else {
			cpu.running = false
		}
	default:
		return newFault(UnsupportedSystem, instr>>20, pc)
	}
	return nil
}

// boolToWord turns a Go bool into the RISC-V convention of 1/0.
func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// stampFault fills in the PC field of a *Fault produced by Memory, whose
// own faults don't know which instruction triggered them.
func stampFault(err error, pc uint32) error {
	if f, ok := err.(*Fault); ok {
		f.PC = pc
		return f
	}
	return err
}
