// luaenv.go - a scriptable Environment backed by github.com/yuin/gopher-lua
//
// The bundled console environment (pkg/console) hard-codes one syscall
// table. This package gives a guest program's host side to a Lua script
// instead: ECALL and EBREAK both call into Lua functions the script
// defines, and the script can read and write the guest's registers and
// memory through a small "cpu" table of host functions. This is the
// component that finally gives the gopher-lua dependency carried in
// go.mod a real caller.
package luaenv

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"rv32im/pkg/rv32"
)

// Environment runs guest ECALL/EBREAK traps through a Lua script loaded
// once at construction. The script is expected to define a global
// function named "on_ecall" and, optionally, "on_ebreak"; either may be
// absent, in which case the corresponding trap is a no-op stop.
type Environment struct {
	state *lua.LState
	cpu   *rv32.CPU
}

// New loads scriptPath into a fresh Lua state with an empty global cpu
// table. The host functions are not registered here: Attach (below)
// binds them to a CPU, since they close over it, and lets a single script
// be bound to more than one CPU instance sequentially. Top-level script
// code run by New therefore cannot call them.
func New(scriptPath string) (*Environment, error) {
	l := lua.NewState()
	env := &Environment{state: l}
	l.SetGlobal("cpu", l.NewTable())
	if err := l.DoFile(scriptPath); err != nil {
		l.Close()
		return nil, fmt.Errorf("luaenv: loading %s: %w", scriptPath, err)
	}
	return env, nil
}

// Close releases the underlying Lua state. Call once the owning CPU has
// stopped running.
func (e *Environment) Close() {
	e.state.Close()
}

// Attach binds the Lua-visible cpu.* functions to the given CPU and must
// be called before the CPU executes any instruction that can trap into
// this environment.
func (e *Environment) Attach(cpu *rv32.CPU) {
	e.cpu = cpu
	cpuTable := e.state.NewTable()
	e.state.SetFuncs(cpuTable, map[string]lua.LGFunction{
		"getreg":  e.luaGetReg,
		"setreg":  e.luaSetReg,
		"load8":   e.luaLoad8,
		"load16":  e.luaLoad16,
		"load32":  e.luaLoad32,
		"store8":  e.luaStore8,
		"store16": e.luaStore16,
		"store32": e.luaStore32,
		"stop":    e.luaStop,
		"pc":      e.luaPC,
	})
	e.state.SetGlobal("cpu", cpuTable)
}

// OnECall invokes the script's on_ecall() with no arguments; registers
// and memory are read and written through the cpu table, not via
// function parameters, since that mirrors how simple_env.hpp's C++
// handlers were described to script authors in the design notes.
func (e *Environment) OnECall(cpu *rv32.CPU) {
	if e.state.GetGlobal("on_ecall") == lua.LNil {
		cpu.Stop()
		return
	}
	e.call("on_ecall")
}

// OnEBreak invokes the script's on_ebreak(), if defined; otherwise it
// stops the CPU, matching the console environment's default behavior.
func (e *Environment) OnEBreak(cpu *rv32.CPU) {
	if e.state.GetGlobal("on_ebreak") == lua.LNil {
		cpu.Stop()
		return
	}
	e.call("on_ebreak")
}

func (e *Environment) call(name string) {
	fn := e.state.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := e.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		e.cpu.Stop()
	}
}

func (e *Environment) luaGetReg(l *lua.LState) int {
	idx := uint32(l.CheckInt(1))
	l.Push(lua.LNumber(e.cpu.Reg(idx)))
	return 1
}

func (e *Environment) luaSetReg(l *lua.LState) int {
	idx := uint32(l.CheckInt(1))
	val := uint32(l.CheckInt(2))
	e.cpu.SetReg(idx, val)
	return 0
}

func (e *Environment) luaLoad8(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	v, err := e.cpu.Load8(addr)
	if err != nil {
		l.RaiseError("load8: %v", err)
	}
	l.Push(lua.LNumber(v))
	return 1
}

func (e *Environment) luaLoad16(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	v, err := e.cpu.Load16(addr)
	if err != nil {
		l.RaiseError("load16: %v", err)
	}
	l.Push(lua.LNumber(v))
	return 1
}

func (e *Environment) luaLoad32(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	v, err := e.cpu.Load32(addr)
	if err != nil {
		l.RaiseError("load32: %v", err)
	}
	l.Push(lua.LNumber(v))
	return 1
}

func (e *Environment) luaStore8(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	val := uint8(l.CheckInt(2))
	if err := e.cpu.Store8(addr, val); err != nil {
		l.RaiseError("store8: %v", err)
	}
	return 0
}

func (e *Environment) luaStore16(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	val := uint16(l.CheckInt(2))
	if err := e.cpu.Store16(addr, val); err != nil {
		l.RaiseError("store16: %v", err)
	}
	return 0
}

func (e *Environment) luaStore32(l *lua.LState) int {
	addr := uint32(l.CheckInt(1))
	val := uint32(l.CheckInt(2))
	if err := e.cpu.Store32(addr, val); err != nil {
		l.RaiseError("store32: %v", err)
	}
	return 0
}

func (e *Environment) luaStop(l *lua.LState) int {
	e.cpu.Stop()
	return 0
}

func (e *Environment) luaPC(l *lua.LState) int {
	l.Push(lua.LNumber(e.cpu.PC()))
	return 1
}
