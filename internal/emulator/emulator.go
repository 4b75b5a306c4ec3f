// Package emulator provides ARM64 emulation using Unicorn Engine.
package emulator

import (
	"encoding/binary"
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Memory layout constants
const (
	CodeBase  = 0x00010000
	CodeSize  = 0x01000000 // 16MB for code
	StackBase = 0x80000000
	StackSize = 0x00100000 // 1MB stack
	HeapBase  = 0x90000000
	HeapSize  = 0x10000000 // 256MB heap
	TLSBase   = 0xDEAC0000 // Thread Local Storage, one region shared by all micro-threads
	TLSSize   = 0x00010000 // 64KB TLS
	StubBase  = 0xF0000000 // Return trampolines for host/far calls
	StubSize  = 0x00100000 // 1MB for stubs
)

// HookType identifies different hook categories.
type HookType int

const (
	HookCode HookType = iota
	HookMem
	HookBlock
	HookIntr
)

// TraceEvent represents a single traced instruction
type TraceEvent struct {
	Address     uint64
	Size        uint32
	Instruction string // Disassembled (if available)
	Tag         string
	Detail      string
}

// CodeHookFunc is called for each instruction
type CodeHookFunc func(emu *Emulator, addr uint64, size uint32)

// AddressHookFunc is called when execution reaches a specific address
type AddressHookFunc func(emu *Emulator) bool // return true to stop emulation

// MemHookFunc is called on illegal or unmapped memory access. Returning
// true tells Unicorn the access was handled and execution may continue;
// returning false propagates it as a fault.
type MemHookFunc func(emu *Emulator, access int, addr uint64, size int, value int64) bool

// IntrHookFunc is called on a software interrupt (SVC) trap.
type IntrHookFunc func(emu *Emulator, intno uint32)

// Emulator wraps Unicorn for ARM64 emulation
type Emulator struct {
	mu uc.Unicorn

	// Memory management
	heapPtr uint64 // Current heap allocation pointer

	// Hooks
	codeHooks   []CodeHookFunc
	addrHooks   map[uint64]AddressHookFunc
	addrHooksMu sync.RWMutex
	memHook     MemHookFunc
	intrHook    IntrHookFunc

	// Trace collection
	traceEnabled bool
	traceEvents  []TraceEvent
	traceMu      sync.Mutex

	// Stop flag
	stopped bool
}

// New creates a new ARM64 emulator
func New() (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	emu := &Emulator{
		mu:        mu,
		heapPtr:   HeapBase,
		addrHooks: make(map[uint64]AddressHookFunc),
	}

	if err := emu.mapMemory(); err != nil {
		mu.Close()
		return nil, err
	}

	if err := emu.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}

	return emu, nil
}

// mapMemory sets up the memory layout
func (e *Emulator) mapMemory() error {
	regions := []struct {
		base uint64
		size uint64
		name string
	}{
		{CodeBase, CodeSize, "code"},
		{StackBase, StackSize, "stack"},
		{HeapBase, HeapSize, "heap"},
		{TLSBase, TLSSize, "tls"},
		{StubBase, StubSize, "stubs"},
	}

	for _, r := range regions {
		if err := e.mu.MemMap(r.base, r.size); err != nil {
			return fmt.Errorf("map %s (0x%x): %w", r.name, r.base, err)
		}
	}

	sp := uint64(StackBase + StackSize - 0x1000)
	if err := e.mu.RegWrite(uc.ARM64_REG_SP, sp); err != nil {
		return fmt.Errorf("set SP: %w", err)
	}

	// TPIDR_EL0 is the thread pointer register on ARM64. It is set once
	// here; internal/vm's micro-thread switches do not change it, so every
	// micro-thread sees the same TLS region.
	if err := e.mu.RegWrite(uc.ARM64_REG_TPIDR_EL0, TLSBase); err != nil {
		return fmt.Errorf("set TPIDR_EL0: %w", err)
	}

	zeros := make([]byte, TLSSize)
	if err := e.mu.MemWrite(TLSBase, zeros); err != nil {
		return fmt.Errorf("init TLS: %w", err)
	}

	return nil
}

// setupHooks installs Unicorn hooks
func (e *Emulator) setupHooks() error {
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		// Note: deliberately not gated on e.stopped here. Stop() on the
		// underlying engine only unwinds the innermost Start() call, so a
		// nested Run (preempt, far-call) must not be short-circuited by a
		// stop flag belonging to an outer, currently-suspended Run.
		e.addrHooksMu.RLock()
		hook, ok := e.addrHooks[addr]
		e.addrHooksMu.RUnlock()

		if ok {
			if hook(e) {
				e.Stop()
				return
			}
		}

		for _, h := range e.codeHooks {
			h(e, addr, size)
		}
	}, 1, 0)

	return err
}

// HookMemUnmapped installs a callback invoked whenever the guest touches
// unmapped or protected memory. This is how IllegalWrite faults are caught
// before Unicorn turns them into an opaque internal error.
func (e *Emulator) HookMemUnmapped(fn MemHookFunc) error {
	e.memHook = fn
	_, err := e.mu.HookAdd(uc.HOOK_MEM_INVALID, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		if e.memHook == nil {
			return false
		}
		return e.memHook(e, access, addr, size, value)
	}, 1, 0)
	return err
}

// HookIntr installs a callback invoked on every software interrupt (SVC)
// raised by guest code. Syscall dispatch (internal/hostcall) is wired
// through this hook rather than the raw instruction stream.
func (e *Emulator) HookIntr(fn IntrHookFunc) error {
	e.intrHook = fn
	_, err := e.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		if e.intrHook != nil {
			e.intrHook(e, intno)
		}
	}, 1, 0)
	return err
}

// Close releases resources
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// LoadCode writes code at the code base
func (e *Emulator) LoadCode(code []byte) error {
	return e.mu.MemWrite(CodeBase, code)
}

// MapRegion maps additional memory
func (e *Emulator) MapRegion(addr, size uint64) error {
	return e.mu.MemMap(addr, size)
}

// MemRead reads bytes from memory
func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	return e.mu.MemRead(addr, size)
}

// MemWrite writes bytes to memory
func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	return e.mu.MemWrite(addr, data)
}

// MemReadU64 reads a uint64 from memory (little endian)
func (e *Emulator) MemReadU64(addr uint64) (uint64, error) {
	data, err := e.mu.MemRead(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// MemWriteU64 writes a uint64 to memory (little endian)
func (e *Emulator) MemWriteU64(addr, val uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadU32 reads a uint32 from memory (little endian)
func (e *Emulator) MemReadU32(addr uint64) (uint32, error) {
	data, err := e.mu.MemRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// MemWriteU32 writes a uint32 to memory (little endian)
func (e *Emulator) MemWriteU32(addr uint64, val uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadU16 reads a uint16 from memory (little endian)
func (e *Emulator) MemReadU16(addr uint64) (uint16, error) {
	data, err := e.mu.MemRead(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// MemWriteU16 writes a uint16 to memory (little endian)
func (e *Emulator) MemWriteU16(addr uint64, val uint16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadU8 reads a single byte from memory
func (e *Emulator) MemReadU8(addr uint64) (uint8, error) {
	data, err := e.mu.MemRead(addr, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// MemWriteU8 writes a single byte to memory
func (e *Emulator) MemWriteU8(addr uint64, val uint8) error {
	return e.mu.MemWrite(addr, []byte{val})
}

// MemReadString reads a null-terminated string from memory
func (e *Emulator) MemReadString(addr uint64, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 4096
	}
	data, err := e.mu.MemRead(addr, uint64(maxLen))
	if err != nil {
		return "", err
	}

	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// MemWriteString writes a null-terminated string to memory
func (e *Emulator) MemWriteString(addr uint64, s string) error {
	data := append([]byte(s), 0)
	return e.mu.MemWrite(addr, data)
}

// RegRead reads a register value
func (e *Emulator) RegRead(reg int) (uint64, error) {
	return e.mu.RegRead(reg)
}

// RegWrite writes a register value
func (e *Emulator) RegWrite(reg int, val uint64) error {
	return e.mu.RegWrite(reg, val)
}

// X reads general-purpose register X0-X30
func (e *Emulator) X(n int) uint64 {
	if n < 0 || n > 30 {
		return 0
	}
	val, _ := e.mu.RegRead(uc.ARM64_REG_X0 + n)
	return val
}

// SetX writes general-purpose register X0-X30
func (e *Emulator) SetX(n int, val uint64) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("invalid register X%d", n)
	}
	return e.mu.RegWrite(uc.ARM64_REG_X0+n, val)
}

// D reads double-precision float register D0-D31 as raw bits.
func (e *Emulator) D(n int) uint64 {
	if n < 0 || n > 31 {
		return 0
	}
	val, _ := e.mu.RegRead(uc.ARM64_REG_D0 + n)
	return val
}

// SetD writes double-precision float register D0-D31 from raw bits.
func (e *Emulator) SetD(n int, val uint64) error {
	if n < 0 || n > 31 {
		return fmt.Errorf("invalid register D%d", n)
	}
	return e.mu.RegWrite(uc.ARM64_REG_D0+n, val)
}

// PC returns the program counter
func (e *Emulator) PC() uint64 {
	pc, _ := e.mu.RegRead(uc.ARM64_REG_PC)
	return pc
}

// SetPC sets the program counter
func (e *Emulator) SetPC(val uint64) error {
	return e.mu.RegWrite(uc.ARM64_REG_PC, val)
}

// SP returns the stack pointer
func (e *Emulator) SP() uint64 {
	sp, _ := e.mu.RegRead(uc.ARM64_REG_SP)
	return sp
}

// SetSP sets the stack pointer
func (e *Emulator) SetSP(val uint64) error {
	return e.mu.RegWrite(uc.ARM64_REG_SP, val)
}

// LR returns the link register
func (e *Emulator) LR() uint64 {
	lr, _ := e.mu.RegRead(uc.ARM64_REG_LR)
	return lr
}

// SetLR sets the link register
func (e *Emulator) SetLR(val uint64) error {
	return e.mu.RegWrite(uc.ARM64_REG_LR, val)
}

// Malloc allocates memory from the heap (bump allocator).
// Panics if heap is exhausted - this indicates a fundamental emulation problem.
func (e *Emulator) Malloc(size uint64) uint64 {
	size = (size + 15) &^ 15

	addr := e.heapPtr
	e.heapPtr += size

	if e.heapPtr >= HeapBase+HeapSize {
		panic("heap exhausted")
	}

	return addr
}

// HeapPointer returns the current bump-allocator offset, for snapshotting
// and restoring heap state across a machine fork.
func (e *Emulator) HeapPointer() uint64 {
	return e.heapPtr
}

// SetHeapPointer restores a previously-snapshotted heap offset.
func (e *Emulator) SetHeapPointer(p uint64) {
	e.heapPtr = p
}

// HookCode adds a code hook called for every instruction
func (e *Emulator) HookCode(fn CodeHookFunc) {
	e.codeHooks = append(e.codeHooks, fn)
}

// HookAddress adds a hook for a specific address
func (e *Emulator) HookAddress(addr uint64, fn AddressHookFunc) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	e.addrHooks[addr] = fn
}

// RemoveAddressHook removes an address hook
func (e *Emulator) RemoveAddressHook(addr uint64) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	delete(e.addrHooks, addr)
}

// EnableTrace enables instruction tracing
func (e *Emulator) EnableTrace() {
	e.traceEnabled = true
}

// DisableTrace disables instruction tracing
func (e *Emulator) DisableTrace() {
	e.traceEnabled = false
}

// GetTraceEvents returns collected trace events
func (e *Emulator) GetTraceEvents() []TraceEvent {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	return append([]TraceEvent{}, e.traceEvents...)
}

// AddTraceEvent adds a trace event
func (e *Emulator) AddTraceEvent(event TraceEvent) {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	e.traceEvents = append(e.traceEvents, event)
}

// ClearTrace clears trace events
func (e *Emulator) ClearTrace() {
	e.traceMu.Lock()
	defer e.traceMu.Unlock()
	e.traceEvents = nil
}

// Run starts emulation from addr
func (e *Emulator) Run(start, end uint64) error {
	e.stopped = false
	return e.mu.Start(start, end)
}

// RunFrom starts emulation from current PC
func (e *Emulator) RunFrom(start uint64) error {
	e.stopped = false
	return e.mu.Start(start, 0)
}

// Stop stops emulation
func (e *Emulator) Stop() {
	e.stopped = true
	e.mu.Stop()
}

// ARM64 register constants (re-exported for convenience)
const (
	RegX0  = uc.ARM64_REG_X0
	RegX1  = uc.ARM64_REG_X1
	RegX2  = uc.ARM64_REG_X2
	RegX3  = uc.ARM64_REG_X3
	RegX4  = uc.ARM64_REG_X4
	RegX5  = uc.ARM64_REG_X5
	RegX6  = uc.ARM64_REG_X6
	RegX7  = uc.ARM64_REG_X7
	RegX8  = uc.ARM64_REG_X8
	RegX29 = uc.ARM64_REG_X29 // Frame pointer
	RegX30 = uc.ARM64_REG_X30 // Link register (same as LR)
	RegSP  = uc.ARM64_REG_SP
	RegPC  = uc.ARM64_REG_PC
	RegLR  = uc.ARM64_REG_LR
)
