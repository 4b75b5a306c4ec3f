// Package vm implements the instruction-budgeted, preemptible ARM64
// machine that backs each script instance: instruction counting,
// micro-threads, and call/preempt register-state save-restore on top of
// the raw Unicorn wrapper in internal/emulator.
package vm

import (
	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// ReturnTrampoline is a fixed guest address used as the link-register
// target for every top-level Call/Preempt. It lives inside the stub
// region and is wired to an address hook that stops the current Run
// as soon as the guest function returns to it.
const ReturnTrampoline = emulator.StubBase

// StackTop is the default reset point for a fresh top-level call's stack
// pointer, one page below the end of the mapped stack region. No separate
// guard page is mapped between the stack and the heap.
const StackTop = emulator.StackBase + emulator.StackSize - 0x1000

// Options configures a new Machine, mirroring the template-fork options
// a Script Instance passes down.
type Options struct {
	MaxInstructions uint64
	MaxReentrancy   int
}

// snapshot captures every CPU-observable value that Preempt and vmbench
// must save and restore around a nested or measuring call.
type snapshot struct {
	x       [31]uint64
	d       [32]uint64
	pc      uint64
	sp      uint64
	lr      uint64
	instr   uint64
	maxInst uint64
	stack   uint64
}

// Machine wraps an emulator.Emulator with the instruction budget and
// nested-call bookkeeping Unicorn doesn't supply on its own.
type Machine struct {
	emu *emulator.Emulator

	maxInstructions uint64
	instrCount      uint64
	timedOut        bool
	lastErr         error

	stackTop uint64

	reentrancyDepth int
	maxReentrancy   int
	budgetOverruns  uint64

	threads *Scheduler
	dyn     *DynargStack
}

// New creates a Machine with a fresh emulator and installs the budget and
// dynarg-marker hooks.
func New(opts Options) (*Machine, error) {
	emu, err := emulator.New()
	if err != nil {
		return nil, err
	}

	m := &Machine{
		emu:             emu,
		maxInstructions: opts.MaxInstructions,
		stackTop:        StackTop,
		maxReentrancy:   opts.MaxReentrancy,
		dyn:             NewDynargStack(),
	}
	m.threads = NewScheduler(m)

	m.emu.HookAddress(ReturnTrampoline, func(*emulator.Emulator) bool {
		return true // stop the innermost Run/Start
	})
	m.emu.HookCode(m.countInstruction)
	m.installDynargHook()

	return m, nil
}

// Emulator exposes the underlying wrapper for callers (ELF loading,
// directory building) that need direct memory/symbol access.
func (m *Machine) Emulator() *emulator.Emulator {
	return m.emu
}

// Close releases the underlying emulator.
func (m *Machine) Close() error {
	return m.emu.Close()
}

// Threads exposes the micro-thread scheduler.
func (m *Machine) Threads() *Scheduler {
	return m.threads
}

// BudgetOverruns returns the number of Timeout exceedances observed so far.
func (m *Machine) BudgetOverruns() uint64 {
	return m.budgetOverruns
}

// SetMaxInstructions updates the per-call instruction budget of an
// existing machine.
func (m *Machine) SetMaxInstructions(n uint64) {
	m.maxInstructions = n
}

// MaxInstructions returns the current per-call instruction budget.
func (m *Machine) MaxInstructions() uint64 {
	return m.maxInstructions
}

// StackTop returns the current top-of-stack reset point used by Call.
func (m *Machine) StackTop() uint64 {
	return m.stackTop
}

// SetStackTop overrides the top-of-stack reset point used by Call. Used by
// vmbench's "lower the stack base to SP-2048" trick so that repeated
// top-level calls during measurement don't overflow the live frame below
// the original caller.
func (m *Machine) SetStackTop(addr uint64) {
	m.stackTop = addr
}

// Snapshot is an opaque capture of every CPU-observable value Preempt and
// vmbench must save and restore: GPRs, FPRs, PC, SP, LR, instruction
// counter, max-instructions, and stack base.
type Snapshot struct{ s snapshot }

// SaveState captures the current CPU-observable state.
func (m *Machine) SaveState() Snapshot {
	return Snapshot{s: m.snapshotState()}
}

// RestoreState restores a previously captured state exactly.
func (m *Machine) RestoreState(snap Snapshot) {
	m.restoreState(snap.s)
}

func (m *Machine) countInstruction(_ *emulator.Emulator, _ uint64, _ uint32) {
	m.instrCount++
	if m.maxInstructions != 0 && m.instrCount >= m.maxInstructions {
		m.timedOut = true
		m.emu.Stop()
	}
}

func (m *Machine) snapshotState() snapshot {
	var s snapshot
	for i := 0; i <= 30; i++ {
		s.x[i] = m.emu.X(i)
	}
	for i := 0; i <= 31; i++ {
		s.d[i] = m.emu.D(i)
	}
	s.pc = m.emu.PC()
	s.sp = m.emu.SP()
	s.lr = m.emu.LR()
	s.instr = m.instrCount
	s.maxInst = m.maxInstructions
	s.stack = m.stackTop
	return s
}

func (m *Machine) restoreState(s snapshot) {
	for i := 0; i <= 30; i++ {
		m.emu.SetX(i, s.x[i])
	}
	for i := 0; i <= 31; i++ {
		m.emu.SetD(i, s.d[i])
	}
	_ = m.emu.SetPC(s.pc)
	_ = m.emu.SetSP(s.sp)
	_ = m.emu.SetLR(s.lr)
	m.instrCount = s.instr
	m.maxInstructions = s.maxInst
	m.stackTop = s.stack
}

// Malloc allocates bytes from the guest heap arena.
func (m *Machine) Malloc(size uint64) uint64 {
	return m.emu.Malloc(size)
}

// HeapMark returns a snapshot of the current bump-allocator offset,
// usable with HeapRelease to scope a temporary allocation (far-call
// interrupt payloads are released this way when the preempt returns).
func (m *Machine) HeapMark() uint64 {
	return m.emu.HeapPointer()
}

// HeapRelease rewinds the bump allocator to a previously captured mark.
// Only safe when nothing allocated after the mark is still referenced.
func (m *Machine) HeapRelease(mark uint64) {
	m.emu.SetHeapPointer(mark)
}

func illegalWriteOrFault(err error, addr uint64) error {
	if err == nil {
		return nil
	}
	return scripterr.At(scripterr.IllegalWrite, err.Error(), addr)
}
