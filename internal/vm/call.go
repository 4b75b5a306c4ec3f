package vm

import (
	"fmt"

	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// ABI argument registers, AAPCS64: X0-X7 for integers, D0-D7 for floats.
const (
	maxIntArgRegs   = 8
	maxFloatArgRegs = 8
)

// Args bundles the typed arguments placed into X0-X7/D0-D7 before a call.
type Args struct {
	Int   []uint64
	Float []uint64 // raw bit patterns, placed into D0..
}

func (m *Machine) loadArgs(a Args) {
	for i, v := range a.Int {
		if i >= maxIntArgRegs {
			break
		}
		_ = m.emu.SetX(i, v)
	}
	for i, v := range a.Float {
		if i >= maxFloatArgRegs {
			break
		}
		_ = m.emu.SetD(i, v)
	}
}

// Call runs a top-level guest function: fresh stack, fresh instruction
// budget, LR pinned to the return trampoline. This is the entry point
// used for instance initialization and every externally-triggered call.
func (m *Machine) Call(addr uint64, args Args) (uint64, error) {
	m.instrCount = 0
	m.timedOut = false
	m.lastErr = nil

	_ = m.emu.SetSP(m.stackTop)
	_ = m.emu.SetLR(ReturnTrampoline)
	m.loadArgs(args)

	if err := m.emu.Run(addr, 0); err != nil {
		return 0, m.classifyRunError(addr, err)
	}
	if m.timedOut {
		return 0, m.handleTimeout(addr)
	}
	if m.lastErr != nil {
		return 0, m.lastErr
	}

	return m.emu.X(0), nil
}

// Preempt runs a nested guest function on top of whatever the machine is
// currently doing (a tick event firing mid-call, a far-call's destination
// function, an interrupt). Unlike Call it does not reset the stack
// pointer — the nested frame grows below wherever SP currently sits —
// but it does get its own instruction budget, and every CPU-observable
// register is restored exactly once the nested call returns.
func (m *Machine) Preempt(addr uint64, args Args) (uint64, error) {
	if m.maxReentrancy > 0 && m.reentrancyDepth >= m.maxReentrancy {
		return 0, scripterr.At(scripterr.ReentrancyLimit,
			fmt.Sprintf("nested preempt depth %d exceeds limit %d", m.reentrancyDepth, m.maxReentrancy), addr)
	}

	snap := m.snapshotState()
	m.reentrancyDepth++
	defer func() { m.reentrancyDepth-- }()

	m.instrCount = 0
	m.timedOut = false
	m.lastErr = nil

	_ = m.emu.SetLR(ReturnTrampoline)
	m.loadArgs(args)

	runErr := m.emu.Run(addr, 0)

	var result uint64
	var outErr error
	switch {
	case runErr != nil:
		outErr = m.classifyRunError(addr, runErr)
	case m.timedOut:
		outErr = m.handleTimeout(addr)
	case m.lastErr != nil:
		outErr = m.lastErr
	default:
		result = m.emu.X(0)
	}

	m.restoreState(snap)
	return result, outErr
}

// classifyRunError turns a raw Unicorn Start() failure into a typed
// GuestException, attaching the faulting program counter.
func (m *Machine) classifyRunError(callAddr uint64, err error) error {
	pc := m.emu.PC()
	if pc == 0 {
		pc = callAddr
	}
	return scripterr.At(scripterr.GuestException, err.Error(), pc)
}

// handleTimeout mirrors the budget-overrun path: record the overrun and
// surface it as a typed Timeout. Blocking/suspension of the current
// micro-thread on overrun is handled by the caller (internal/script),
// which has the block_reason context this package doesn't.
func (m *Machine) handleTimeout(addr uint64) error {
	m.budgetOverruns++
	return scripterr.At(scripterr.Timeout,
		fmt.Sprintf("instruction budget (%d) exceeded", m.maxInstructions), m.emu.PC())
}
