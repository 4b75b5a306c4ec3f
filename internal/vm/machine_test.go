package vm

import (
	"errors"
	"testing"

	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// ARM64 fixture: MOV X0, #7; RET
var returnSevenCode = []byte{
	0xe0, 0x00, 0x80, 0xd2, // MOV X0, #7
	0xc0, 0x03, 0x5f, 0xd6, // RET
}

// ARM64 fixture: an infinite loop (B .) for exercising the instruction budget.
var spinCode = []byte{
	0x00, 0x00, 0x00, 0x14, // B #0 (branch to self)
}

func newTestMachine(t *testing.T, maxInstr uint64) *Machine {
	t.Helper()
	m, err := New(Options{MaxInstructions: maxInstr, MaxReentrancy: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCallReturnsX0(t *testing.T) {
	m := newTestMachine(t, 0)
	if err := m.Emulator().LoadCode(returnSevenCode); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	result, err := m.Call(emulator.CodeBase, Args{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 7 {
		t.Errorf("expected X0=7, got %d", result)
	}
}

func TestCallLoadsIntArgs(t *testing.T) {
	// Add the two args and return: MOV X2, X0; ADD X0, X2, X1; RET
	code := []byte{
		0xe2, 0x03, 0x00, 0xaa, // MOV X2, X0
		0x40, 0x00, 0x01, 0x8b, // ADD X0, X2, X1
		0xc0, 0x03, 0x5f, 0xd6, // RET
	}
	m := newTestMachine(t, 0)
	if err := m.Emulator().LoadCode(code); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	result, err := m.Call(emulator.CodeBase, Args{Int: []uint64{10, 32}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

func TestCallTimesOutOnBudget(t *testing.T) {
	m := newTestMachine(t, 100)
	if err := m.Emulator().LoadCode(spinCode); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	_, err := m.Call(emulator.CodeBase, Args{})
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	var se *scripterr.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *scripterr.ScriptError, got %T", err)
	}
	if se.Kind != scripterr.Timeout {
		t.Errorf("expected Timeout, got %v", se.Kind)
	}
	if m.BudgetOverruns() != 1 {
		t.Errorf("expected 1 overrun, got %d", m.BudgetOverruns())
	}
}

func TestPreemptRestoresState(t *testing.T) {
	m := newTestMachine(t, 0)
	if err := m.Emulator().LoadCode(returnSevenCode); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	_ = m.Emulator().SetX(3, 0xAAAA)
	before := m.Emulator().X(3)

	result, err := m.Preempt(emulator.CodeBase, Args{})
	if err != nil {
		t.Fatalf("Preempt: %v", err)
	}
	if result != 7 {
		t.Errorf("expected nested call to return 7, got %d", result)
	}

	after := m.Emulator().X(3)
	if after != before {
		t.Errorf("X3 not restored: before=0x%x after=0x%x", before, after)
	}
}

func TestPreemptReentrancyLimit(t *testing.T) {
	m := newTestMachine(t, 0)
	m.maxReentrancy = 1
	m.reentrancyDepth = 1

	if err := m.Emulator().LoadCode(returnSevenCode); err != nil {
		t.Fatalf("LoadCode: %v", err)
	}

	_, err := m.Preempt(emulator.CodeBase, Args{})
	var se *scripterr.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *scripterr.ScriptError, got %T", err)
	}
	if se.Kind != scripterr.ReentrancyLimit {
		t.Errorf("expected ReentrancyLimit, got %v", se.Kind)
	}
}

func TestDecodeCustomWord(t *testing.T) {
	word := encodeCustomWord(funct3PushI64, 0)
	isCustom, funct3 := decodeCustomWord(word)
	if !isCustom {
		t.Fatal("expected word to decode as custom instruction")
	}
	if funct3 != funct3PushI64 {
		t.Errorf("expected funct3=%d, got %d", funct3PushI64, funct3)
	}

	ordinary := uint32(0xd2800000) // MOV immediate family, opcode bits differ
	if isCustom, _ := decodeCustomWord(ordinary); isCustom {
		t.Error("expected ordinary instruction word to not decode as custom")
	}
}

func TestDynargStackDrain(t *testing.T) {
	d := NewDynargStack()
	d.Push(Arg{Kind: ArgI64, I64: 1})
	d.Push(Arg{Kind: ArgText, Text: "hi"})

	got := d.Drain()
	if len(got) != 2 {
		t.Fatalf("expected 2 args, got %d", len(got))
	}
	if got[0].I64 != 1 || got[1].Text != "hi" {
		t.Errorf("unexpected drain contents: %+v", got)
	}

	if more := d.Drain(); len(more) != 0 {
		t.Errorf("expected empty stack after drain, got %d", len(more))
	}
}

func TestSchedulerBlockAndWakeup(t *testing.T) {
	m := newTestMachine(t, 0)
	s := m.Threads()

	t2 := s.Spawn()
	t2.State = ThreadSuspended

	s.Block(99)
	if s.Current().ID != t2.ID {
		t.Fatalf("expected scheduler to switch to thread %d, got %d", t2.ID, s.Current().ID)
	}

	if s.BlockedCount(99) != 1 {
		t.Errorf("expected 1 thread blocked on reason 99, got %d", s.BlockedCount(99))
	}

	if !s.WakeupOneBlocked(99) {
		t.Fatal("expected a blocked thread to wake")
	}
	if s.Current().ID != 0 {
		t.Errorf("expected main thread (0) to be current after wakeup, got %d", s.Current().ID)
	}
}
