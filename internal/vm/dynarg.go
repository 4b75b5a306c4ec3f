package vm

import (
	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// Custom-instruction encoding: a 32-bit word with the low 7 bits set to
// the reserved opcode 0b0001011, an unused 3-bit field, then a 3-bit
// funct3 selecting the push type. Guest code emits these before a
// dyncall syscall to stage arguments the syscall itself has no register
// slot for.
const (
	customOpcodeMask  = 0x7f
	customOpcode      = 0x0b
	customFunct3Shift = 10
	customFunct3Mask  = 0x7

	funct3PushI64  = 0b001
	funct3PushF32  = 0b010
	funct3PushText = 0b111
)

// Arg is one staged dynamic argument, tagged by how it was pushed.
type Arg struct {
	Kind ArgKind
	I64  uint64
	F32  uint32
	Text string
}

// ArgKind distinguishes the three dynarg-push encodings.
type ArgKind int

const (
	ArgI64 ArgKind = iota
	ArgF32
	ArgText
)

// DynargStack holds the ordered sequence of arguments staged by custom
// push instructions since the last dyncall consumed (and cleared) them.
type DynargStack struct {
	args []Arg
}

// NewDynargStack returns an empty dynarg stack.
func NewDynargStack() *DynargStack {
	return &DynargStack{}
}

// Push appends a staged argument.
func (d *DynargStack) Push(a Arg) {
	d.args = append(d.args, a)
}

// Drain returns the staged arguments in push order and clears the stack.
// Every dyncall drains regardless of whether it consumed any of them, per
// the "cleared after every invocation" rule; farcall and interrupt leave
// the stack untouched.
func (d *DynargStack) Drain() []Arg {
	out := d.args
	d.args = nil
	return out
}

// installDynargHook wires a HOOK_CODE callback that recognizes the
// reserved custom-instruction encoding and performs the push itself,
// skipping Unicorn's normal instruction fetch/decode for that word via
// a PC-past-the-instruction write (Unicorn resumes from whatever PC a
// hook leaves set, rather than executing the original word under it).
func (m *Machine) installDynargHook() {
	m.emu.HookCode(func(e *emulator.Emulator, addr uint64, size uint32) {
		word, err := e.MemReadU32(addr)
		if err != nil || word&customOpcodeMask != customOpcode {
			return
		}

		funct3 := (word >> customFunct3Shift) & customFunct3Mask
		switch funct3 {
		case funct3PushI64:
			m.dyn.Push(Arg{Kind: ArgI64, I64: e.X(0)})
		case funct3PushF32:
			m.dyn.Push(Arg{Kind: ArgF32, F32: uint32(e.D(0))})
		case funct3PushText:
			s, _ := e.MemReadString(e.X(0), 0)
			m.dyn.Push(Arg{Kind: ArgText, Text: s})
		default:
			m.lastErr = scripterr.At(scripterr.UnimplementedInstruction, "unsupported dynarg funct3", addr)
			e.Stop()
			return
		}

		_ = e.SetPC(addr + 4)
	})
}

// DrainArgs returns the machine's staged dynarg-push arguments in push
// order and clears the stack, per the dynamic-call table's "every
// invocation clears the stack regardless of what it consumed" rule.
func (m *Machine) DrainArgs() []Arg {
	return m.dyn.Drain()
}

// decodeCustomWord is exposed for tests exercising the bit layout directly.
func decodeCustomWord(word uint32) (isCustom bool, funct3 uint32) {
	if word&customOpcodeMask != customOpcode {
		return false, 0
	}
	return true, (word >> customFunct3Shift) & customFunct3Mask
}

// encodeCustomWord builds a reserved-opcode word for the given funct3 and
// payload bits, used by tests to synthesize dynarg-push instructions.
func encodeCustomWord(funct3 uint32, payload uint32) uint32 {
	return customOpcode | (funct3 << customFunct3Shift) | (payload << 16)
}
