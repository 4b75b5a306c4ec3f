package hostcall

import (
	"math"

	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// MaxWriteLen bounds api_write's span.
const MaxWriteLen = 1024

// Context is the sysargs helper: it decodes typed arguments from the
// trapping machine's registers and memory, left to right, and lets a
// handler set a typed result. Integer types come from GPRs in order,
// float types from FPRs in order, text types by reading guest memory
// until NUL or a length.
type Context struct {
	inst Instance
	e    *emulator.Emulator

	// dynargs holds the staged in-memory-name dynarg-push arguments still
	// to be consumed, once the leading name has been stripped off by the
	// dispatcher. Empty for the register-argument dynamic-call form and
	// for every other syscall.
	dynargs []vm.Arg
}

// Dynargs returns any staged dynarg-push arguments left for this call to
// consume, in push order, excluding the leading name (already consumed
// by the dispatcher to select the handler).
func (c *Context) Dynargs() []vm.Arg {
	return c.dynargs
}

// Int returns syscall argument register n (X0-X7, n in [0,7]).
func (c *Context) Int(n int) uint64 {
	return c.e.X(n)
}

// Float32 returns syscall float argument register n (D0-D7, n in [0,7])
// interpreted as a 32-bit float, matching the custom dynarg-push
// instruction's f32 encoding.
func (c *Context) Float32(n int) float32 {
	return math.Float32frombits(uint32(c.e.D(n)))
}

// Text reads a NUL-terminated (or maxLen-bounded) string from guest
// memory at addr. An inaccessible span is surfaced as an error rather
// than panicking — callers treat that as an IllegalWrite diagnostic.
func (c *Context) Text(addr uint64, maxLen int) (string, error) {
	return c.e.MemReadString(addr, maxLen)
}

// Bytes reads up to length bytes from guest memory at addr, clamped to
// MaxWriteLen. Returns the bytes actually read and whether the span was
// fully accessible.
func (c *Context) Bytes(addr uint64, length int) ([]byte, error) {
	if length > MaxWriteLen {
		length = MaxWriteLen
	}
	if length <= 0 {
		return nil, nil
	}
	return c.e.MemRead(addr, uint64(length))
}

// SetResult writes a single integer/pointer return value to X0.
func (c *Context) SetResult(v uint64) {
	_ = c.e.SetX(0, v)
}

// SetResultFloat writes a single float32 return value to D0.
func (c *Context) SetResultFloat(v float32) {
	_ = c.e.SetD(0, uint64(math.Float32bits(v)))
}

// SetResultFloatPair writes a paired float32 return (vector ops) to D0/D1.
func (c *Context) SetResultFloatPair(a, b float32) {
	_ = c.e.SetD(0, uint64(math.Float32bits(a)))
	_ = c.e.SetD(1, uint64(math.Float32bits(b)))
}

// Instance exposes the owning Script Instance, for handlers that need
// more than register/memory access (dyncall, farcall, tick, exit).
func (c *Context) Instance() Instance {
	return c.inst
}

// Emulator exposes the raw emulator, for handlers needing direct access
// (heap allocation for interrupt payloads is performed by internal/farcall
// via the Machine, not through this accessor).
func (c *Context) Emulator() *emulator.Emulator {
	return c.e
}
