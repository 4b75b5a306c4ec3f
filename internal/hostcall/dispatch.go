// Package hostcall implements the Host-Call Dispatch component: a fixed
// table of syscall numbers, registered once per instance, routed through a
// single SVC trap handler into typed Go functions.
package hostcall

import (
	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// Syscall numbering: base 500, fixed offsets, then a math group starting
// at +14.
const (
	GameAPIBase = 500

	SelfTest          = GameAPIBase + 0
	AssertFail        = GameAPIBase + 1
	Write             = GameAPIBase + 2
	Measure           = GameAPIBase + 3
	Dyncall           = GameAPIBase + 4
	Farcall           = GameAPIBase + 5
	FarcallDirect     = GameAPIBase + 6
	Interrupt         = GameAPIBase + 7
	MachineHash       = GameAPIBase + 8
	EachFrame         = GameAPIBase + 9
	MultiprocessFork  = GameAPIBase + 10
	MultiprocessWait  = GameAPIBase + 11
	GameExit          = GameAPIBase + 12
	Sinf              = GameAPIBase + 14
	Randf             = GameAPIBase + 15
	Smoothstep        = GameAPIBase + 16
	VecLength         = GameAPIBase + 17
	VecRotate         = GameAPIBase + 18
	VecNormalize      = GameAPIBase + 19
)

// Instance is everything a host-call handler needs from the Script
// Instance that owns the trapping machine. Defined here (rather than
// imported from internal/script) so this package has no dependency on
// internal/script — internal/script depends on this package instead,
// avoiding an import cycle.
type Instance interface {
	Machine() *vm.Machine
	NameHash() uint32
	StdoutEnabled() bool
	Multiprocessing() bool
	Print(data []byte)
	Rand() float32
	Bench(addr uint64, rounds int) (uint64, error) // nanoseconds
	DynCall(hash uint32, ctx *Context) error
	DynCallByName(name string, ctx *Context) error
	SetTickEvent(addr uint64, reason uint64)
	FarCall(targetHash, functionHash uint32, ints [6]uint64, floats [8]uint64) (uint64, error)
	FarCallDirect(targetHash uint32, functionAddr uint64, ints [6]uint64, floats [8]uint64) (uint64, error)
	Interrupt(targetHash, functionHash uint32, payload []byte) (uint64, error)
	Exit()
}

// HandlerFunc is one syscall's implementation.
type HandlerFunc func(ctx *Context)

var table = map[uint64]HandlerFunc{
	SelfTest:         apiSelfTest,
	AssertFail:       apiAssertFail,
	Write:            apiWrite,
	Measure:          apiMeasure,
	Dyncall:          apiDyncall,
	Farcall:          apiFarcall,
	FarcallDirect:    apiFarcallDirect,
	Interrupt:        apiInterrupt,
	MachineHash:      apiMachineHash,
	EachFrame:        apiEachFrame,
	MultiprocessFork: apiMultiprocessUnsupported,
	MultiprocessWait: apiMultiprocessUnsupported,
	GameExit:         apiGameExit,
	Sinf:             apiSinf,
	Randf:            apiRandf,
	Smoothstep:       apiSmoothstep,
	VecLength:        apiVecLength,
	VecRotate:        apiVecRotate,
	VecNormalize:     apiVecNormalize,
}

// names backs the trace/diagnostic log line with a readable syscall name
// rather than a bare number.
var names = map[uint64]string{
	SelfTest:         "self_test",
	AssertFail:       "assert_fail",
	Write:            "write",
	Measure:          "measure",
	Dyncall:          "dyncall",
	Farcall:          "farcall",
	FarcallDirect:    "farcall_direct",
	Interrupt:        "interrupt",
	MachineHash:      "machine_hash",
	EachFrame:        "each_frame",
	MultiprocessFork: "multiprocess_fork",
	MultiprocessWait: "multiprocess_wait",
	GameExit:         "game_exit",
	Sinf:             "sinf",
	Randf:            "randf",
	Smoothstep:       "smoothstep",
	VecLength:        "vec_length",
	VecRotate:        "vec_rotate",
	VecNormalize:     "vec_normalize",
}

// Install wires inst's machine to the full syscall table via a single
// HOOK_INTR handler. The syscall number is read from X8 (AArch64-Linux
// convention) since Unicorn's HOOK_INTR callback carries no immediate.
// After every handler runs, the PC is advanced past the SVC instruction
// explicitly — there is no syscall-return epilogue to rely on here, unlike
// the RISC-V engine this dispatch model is grounded on.
func Install(inst Instance) error {
	m := inst.Machine()
	return m.Emulator().HookIntr(func(e *emulator.Emulator, intno uint32) {
		svcPC := e.PC()
		num := e.X(8)

		handler, ok := table[num]
		ctx := &Context{inst: inst, e: e}
		if !ok {
			logger().Warn("unknown syscall number", log.Size(num))
			ctx.SetResult(^uint64(0))
		} else {
			logger().Trace(svcPC, "hostcall", names[num], "")
			handler(ctx)
		}

		_ = e.SetPC(svcPC + 4)
	})
}

func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}
