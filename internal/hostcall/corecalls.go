package hostcall

import (
	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// apiSelfTest is a no-op probe: a guest can call it to confirm the
// syscall interface is wired up at all.
func apiSelfTest(ctx *Context) {
	ctx.SetResult(0)
}

// apiAssertFail implements ASSERT_FAIL: (expr, file, line, func), logged
// and fatal to the guest.
func apiAssertFail(ctx *Context) {
	expr, _ := ctx.Text(ctx.Int(0), 256)
	file, _ := ctx.Text(ctx.Int(1), 256)
	line := ctx.Int(2)
	fn, _ := ctx.Text(ctx.Int(3), 256)

	logger().Error("guest assertion failed",
		log.Fn(fn),
		log.Size(line),
	)
	_ = expr
	_ = file
	ctx.Emulator().Stop()
}

// apiWrite implements WRITE(addr, len): bounded emission to the
// instance's print sink.
func apiWrite(ctx *Context) {
	addr := ctx.Int(0)
	length := int(ctx.Int(1))
	if length > MaxWriteLen {
		length = MaxWriteLen
	}

	if ctx.Instance().Multiprocessing() {
		ctx.SetResult(^uint64(0)) // -1
		return
	}

	if !ctx.Instance().StdoutEnabled() {
		ctx.SetResult(uint64(length))
		return
	}

	data, err := ctx.Bytes(addr, length)
	if err != nil {
		logger().Warn("write: inaccessible span", log.Addr(addr), log.Size(uint64(length)))
		ctx.SetResult(^uint64(0))
		return
	}

	ctx.Instance().Print(data)
	ctx.SetResult(uint64(len(data)))
}

// apiMeasure implements MEASURE(name-addr, addr): runs vmbench and
// returns nanoseconds.
func apiMeasure(ctx *Context) {
	name, _ := ctx.Text(ctx.Int(0), 256)
	addr := ctx.Int(1)

	ns, err := ctx.Instance().Bench(addr, 2000)
	if err != nil {
		ctx.SetResult(^uint64(0))
		return
	}

	logger().Debug("measured", log.Fn(name), log.Size(ns))
	ctx.SetResult(ns)
}

// apiDyncall implements the Dynamic-Call Table's two invocation forms.
// If the guest staged arguments via the custom dynarg-push instruction
// and the first of them is a name string, this is the in-memory-name
// form: the name is hashed here and the call is dispatched by name so
// the handler (and any caller inspecting staged args) sees the name
// rather than a bare hash. Otherwise it's the register-argument form:
// the guest placed a name-hash in X0 and up to six integer / eight
// float arguments in X1-X6 / D0-D7, read directly from the context.
func apiDyncall(ctx *Context) {
	staged := ctx.Instance().Machine().DrainArgs()
	if len(staged) > 0 && staged[0].Kind == vm.ArgText {
		name := staged[0].Text
		ctx.dynargs = staged[1:]
		if err := ctx.Instance().DynCallByName(name, ctx); err != nil {
			ctx.SetResult(^uint64(0))
		}
		return
	}

	hash := uint32(ctx.Int(0))
	if err := ctx.Instance().DynCall(hash, ctx); err != nil {
		ctx.SetResult(^uint64(0))
	}
}

// apiFarcall implements FARCALL(target-hash, function-hash, args...).
func apiFarcall(ctx *Context) {
	targetHash := uint32(ctx.Int(0))
	functionHash := uint32(ctx.Int(1))
	ints, floats := farcallArgs(ctx)

	result, err := ctx.Instance().FarCall(targetHash, functionHash, ints, floats)
	if err != nil {
		logger().Warn("farcall failed", log.Fn(err.Error()))
	}
	ctx.SetResult(result)
}

// apiFarcallDirect implements FARCALL_DIRECT(target-hash, function-addr, args...).
func apiFarcallDirect(ctx *Context) {
	targetHash := uint32(ctx.Int(0))
	functionAddr := ctx.Int(1)
	ints, floats := farcallArgs(ctx)

	result, err := ctx.Instance().FarCallDirect(targetHash, functionAddr, ints, floats)
	if err != nil {
		logger().Warn("farcall_direct failed", log.Fn(err.Error()))
	}
	ctx.SetResult(result)
}

// apiInterrupt implements INTERRUPT(target-hash, function-hash, data-ptr, data-len).
func apiInterrupt(ctx *Context) {
	targetHash := uint32(ctx.Int(0))
	functionHash := uint32(ctx.Int(1))
	dataPtr := ctx.Int(2)
	dataLen := ctx.Int(3)

	payload, err := ctx.Bytes(dataPtr, int(dataLen))
	if err != nil {
		ctx.SetResult(^uint64(0))
		return
	}

	result, err := ctx.Instance().Interrupt(targetHash, functionHash, payload)
	if err != nil {
		logger().Warn("interrupt failed", log.Fn(err.Error()))
	}
	ctx.SetResult(result)
}

// farcallArgs reads the six integer arguments starting at index +2 (the
// first two integer argument registers carry the target/function hash)
// and the eight float arguments starting at index +0, matching the
// far-call marshalling convention.
func farcallArgs(ctx *Context) (ints [6]uint64, floats [8]uint64) {
	for i := 0; i < 6; i++ {
		ints[i] = ctx.Int(i + 2)
	}
	for i := 0; i < 8; i++ {
		floats[i] = floatBitsAt(ctx, i)
	}
	return
}

func floatBitsAt(ctx *Context, n int) uint64 {
	// Preserve raw D-register bits rather than round-tripping through
	// float32, so a double-width value forwarded unchanged isn't truncated.
	return ctx.e.D(n)
}

// apiMachineHash implements MACHINE_HASH: returns the calling instance's
// own name-hash, letting guest code branch on which instance it runs in.
func apiMachineHash(ctx *Context) {
	ctx.SetResult(uint64(ctx.Instance().NameHash()))
}

// apiEachFrame implements EACH_FRAME(addr, reason): records the tick
// handler address and its micro-thread block reason.
func apiEachFrame(ctx *Context) {
	addr := ctx.Int(0)
	reason := ctx.Int(1)
	ctx.Instance().SetTickEvent(addr, reason)
	ctx.SetResult(0)
}

// apiMultiprocessUnsupported implements MULTIPROCESS_FORK/WAIT as an
// explicitly unsupported pair, per the open multiprocessing+far-call
// question: treated as unsupported unless the embedder says otherwise.
func apiMultiprocessUnsupported(ctx *Context) {
	ctx.SetResult(^uint64(0))
}

// apiGameExit implements GAME_EXIT: an embedder hook, logged rather than
// calling os.Exit so the host process (and its other instances) survive
// a single guest's exit request.
func apiGameExit(ctx *Context) {
	ctx.Instance().Exit()
	ctx.SetResult(0)
}
