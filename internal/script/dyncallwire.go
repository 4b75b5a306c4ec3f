package script

import (
	"fmt"

	"github.com/kestrelvm/scripthost/internal/hostcall"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// DynCall implements the register-argument Dynamic-Call Table syscall
// variant: the guest has already placed its hash and register arguments
// where ctx reads them directly. Resolving an unknown hash is a NotFound,
// left to the handler (corecalls.go) to turn into the guest's -1 result.
func (i *Instance) DynCall(hash uint32, ctx *hostcall.Context) error {
	fn, ok := i.dynamic.Lookup(hash)
	if !ok {
		return scripterr.At(scripterr.NotFound, "dynamic-call hash not bound", uint64(hash))
	}
	logger().Trace(tracePC(ctx), "dyncall", fmt.Sprintf("0x%x", hash), "")
	fn(i, ctx)
	return nil
}

// DynCallByName implements the in-memory-name form: the dispatcher has
// already hashed the staged name and drained the remaining dynargs onto
// ctx before calling here.
func (i *Instance) DynCallByName(name string, ctx *hostcall.Context) error {
	fn, ok := i.dynamic.LookupByName(name)
	if !ok {
		return scripterr.At(scripterr.NotFound, "dynamic-call name not bound: "+name, 0)
	}
	logger().Trace(tracePC(ctx), "dyncall", name, "")
	fn(i, ctx)
	return nil
}

// tracePC reads the current PC off ctx for a trace event, tolerating a nil
// ctx (unit tests drive DynCall/DynCallByName directly without one).
func tracePC(ctx *hostcall.Context) uint64 {
	if ctx == nil {
		return 0
	}
	return ctx.Emulator().PC()
}
