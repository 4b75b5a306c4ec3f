// Package farcall implements cross-VM calls: a caller instance invoking a
// function by name or by address inside a different, independently
// scheduled instance, plus the one-way payload-copying interrupt form.
//
// This package defines its own Target interface rather than importing
// internal/script, so that internal/script (which implements Target) can
// depend on this package without an import cycle.
package farcall

import (
	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/scripterr"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// Target is everything a far-call needs from the destination instance.
type Target interface {
	Machine() *vm.Machine
	NameHash() uint32
	ResolveFunction(hash uint32) (uint64, bool)
}

// Lookup resolves a target instance by its name-hash. internal/host
// supplies the concrete implementation over its process-wide instance map.
type Lookup func(targetHash uint32) (Target, bool)

// Call performs a synchronous far-call: resolve the target instance by
// name-hash, resolve the destination function by name-hash within that
// instance's Public-API Directory, and preempt it with the forwarded
// arguments. An unknown target is reported as NotFound; an unknown
// function is logged and reported as NotFound without touching the
// target's state.
func Call(lookup Lookup, targetHash, functionHash uint32, ints [6]uint64, floats [8]uint64) (uint64, error) {
	target, ok := lookup(targetHash)
	if !ok {
		return ^uint64(0), scripterr.At(scripterr.NotFound, "far-call target not found", uint64(targetHash))
	}

	addr, ok := target.ResolveFunction(functionHash)
	if !ok {
		logger().Warn("far-call function not bound", log.Addr(uint64(functionHash)))
		return ^uint64(0), scripterr.At(scripterr.NotFound, "far-call function not found", uint64(functionHash))
	}

	return preempt(target, addr, ints, floats)
}

// CallDirect is Call's address-already-known variant: the function is
// specified as a guest address inside the target rather than a name-hash,
// skipping the directory lookup.
func CallDirect(lookup Lookup, targetHash uint32, functionAddr uint64, ints [6]uint64, floats [8]uint64) (uint64, error) {
	target, ok := lookup(targetHash)
	if !ok {
		return ^uint64(0), scripterr.At(scripterr.NotFound, "far-call target not found", uint64(targetHash))
	}

	return preempt(target, functionAddr, ints, floats)
}

func preempt(target Target, addr uint64, ints [6]uint64, floats [8]uint64) (uint64, error) {
	args := vm.Args{Int: ints[:], Float: floats[:]}
	result, err := target.Machine().Preempt(addr, args)
	if err != nil {
		// A destination-side exception or timeout is surfaced as the
		// destination's own return value to the caller, not propagated as
		// a Go error across the VM boundary - the caller only learns
		// something went wrong inside the callee through its result.
		logger().Warn("far-call destination faulted", log.Fn(err.Error()))
		return ^uint64(0), nil
	}
	return result, nil
}

// Interrupt copies a byte payload into the destination's heap arena and
// preempts it with (addr, size) as its two arguments. The allocation is
// scoped to the call: it's released via the destination machine's
// heap mark/release pair once the preempt returns, regardless of outcome.
func Interrupt(lookup Lookup, targetHash, functionHash uint32, payload []byte) (uint64, error) {
	target, ok := lookup(targetHash)
	if !ok {
		return ^uint64(0), scripterr.At(scripterr.NotFound, "interrupt target not found", uint64(targetHash))
	}

	addr, ok := target.ResolveFunction(functionHash)
	if !ok {
		logger().Warn("interrupt function not bound", log.Addr(uint64(functionHash)))
		return ^uint64(0), scripterr.At(scripterr.NotFound, "interrupt function not found", uint64(functionHash))
	}

	m := target.Machine()
	mark := m.HeapMark()
	defer m.HeapRelease(mark)

	destAddr := m.Malloc(uint64(len(payload)))
	if len(payload) > 0 {
		if err := m.Emulator().MemWrite(destAddr, payload); err != nil {
			return ^uint64(0), scripterr.At(scripterr.IllegalWrite, err.Error(), destAddr)
		}
	}

	result, err := m.Preempt(addr, vm.Args{Int: []uint64{destAddr, uint64(len(payload))}})
	if err != nil {
		logger().Warn("interrupt destination faulted", log.Fn(err.Error()))
		return ^uint64(0), nil
	}
	return result, nil
}

func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}
