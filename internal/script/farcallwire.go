package script

import (
	"fmt"

	"github.com/kestrelvm/scripthost/internal/farcall"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// FarCall implements the farcall syscall by delegating to internal/farcall
// with this instance's process-wide target lookup.
func (i *Instance) FarCall(targetHash, functionHash uint32, ints [6]uint64, floats [8]uint64) (uint64, error) {
	if i.lookup == nil {
		return ^uint64(0), scripterr.New(scripterr.NotFound, "far-call lookup not wired")
	}
	logger().Trace(0, "farcall", fmt.Sprintf("0x%x->0x%x", targetHash, functionHash), "")
	return farcall.Call(i.lookup, targetHash, functionHash, ints, floats)
}

// FarCallDirect implements farcall_direct, the address-already-known variant.
func (i *Instance) FarCallDirect(targetHash uint32, functionAddr uint64, ints [6]uint64, floats [8]uint64) (uint64, error) {
	if i.lookup == nil {
		return ^uint64(0), scripterr.New(scripterr.NotFound, "far-call lookup not wired")
	}
	logger().Trace(0, "farcall", fmt.Sprintf("0x%x->%#x", targetHash, functionAddr), "direct")
	return farcall.CallDirect(i.lookup, targetHash, functionAddr, ints, floats)
}

// Interrupt implements the interrupt syscall: payload-copying, preempting
// variant of a far-call.
func (i *Instance) Interrupt(targetHash, functionHash uint32, payload []byte) (uint64, error) {
	if i.lookup == nil {
		return ^uint64(0), scripterr.New(scripterr.NotFound, "far-call lookup not wired")
	}
	logger().Trace(0, "farcall", fmt.Sprintf("0x%x->0x%x", targetHash, functionHash), fmt.Sprintf("%d bytes", len(payload)))
	return farcall.Interrupt(i.lookup, targetHash, functionHash, payload)
}
