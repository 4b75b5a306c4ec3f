package script

import "github.com/kestrelvm/scripthost/internal/vm"

// SetTickEvent records the guest address to invoke each frame and the
// micro-thread block reason used to park frame-waiting threads. addr = 0
// disables the tick handler.
func (i *Instance) SetTickEvent(addr uint64, reason uint64) {
	i.tickEvent = addr
	i.tickBlockReason = reason
}

// EachTickEvent is called by the embedder once per frame, on the main
// thread (tid 0). It counts micro-threads blocked on tick_block_reason,
// preempts the tick handler with (count, reason), and asserts the main
// thread is still tid 0 both before and after - the frame-pulse contract.
func (i *Instance) EachTickEvent() error {
	if i.tickEvent == 0 {
		i.runDueTimers()
		return nil
	}

	if i.vm.Threads().Current().ID != 0 {
		panic("EachTickEvent called off the main thread")
	}

	count := i.vm.Threads().BlockedCount(i.tickBlockReason)
	_, err := i.Preempt(i.tickEvent, vm.Args{
		Int: []uint64{uint64(count), i.tickBlockReason},
	})

	if i.vm.Threads().Current().ID != 0 {
		panic("tick handler left the main thread at a non-zero tid")
	}

	i.runDueTimers()

	return err
}
