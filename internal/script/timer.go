package script

import "github.com/kestrelvm/scripthost/internal/vm"

// Timer is a host-driven one-shot or periodic callback (timer_oneshot/
// timer_periodic). It has no OS thread of its own: it is advanced once
// per frame from EachTickEvent, consistent with the single-threaded-per-
// instance model the rest of the frame pulse follows.
type Timer struct {
	id        int
	addr      uint64
	period    uint64 // ticks; 0 means one-shot
	remaining uint64
	cancelled bool
}

// TimerOneShot schedules addr to be preempted once, after delayTicks
// frames have elapsed. Returns an id usable with CancelTimer.
func (i *Instance) TimerOneShot(addr uint64, delayTicks uint64) int {
	return i.addTimer(addr, 0, delayTicks)
}

// TimerPeriodic schedules addr to be preempted every periodTicks frames,
// starting after the first period elapses. Returns an id usable with
// CancelTimer.
func (i *Instance) TimerPeriodic(addr uint64, periodTicks uint64) int {
	return i.addTimer(addr, periodTicks, periodTicks)
}

// CancelTimer stops a pending timer; a no-op if id is unknown or already
// fired (one-shot) or already cancelled.
func (i *Instance) CancelTimer(id int) {
	for _, t := range i.timers {
		if t.id == id {
			t.cancelled = true
			return
		}
	}
}

func (i *Instance) addTimer(addr uint64, period, initialDelay uint64) int {
	id := len(i.timers) + 1
	i.timers = append(i.timers, &Timer{id: id, addr: addr, period: period, remaining: initialDelay})
	return id
}

// runDueTimers advances every live timer by one frame and preempts any
// that reach zero, reaping one-shots and cancelled entries afterward.
func (i *Instance) runDueTimers() {
	live := i.timers[:0]
	for _, t := range i.timers {
		if t.cancelled {
			continue
		}
		if t.remaining > 0 {
			t.remaining--
		}
		if t.remaining == 0 {
			_, _ = i.Preempt(t.addr, vm.Args{Int: []uint64{uint64(t.id)}})
			if t.period == 0 {
				continue // one-shot: don't keep
			}
			t.remaining = t.period
		}
		live = append(live, t)
	}
	i.timers = live
}
