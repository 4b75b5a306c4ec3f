package vm

// ThreadState is the lifecycle state of a micro-thread.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadSuspended
	ThreadBlocked
	ThreadDead
)

// Thread is one cooperative micro-thread. Thread 0 is always the main
// thread created with the machine and is never torn down; it is the
// thread each_tick_event asserts control returns to before and after
// firing the tick callback.
type Thread struct {
	ID          int
	State       ThreadState
	BlockReason uint64

	// saved holds the register snapshot taken the moment this thread
	// stopped being the one actually executing on the machine. It is
	// restored into the emulator when the scheduler switches back to it.
	saved    snapshot
	hasSaved bool
}

// Scheduler implements the block/suspend/wakeup cooperative model a
// Script Instance runs its micro-threads under. Only one thread's
// registers are ever live in the underlying emulator at a time; the
// rest sit in `saved` snapshots until resumed.
type Scheduler struct {
	m       *Machine
	threads []*Thread
	current int // index into threads of the thread whose state is live
	nextID  int
}

// NewScheduler creates a scheduler with a single live main thread (id 0).
func NewScheduler(m *Machine) *Scheduler {
	s := &Scheduler{m: m}
	s.threads = []*Thread{{ID: 0, State: ThreadRunning}}
	s.nextID = 1
	return s
}

// Current returns the thread currently driving the machine.
func (s *Scheduler) Current() *Thread {
	return s.threads[s.current]
}

// Spawn creates a new suspended thread with no saved register state and
// returns it. Switching to it (WakeupNext) leaves the machine's registers
// as they are.
func (s *Scheduler) Spawn() *Thread {
	t := &Thread{ID: s.nextID, State: ThreadSuspended}
	s.nextID++
	s.threads = append(s.threads, t)
	return t
}

// Block marks the current thread blocked on reason and switches the
// live machine state to the next runnable thread, if any.
func (s *Scheduler) Block(reason uint64) {
	cur := s.Current()
	cur.State = ThreadBlocked
	cur.BlockReason = reason
	cur.saved = s.m.snapshotState()
	cur.hasSaved = true
	s.switchToNextRunnable()
}

// Suspend marks the current thread suspended (blocked on no particular
// reason — the budget-overrun-without-a-reason path) and switches away.
func (s *Scheduler) Suspend() {
	cur := s.Current()
	cur.State = ThreadSuspended
	cur.saved = s.m.snapshotState()
	cur.hasSaved = true
	s.switchToNextRunnable()
}

// Unblock moves every thread blocked on reason back to suspended
// (runnable-but-not-current), leaving scheduling order to WakeupNext.
func (s *Scheduler) Unblock(reason uint64) int {
	n := 0
	for _, t := range s.threads {
		if t.State == ThreadBlocked && t.BlockReason == reason {
			t.State = ThreadSuspended
			n++
		}
	}
	return n
}

// WakeupOneBlocked wakes a single thread blocked on reason, preferring
// the lowest thread id, and returns whether one was found.
func (s *Scheduler) WakeupOneBlocked(reason uint64) bool {
	for _, t := range s.threads {
		if t.State == ThreadBlocked && t.BlockReason == reason {
			s.resume(t)
			return true
		}
	}
	return false
}

// WakeupNext switches execution to the next suspended thread in id
// order, if any, restoring its saved register snapshot.
func (s *Scheduler) WakeupNext() bool {
	for _, t := range s.threads {
		if t.ID == s.Current().ID {
			continue
		}
		if t.State == ThreadSuspended {
			s.resume(t)
			return true
		}
	}
	return false
}

// BlockedCount returns how many threads are currently blocked on reason.
// each_tick_event uses this to size its preempt fan-out.
func (s *Scheduler) BlockedCount(reason uint64) int {
	n := 0
	for _, t := range s.threads {
		if t.State == ThreadBlocked && t.BlockReason == reason {
			n++
		}
	}
	return n
}

// Exit tears down every thread but the main one (id 0). Mirrors the
// exception-recovery sweep that closes all non-main threads before
// reporting a guest fault up to the caller.
func (s *Scheduler) Exit() {
	main := s.threads[0]
	for _, t := range s.threads[1:] {
		t.State = ThreadDead
	}
	s.threads = []*Thread{main}
	s.current = 0
	main.State = ThreadRunning
}

func (s *Scheduler) switchToNextRunnable() {
	for i, t := range s.threads {
		if t.State == ThreadSuspended {
			s.activate(i)
			return
		}
	}
	// Nothing runnable: fall back to the main thread so the machine
	// always has a live context, even if it's sitting idle.
	s.activate(0)
}

func (s *Scheduler) resume(t *Thread) {
	if cur := s.Current(); cur.ID != t.ID && cur.State == ThreadRunning {
		cur.State = ThreadSuspended
		cur.saved = s.m.snapshotState()
		cur.hasSaved = true
	}
	for i, other := range s.threads {
		if other.ID == t.ID {
			t.State = ThreadRunning
			if t.hasSaved {
				s.m.restoreState(t.saved)
			}
			s.current = i
			return
		}
	}
}

func (s *Scheduler) activate(i int) {
	t := s.threads[i]
	t.State = ThreadRunning
	if t.hasSaved {
		s.m.restoreState(t.saved)
	}
	s.current = i
}
