package script

import (
	"sort"
	"time"

	"github.com/kestrelvm/scripthost/internal/vm"
)

// benchRounds is the fixed repeat count vmbench multiplies rounds by.
const benchRounds = 2000

// Bench implements vmbench: runs addr rounds*2000 times and returns the
// median per-call duration in nanoseconds. Every CPU-observable register,
// the instruction counter, max-instructions, and the stack base are saved
// before measuring and restored after, so a benchmark call is invisible
// to whatever was running before it - the stack-base lowering below keeps
// repeated top-level calls during measurement from colliding with the
// live frame.
func (i *Instance) Bench(addr uint64, rounds int) (uint64, error) {
	snap := i.vm.SaveState()
	defer i.vm.RestoreState(snap)

	i.vm.SetStackTop(i.vm.Emulator().SP() - 2048)

	total := rounds * benchRounds
	if total <= 0 {
		total = benchRounds
	}

	// Warmup call, discarded: lets any first-call translation cost settle
	// before the timed loop, matching script_bench.cpp's warmup call.
	if _, err := i.vm.Call(addr, vm.Args{}); err != nil {
		return 0, i.handleCallError(err, addr)
	}

	samples := make([]time.Duration, 0, total)
	for n := 0; n < total; n++ {
		start := time.Now()
		if _, err := i.vm.Call(addr, vm.Args{}); err != nil {
			return 0, i.handleCallError(err, addr)
		}
		samples = append(samples, time.Since(start))
	}

	sort.Slice(samples, func(a, b int) bool { return samples[a] < samples[b] })
	return uint64(samples[len(samples)/2].Nanoseconds()), nil
}

// Benchmark is the host-side timing helper from script_bench.cpp's
// Script::benchmark: times times invocations of callback (a Go closure,
// not a guest function pointer) and returns the median duration. It needs
// no guest fixture; the bench CLI subcommand measures guest functions
// through Bench instead.
func Benchmark(times int, callback func()) time.Duration {
	if times <= 0 {
		times = 1
	}
	samples := make([]time.Duration, 0, times)
	for n := 0; n < times; n++ {
		start := time.Now()
		callback()
		samples = append(samples, time.Since(start))
	}
	sort.Slice(samples, func(a, b int) bool { return samples[a] < samples[b] })
	return samples[len(samples)/2]
}
