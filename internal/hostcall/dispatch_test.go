package hostcall

import (
	"testing"

	"github.com/kestrelvm/scripthost/internal/vm"
)

// fakeInstance is a minimal Instance for exercising handlers without a
// full Script Instance.
type fakeInstance struct {
	machine        *vm.Machine
	nameHash       uint32
	stdout         bool
	multiprocess   bool
	printed        []byte
	benchErr       error
	dynCalled      uint32
	dynCalledName  string
	dynErr         error
	farcallResult  uint64
	farcallErr     error
	interruptBytes []byte
	tickAddr       uint64
	tickReason     uint64
	exited         bool
}

func (f *fakeInstance) Machine() *vm.Machine        { return f.machine }
func (f *fakeInstance) NameHash() uint32            { return f.nameHash }
func (f *fakeInstance) StdoutEnabled() bool         { return f.stdout }
func (f *fakeInstance) Multiprocessing() bool       { return f.multiprocess }
func (f *fakeInstance) Print(data []byte)           { f.printed = append([]byte{}, data...) }
func (f *fakeInstance) Rand() float32               { return 0.5 }
func (f *fakeInstance) Bench(uint64, int) (uint64, error) {
	return 42, f.benchErr
}
func (f *fakeInstance) DynCall(hash uint32, ctx *Context) error {
	f.dynCalled = hash
	return f.dynErr
}
func (f *fakeInstance) DynCallByName(name string, ctx *Context) error {
	f.dynCalledName = name
	return f.dynErr
}
func (f *fakeInstance) SetTickEvent(addr uint64, reason uint64) {
	f.tickAddr, f.tickReason = addr, reason
}
func (f *fakeInstance) FarCall(targetHash, functionHash uint32, ints [6]uint64, floats [8]uint64) (uint64, error) {
	return f.farcallResult, f.farcallErr
}
func (f *fakeInstance) FarCallDirect(targetHash uint32, functionAddr uint64, ints [6]uint64, floats [8]uint64) (uint64, error) {
	return f.farcallResult, f.farcallErr
}
func (f *fakeInstance) Interrupt(targetHash, functionHash uint32, payload []byte) (uint64, error) {
	f.interruptBytes = append([]byte{}, payload...)
	return f.farcallResult, f.farcallErr
}
func (f *fakeInstance) Exit() { f.exited = true }

func newTestContext(t *testing.T) (*Context, *fakeInstance) {
	t.Helper()
	m, err := vm.New(vm.Options{MaxInstructions: 0, MaxReentrancy: 8})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	inst := &fakeInstance{machine: m, nameHash: 0xabc, stdout: true}
	return &Context{inst: inst, e: m.Emulator()}, inst
}

func TestApiSelfTestSetsZero(t *testing.T) {
	ctx, _ := newTestContext(t)
	apiSelfTest(ctx)
	if ctx.e.X(0) != 0 {
		t.Fatalf("X0 = %d, want 0", ctx.e.X(0))
	}
}

func TestApiWriteRespectsStdoutDisabled(t *testing.T) {
	ctx, inst := newTestContext(t)
	inst.stdout = false
	_ = ctx.e.SetX(0, 0)
	_ = ctx.e.SetX(1, 5)

	apiWrite(ctx)
	if inst.printed != nil {
		t.Fatalf("expected no print when stdout disabled")
	}
}

func TestApiWriteRejectsMultiprocessing(t *testing.T) {
	ctx, inst := newTestContext(t)
	inst.multiprocess = true

	apiWrite(ctx)
	if ctx.e.X(0) != ^uint64(0) {
		t.Fatalf("expected -1 result under multiprocessing, got %d", ctx.e.X(0))
	}
}

func TestApiMachineHashReturnsNameHash(t *testing.T) {
	ctx, inst := newTestContext(t)
	apiMachineHash(ctx)
	if ctx.e.X(0) != uint64(inst.nameHash) {
		t.Fatalf("X0 = %d, want %d", ctx.e.X(0), inst.nameHash)
	}
}

func TestApiEachFrameRecordsTickEvent(t *testing.T) {
	ctx, inst := newTestContext(t)
	_ = ctx.e.SetX(0, 0x1000)
	_ = ctx.e.SetX(1, 7)

	apiEachFrame(ctx)
	if inst.tickAddr != 0x1000 || inst.tickReason != 7 {
		t.Fatalf("tick event = (%x, %d), want (0x1000, 7)", inst.tickAddr, inst.tickReason)
	}
}

func TestApiGameExitCallsExit(t *testing.T) {
	ctx, inst := newTestContext(t)
	apiGameExit(ctx)
	if !inst.exited {
		t.Fatalf("expected Exit to be called")
	}
}

func TestApiMultiprocessUnsupportedReturnsMinusOne(t *testing.T) {
	ctx, _ := newTestContext(t)
	apiMultiprocessUnsupported(ctx)
	if ctx.e.X(0) != ^uint64(0) {
		t.Fatalf("expected -1, got %d", ctx.e.X(0))
	}
}

func TestApiDyncallRegisterForm(t *testing.T) {
	ctx, inst := newTestContext(t)
	_ = ctx.e.SetX(0, 0x55)

	apiDyncall(ctx)
	if inst.dynCalled != 0x55 {
		t.Fatalf("DynCall hash = %x, want 0x55", inst.dynCalled)
	}
}

func TestInstallWiresIntrHandler(t *testing.T) {
	m, err := vm.New(vm.Options{})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	defer m.Close()

	inst := &fakeInstance{machine: m}
	if err := Install(inst); err != nil {
		t.Fatalf("Install: %v", err)
	}
}
