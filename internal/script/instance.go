// Package script implements the Script Instance: one guest VM forked from
// a template, its Public-API Directory, its Dynamic-Call Table, and the
// exception/timeout handling that keeps a faulting call from corrupting
// the instance for the next one.
package script

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrelvm/scripthost/internal/directory"
	"github.com/kestrelvm/scripthost/internal/dyncall"
	"github.com/kestrelvm/scripthost/internal/farcall"
	"github.com/kestrelvm/scripthost/internal/hostcall"
	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/scripterr"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// DynamicCall is the closure signature the Dynamic-Call Table holds:
// given the instance that owns the call and the decoded syscall context,
// it runs the handler and sets a result via ctx.
type DynamicCall func(inst *Instance, ctx *hostcall.Context)

// stackSlotCount bounds the "16 x (counter mod 16) pages" stack-offset
// rule, giving every instance forked from the same template a distinct
// stack range.
const stackSlotCount = 16

var stackSlotCounter int

// Instance is one guest VM forked from a Template Binary.
type Instance struct {
	Name     string
	nameHash uint32

	tmpl *registry.Template
	vm   *vm.Machine

	dir     *directory.Directory
	dynamic *dyncall.Table[DynamicCall]
	lookup  farcall.Lookup

	tickEvent       uint64
	tickBlockReason uint64

	budgetOverruns uint64
	isDebug        bool
	stdoutEnabled  bool
	multiprocess   bool
	printSink      func([]byte)

	timers []*Timer

	exited bool
}

// Options configures a newly created Instance.
type Options struct {
	Debug         bool
	StdoutEnabled bool
	MaxReentrancy int
}

// Create forks tmpl into a fresh VM: a new instruction budget
// (translation_blocks_max is folded into MaxInstructions here, since this
// implementation has no separate translation-block cache to bound), a
// fresh stack slot, and the syscall table installed. The instance is
// ready for Initialize once created.
func Create(tmpl *registry.Template, name string, opts Options) (*Instance, error) {
	maxReentrancy := opts.MaxReentrancy
	if maxReentrancy == 0 {
		maxReentrancy = 8
	}

	m, err := vm.New(vm.Options{
		MaxInstructions: tmpl.Machine.MaxInstructions(),
		MaxReentrancy:   maxReentrancy,
	})
	if err != nil {
		return nil, scripterr.New(scripterr.LoadError, "fork template: "+err.Error())
	}

	if _, err := m.Emulator().LoadELFAt(tmpl.BinaryPath, 0); err != nil {
		m.Close()
		return nil, scripterr.New(scripterr.LoadError, "reload template image: "+err.Error())
	}

	slot := stackSlotCounter % stackSlotCount
	stackSlotCounter++
	m.SetStackTop(vm.StackTop - uint64(slot)*16*0x1000)

	inst := &Instance{
		Name:          name,
		nameHash:      directory.Hash(name),
		tmpl:          tmpl,
		vm:            m,
		dir:           directory.New(),
		dynamic:       dyncall.New[DynamicCall](),
		isDebug:       opts.Debug,
		stdoutEnabled: opts.StdoutEnabled,
	}

	inst.dir.BuildFromFile(tmpl.SymbolsPath, tmpl.ELF)

	if err := hostcall.Install(inst); err != nil {
		m.Close()
		return nil, scripterr.New(scripterr.LoadError, "install syscall table: "+err.Error())
	}

	return inst, nil
}

// SetLookup wires the process-wide far-call target resolver. Called by
// internal/host once the instance is registered in the live map, since
// the lookup closure needs to see every instance, including this one.
func (i *Instance) SetLookup(lookup farcall.Lookup) {
	i.lookup = lookup
}

// Initialize runs the guest from its entry point until it voluntarily
// halts or the instruction budget is exhausted. Exhaustion and any
// emulator exception are both reported as failure, after the standard
// diagnostic handling in handleCallError.
func (i *Instance) Initialize(entrySymbol string) error {
	addr := i.tmpl.ELF.FindEntryPoint(entrySymbol)
	if addr == 0 {
		return scripterr.New(scripterr.NotFound, "no entry point resolved for "+i.Name)
	}

	_, err := i.vm.Call(addr, vm.Args{})
	if err != nil {
		return i.handleCallError(err, addr)
	}
	return nil
}

// Reset destroys the forked VM and re-forks from the template, preserving
// the Public-API Directory (built once and never invalidated by a reset).
// Since the underlying emulator has no copy-on-write VM-fork primitive,
// this is implemented by closing the old machine and reloading the
// template's ELF image onto a fresh one - the documented substitute for
// a true COW fork (see DESIGN.md).
func (i *Instance) Reset() error {
	old := i.vm

	m, err := vm.New(vm.Options{
		MaxInstructions: old.MaxInstructions(),
		MaxReentrancy:   8,
	})
	if err != nil {
		return scripterr.New(scripterr.LoadError, "re-fork template: "+err.Error())
	}

	if _, err := m.Emulator().LoadELFAt(i.tmpl.BinaryPath, 0); err != nil {
		m.Close()
		return scripterr.New(scripterr.LoadError, "reload template image: "+err.Error())
	}

	m.SetStackTop(old.StackTop())
	i.vm = m
	i.tickEvent = 0
	i.tickBlockReason = 0
	i.timers = nil

	if err := hostcall.Install(i); err != nil {
		m.Close()
		return scripterr.New(scripterr.LoadError, "install syscall table: "+err.Error())
	}

	old.Close()
	return nil
}

// Call performs a clean top-level call into the guest.
func (i *Instance) Call(addr uint64, args vm.Args) (uint64, error) {
	result, err := i.vm.Call(addr, args)
	if err != nil {
		return 0, i.handleCallError(err, addr)
	}
	return result, nil
}

// Preempt performs a nested call while another call is already in
// progress, bounded by the instance's reentrancy depth.
func (i *Instance) Preempt(addr uint64, args vm.Args) (uint64, error) {
	result, err := i.vm.Preempt(addr, args)
	if err != nil {
		return 0, i.handleCallError(err, addr)
	}
	return result, nil
}

// handleCallError implements the exception-handling contract: a Timeout
// is recoverable and parks/reschedules the offending micro-thread;
// anything else is logged with a full diagnostic and closes every
// non-main thread before surfacing the failure.
func (i *Instance) handleCallError(err error, addr uint64) error {
	se, ok := err.(*scripterr.ScriptError)
	if !ok {
		return err
	}

	traceID := uuid.NewString()

	if se.Kind == scripterr.Timeout {
		i.budgetOverruns++
		cur := i.vm.Threads().Current()
		if cur.ID != 0 {
			// Block/Suspend both switch the live machine state to the next
			// runnable thread themselves; no separate wakeup call needed.
			if cur.BlockReason != 0 {
				i.vm.Threads().Block(cur.BlockReason)
			} else {
				i.vm.Threads().Suspend()
			}
		}
		logger().Timeout(addr, i.symbolName(addr), i.budgetOverruns)
		logger().Warn("call trace", log.Fn(traceID))
		return se
	}

	logger().Exception(se.Kind.String(), se.Addr, i.symbolName(se.Addr))
	logger().Error("call diagnostic",
		log.Addr(se.Addr),
		log.Fn(i.symbolName(addr)),
		log.Fn(traceID),
	)
	i.vm.Threads().Exit()
	return se
}

func (i *Instance) symbolName(addr uint64) string {
	if name := i.SymbolName(addr); name != "" {
		return name
	}
	return fmt.Sprintf("0x%x", addr)
}

// AddressOf resolves a symbol name to a guest address via the template's
// ELF symbol table.
func (i *Instance) AddressOf(name string) uint64 {
	return i.tmpl.ELF.FindSymbol(name)
}

// SymbolName resolves a guest address back to the best-matching symbol
// name, or "" if none matches exactly.
func (i *Instance) SymbolName(addr uint64) string {
	for name, a := range i.tmpl.ELF.Symbols {
		if a == addr {
			return name
		}
	}
	return ""
}

// GuestAlloc allocates bytes in the instance's heap arena.
func (i *Instance) GuestAlloc(size uint64) uint64 {
	return i.vm.Malloc(size)
}

// GuestFree is a no-op: the underlying allocator is a bump allocator with
// scoped release (HeapMark/HeapRelease), not a general free - guest_free
// exists as a contract point for callers that expect one; memory is not
// reclaimed outside a HeapMark/HeapRelease scope.
func (i *Instance) GuestFree(uint64) {}

// Machine exposes the underlying VM, for internal/hostcall's Instance
// interface and internal/farcall's Target interface.
func (i *Instance) Machine() *vm.Machine { return i.vm }

// NameHash returns the instance's stable name-hash.
func (i *Instance) NameHash() uint32 { return i.nameHash }

// ResolveFunction implements farcall.Target: looks up a function by
// name-hash in this instance's Public-API Directory.
func (i *Instance) ResolveFunction(hash uint32) (uint64, bool) {
	addr := i.dir.Lookup(hash)
	return addr, addr != 0
}

// Directory exposes the Public-API Directory for diagnostics.
func (i *Instance) Directory() *directory.Directory { return i.dir }

// Dynamic exposes the Dynamic-Call Table so callers can register
// handlers after creation.
func (i *Instance) Dynamic() *dyncall.Table[DynamicCall] { return i.dynamic }

// StdoutEnabled reports whether api_write should emit bytes.
func (i *Instance) StdoutEnabled() bool { return i.stdoutEnabled }

// Multiprocessing reports whether the instance is currently inside a
// multiprocessing region (unsupported per corecalls.go; always false,
// kept as a method so a future fork/wait implementation has a place to
// flip it).
func (i *Instance) Multiprocessing() bool { return i.multiprocess }

// Print is the instance's stdout sink; the default implementation writes
// nothing, leaving the print sink to the embedder. Replaced by
// SetPrintSink.
func (i *Instance) Print(data []byte) {
	if i.printSink != nil {
		i.printSink(data)
	}
}

// SetPrintSink installs the function api_write emits bytes to.
func (i *Instance) SetPrintSink(fn func([]byte)) {
	i.printSink = fn
}

// Rand returns a float32 in [0, 1) for api_randf. Package-level so every
// instance shares one source rather than seeding one per instance.
func (i *Instance) Rand() float32 {
	return randFloat32()
}

// Exit implements the game_exit hostcall: logs and marks the instance
// exited rather than terminating the process, so one guest's exit
// request doesn't take down every other tenant instance sharing the host.
func (i *Instance) Exit() {
	i.exited = true
	logger().Warn("guest requested exit", log.Fn(i.Name))
}

// Exited reports whether Exit has been called.
func (i *Instance) Exited() bool { return i.exited }

func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}
