package host

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelvm/scripthost/internal/registry"
	"github.com/kestrelvm/scripthost/internal/script"
	"github.com/kestrelvm/scripthost/internal/scripterr"
	"github.com/kestrelvm/scripthost/internal/vm"
)

const testELFBaseVAddr = 0x10000

// buildMinimalELF assembles the smallest ARM64 ET_EXEC debug/elf can parse:
// one PT_LOAD segment covering the whole file, no section headers, no
// symbol table. code is appended right after the ELF + program headers.
func buildMinimalELF(t *testing.T, code []byte) string {
	t.Helper()

	const ehsize = 64
	const phsize = 56
	entry := uint64(testELFBaseVAddr + ehsize + phsize)
	fileSize := uint64(ehsize + phsize + len(code))

	buf := make([]byte, 0, fileSize)

	// e_ident
	buf = append(buf, 0x7f, 'E', 'L', 'F', 2, 1, 1, 0)
	buf = append(buf, make([]byte, 8)...) // padding to 16 bytes

	put16 := func(v uint16) { buf = binary.LittleEndian.AppendUint16(buf, v) }
	put32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	put64 := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }

	put16(2)   // e_type = ET_EXEC
	put16(183) // e_machine = EM_AARCH64
	put32(1)   // e_version
	put64(entry)
	put64(ehsize) // e_phoff
	put64(0)      // e_shoff
	put32(0)      // e_flags
	put16(ehsize) // e_ehsize
	put16(phsize) // e_phentsize
	put16(1)      // e_phnum
	put16(0)      // e_shentsize
	put16(0)      // e_shnum
	put16(0)      // e_shstrndx

	// Elf64_Phdr: one PT_LOAD, R+X, covering the entire file at p_offset 0.
	put32(1) // p_type = PT_LOAD
	put32(5) // p_flags = PF_R | PF_X
	put64(0) // p_offset
	put64(testELFBaseVAddr)
	put64(testELFBaseVAddr)
	put64(fileSize) // p_filesz
	put64(fileSize) // p_memsz
	put64(0x1000)   // p_align

	buf = append(buf, code...)

	path := filepath.Join(t.TempDir(), "fixture.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write ELF fixture: %v", err)
	}
	return path
}

// ARM64 fixture: RET
var retOnly = []byte{0xc0, 0x03, 0x5f, 0xd6}

func newTestInstance(t *testing.T, name string) *script.Instance {
	t.Helper()

	path := buildMinimalELF(t, retOnly)

	m, err := vm.New(vm.Options{MaxInstructions: 100000})
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	tmpl := &registry.Template{Name: name, BinaryPath: path, Machine: m}

	inst, err := script.Create(tmpl, name, script.Options{})
	if err != nil {
		t.Fatalf("script.Create: %v", err)
	}
	return inst
}

func TestInsertAndGet(t *testing.T) {
	hm := New()
	inst := newTestInstance(t, "alpha")

	if err := hm.Insert(inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := hm.GetByName("alpha")
	if !ok || got != inst {
		t.Fatalf("GetByName(alpha) = (%v, %v)", got, ok)
	}
}

func TestInsertDuplicateNameHashIsCollision(t *testing.T) {
	hm := New()
	a := newTestInstance(t, "dup")
	b := newTestInstance(t, "dup")

	if err := hm.Insert(a); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	err := hm.Insert(b)
	var se *scripterr.ScriptError
	if !errors.As(err, &se) || se.Kind != scripterr.HashCollision {
		t.Fatalf("expected HashCollision, got %v", err)
	}
}

func TestAsLookupResolvesRegisteredInstance(t *testing.T) {
	hm := New()
	inst := newTestInstance(t, "target")
	if err := hm.Insert(inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	lookup := hm.AsLookup()
	target, ok := lookup(inst.NameHash())
	if !ok || target.NameHash() != inst.NameHash() {
		t.Fatalf("lookup failed for registered instance")
	}
}

func TestAsLookupUnknownTarget(t *testing.T) {
	hm := New()
	lookup := hm.AsLookup()
	if _, ok := lookup(0xdeadbeef); ok {
		t.Fatalf("expected unknown target to miss")
	}
}

func TestEvictRemovesInstance(t *testing.T) {
	hm := New()
	inst := newTestInstance(t, "evictee")
	if err := hm.Insert(inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hm.Evict(inst.NameHash())
	if _, ok := hm.GetByName("evictee"); ok {
		t.Fatalf("expected instance evicted")
	}
}
