// Package dyncall implements the Dynamic-Call Table: a map from a
// CRC32 name-hash to a host closure, supporting the guest-pushed
// variadic-argument calling convention.
//
// Table is generic over the closure signature so that internal/script can
// instantiate it with its own instance-reference type without this package
// importing internal/script (which would be a cycle: script needs a table
// of closures over *script.Instance, and a table package that imported
// script to spell that type would import it right back).
package dyncall

import (
	"hash/crc32"

	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// Table maps name-hash to a closure of caller-chosen signature T. T is
// typically a func(instance-ref, args) kind of value — this package never
// calls it, only stores and retrieves it.
type Table[T any] struct {
	entries map[uint32]T
	names   map[uint32]string // for diagnostics only
}

// New returns an empty dynamic-call table.
func New[T any]() *Table[T] {
	return &Table[T]{
		entries: make(map[uint32]T),
		names:   make(map[uint32]string),
	}
}

// Hash returns the CRC32 name-hash used as the table's key space.
func Hash(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// Set inserts name → handler. Insertion fails with HashCollision if the
// hash is already present under a different name (same name re-inserted
// with Set is also rejected — callers that want to replace an existing
// binding must use Reset).
func (t *Table[T]) Set(name string, handler T) error {
	h := Hash(name)
	if existing, ok := t.names[h]; ok {
		logger().CallRejected(name, h, "hash already bound to "+existing)
		return scripterr.At(scripterr.HashCollision, "dynamic-call name \""+name+"\" collides with \""+existing+"\"", uint64(h))
	}
	t.entries[h] = handler
	t.names[h] = name
	logger().CallBound(name, h, 0)
	return nil
}

// logger returns the global logger if initialized, or a no-op logger
// otherwise, so this package is safe to use ahead of log.Init (tests).
func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}

// Reset removes any existing binding for name, then installs handler
// unless remove is true (remove == true means "remove only"; handler is
// then ignored). Unlike Set, Reset never raises HashCollision.
func (t *Table[T]) Reset(name string, handler T, remove bool) {
	h := Hash(name)
	delete(t.entries, h)
	delete(t.names, h)
	if !remove {
		t.entries[h] = handler
		t.names[h] = name
	}
}

// SetMany bulk-inserts name/handler pairs in order, stopping at (and
// returning) the first HashCollision.
func (t *Table[T]) SetMany(names []string, handlers []T) error {
	for i, name := range names {
		if err := t.Set(name, handlers[i]); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the handler bound to hash and whether it was found. This
// backs both dynamic-call syscall variants: the register-argument form
// (hash computed by the guest, passed directly) and the in-memory-name
// form (hash streamed from guest memory via LookupByName).
func (t *Table[T]) Lookup(hash uint32) (T, bool) {
	v, ok := t.entries[hash]
	return v, ok
}

// LookupByName streams name through CRC32 and looks up the result,
// mirroring the in-memory-name dynamic-call form's "no materialize the
// full string beyond hashing it" contract — the string still has to be
// read out of guest memory by the caller, but this package never needs
// more than the resulting hash.
func (t *Table[T]) LookupByName(name string) (T, bool) {
	return t.Lookup(Hash(name))
}

// Len returns the number of bound entries.
func (t *Table[T]) Len() int {
	return len(t.entries)
}
