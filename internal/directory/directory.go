// Package directory implements the Public-API Directory: a hash-indexed,
// insertion-only lookup from a symbol name's CRC32 to its guest entry
// address, built once by scanning a whitespace-separated symbol list.
package directory

import (
	"hash/crc32"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelvm/scripthost/internal/log"
)

// AddressResolver looks up a guest symbol's address, returning 0 if unknown.
// internal/emulator's *ELFInfo satisfies this via FindSymbol.
type AddressResolver interface {
	FindSymbol(name string) uint64
}

// Directory is the built, read-only-after-build name-hash → address map.
type Directory struct {
	entries map[uint32]uint64
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{entries: make(map[uint32]uint64)}
}

// BuildFromText splits text on whitespace and, for each token, resolves its
// guest address via resolver. Unresolved tokens (address 0) are excluded.
// A duplicate hash among resolvable tokens is logged and the first
// insertion wins, mirroring the at-most-one-entry-per-hash rule.
func (d *Directory) BuildFromText(text string, resolver AddressResolver) {
	for _, token := range strings.Fields(text) {
		addr := resolver.FindSymbol(token)
		if addr == 0 {
			continue
		}
		hash := crc32.ChecksumIEEE([]byte(token))
		if existing, ok := d.entries[hash]; ok && existing != addr {
			logger().Warn("directory hash collision, keeping first entry",
				zap.String("symbol", token),
			)
			continue
		}
		d.entries[hash] = addr
	}
}

// BuildFromFile reads path and delegates to BuildFromText. An empty path is
// a silent no-op; a missing file logs a warning and is a no-op.
func (d *Directory) BuildFromFile(path string, resolver AddressResolver) {
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger().Warn("symbol file not found, directory left unbuilt from file", log.Fn(path))
		return
	}

	d.BuildFromText(string(data), resolver)
}

// logger returns the global logger if initialized, or a no-op logger
// otherwise, so library code never dereferences a nil *log.Logger when
// used ahead of log.Init (as in unit tests).
func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}

// Lookup resolves a name-hash to a guest address, returning 0 if absent.
// Backs api_function_from_hash.
func (d *Directory) Lookup(hash uint32) uint64 {
	return d.entries[hash]
}

// Len returns the number of resolved entries, for diagnostics.
func (d *Directory) Len() int {
	return len(d.entries)
}

// Hash is the CRC32 used throughout the directory and dynamic-call table.
func Hash(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}
