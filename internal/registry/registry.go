// Package registry implements the Binary Registry ("blackbox"): it maps a
// binary name to a loaded template VM plus its public-symbol listing, ready
// to be forked into Script Instances.
package registry

import (
	"os"
	"sync"

	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/scripterr"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// Template is the immutable record produced once at load time: a name, the
// raw image bytes, and a ready-to-fork template machine with the ELF image
// already mapped in. It is read-only thereafter.
type Template struct {
	Name        string
	BinaryPath  string
	Image       []byte
	SymbolsPath string

	Machine *vm.Machine
	ELF     *emulator.ELFInfo
}

// Registry holds every loaded Template Binary, keyed by name. Insertions are
// not concurrent with Get — initialization phase only, per spec.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	opts      vm.Options
}

// New creates an empty registry. opts configures every template machine
// that gets forked (instruction budget, reentrancy bound).
func New(opts vm.Options) *Registry {
	return &Registry{
		templates: make(map[string]*Template),
		opts:      opts,
	}
}

// Insert loads the ELF binary at binaryPath into a freshly initialized
// template machine and registers it under name. symbolsPath, if non-empty,
// is recorded for later use building the instance's Public-API Directory;
// it is not read here (directory construction is the Instance's job).
//
// Failure to load the binary or find the file raises LoadError.
func (r *Registry) Insert(name, binaryPath, symbolsPath string) error {
	image, err := os.ReadFile(binaryPath)
	if err != nil {
		return scripterr.New(scripterr.LoadError, "read binary: "+err.Error())
	}

	m, err := vm.New(r.opts)
	if err != nil {
		return scripterr.New(scripterr.LoadError, "create template machine: "+err.Error())
	}

	info, err := m.Emulator().LoadELFAt(binaryPath, 0)
	if err != nil {
		m.Close()
		return scripterr.New(scripterr.LoadError, "parse ELF: "+err.Error())
	}

	tmpl := &Template{
		Name:        name,
		BinaryPath:  binaryPath,
		Image:       image,
		SymbolsPath: symbolsPath,
		Machine:     m,
		ELF:         info,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = tmpl
	return nil
}

// Get looks up a previously inserted template by name, raising NotFound if
// absent.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[name]
	if !ok {
		return nil, scripterr.New(scripterr.NotFound, "no template registered as "+name)
	}
	return tmpl, nil
}

// Names returns every registered template name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}
