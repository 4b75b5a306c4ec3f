// Package host holds the process-wide map of live Script Instances keyed
// by name-hash, and adapts it into the far-call Lookup every instance
// needs to reach every other instance.
package host

import (
	"sort"
	"sync"

	"github.com/kestrelvm/scripthost/internal/directory"
	"github.com/kestrelvm/scripthost/internal/farcall"
	"github.com/kestrelvm/scripthost/internal/log"
	"github.com/kestrelvm/scripthost/internal/script"
	"github.com/kestrelvm/scripthost/internal/scripterr"
)

// Map is the single process-wide table of live instances. Instances are
// owned by the map; external references are by name-hash lookup, never by
// a raw reference that outlives the map entry.
type Map struct {
	mu        sync.RWMutex
	instances map[uint32]*script.Instance
}

// New returns an empty instance map.
func New() *Map {
	return &Map{instances: make(map[uint32]*script.Instance)}
}

// Insert registers inst under its own name-hash and wires its far-call
// lookup to this map, so the instance can reach any sibling registered
// here (including itself, via machine_hash/far-call to its own name).
// Raises HashCollision if the name-hash is already in use - name-hash
// collisions are a configuration error.
func (hm *Map) Insert(inst *script.Instance) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if _, exists := hm.instances[inst.NameHash()]; exists {
		return scripterr.At(scripterr.HashCollision, "instance name-hash already registered: "+inst.Name, uint64(inst.NameHash()))
	}

	hm.instances[inst.NameHash()] = inst
	inst.SetLookup(hm.AsLookup())
	return nil
}

// Get looks up a live instance by name-hash.
func (hm *Map) Get(nameHash uint32) (*script.Instance, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	inst, ok := hm.instances[nameHash]
	return inst, ok
}

// GetByName is Get keyed by name rather than its precomputed hash.
func (hm *Map) GetByName(name string) (*script.Instance, bool) {
	return hm.Get(directory.Hash(name))
}

// Evict removes an instance from the map. The caller is responsible for
// closing its underlying machine.
func (hm *Map) Evict(nameHash uint32) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.instances, nameHash)
}

// Names returns every registered instance name, for diagnostics.
func (hm *Map) Names() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.instances))
	for _, inst := range hm.instances {
		names = append(names, inst.Name)
	}
	return names
}

// Tick drives every registered instance's EachTickEvent once, in name-hash
// order for determinism. Used by the embedder's frame loop (cmd/scripthost's
// monitor subcommand stands in for that loop).
func (hm *Map) Tick() {
	hm.mu.RLock()
	instances := make([]*script.Instance, 0, len(hm.instances))
	for _, inst := range hm.instances {
		instances = append(instances, inst)
	}
	hm.mu.RUnlock()

	sort.Slice(instances, func(a, b int) bool {
		return instances[a].NameHash() < instances[b].NameHash()
	})

	for _, inst := range instances {
		if err := inst.EachTickEvent(); err != nil {
			logger().Warn("tick handler faulted", log.Fn(inst.Name))
		}
	}
}

// AsLookup adapts this map into a farcall.Lookup, the function each
// instance uses to resolve a far-call's target by name-hash.
func (hm *Map) AsLookup() farcall.Lookup {
	return func(targetHash uint32) (farcall.Target, bool) {
		inst, ok := hm.Get(targetHash)
		if !ok {
			logger().Warn("far-call target not registered", log.Size(uint64(targetHash)))
			return nil, false
		}
		return inst, true
	}
}

func logger() *log.Logger {
	if log.L != nil {
		return log.L
	}
	return log.NewNop()
}
