// Package config loads the process-wide tunables that bound every forked
// Script Instance: memory/heap ceilings, the per-call instruction budget,
// reentrancy depth, and the translation-block cache size toggle between
// debug and release runs.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelvm/scripthost/internal/emulator"
	"github.com/kestrelvm/scripthost/internal/scripterr"
	"github.com/kestrelvm/scripthost/internal/vm"
)

// Defaults: a memory ceiling at the end of the emulator's fixed heap
// region (HeapBase+HeapSize, 0xA0000000), a 256MB heap, a 2,000,000-instruction per-call budget, a
// reentrancy depth of 8, and a 4000-entry translation-block cache for
// non-debug runs.
const (
	DefaultMaxMemory         = uint64(emulator.HeapBase + emulator.HeapSize)
	DefaultMaxHeap           = uint64(emulator.HeapSize)
	DefaultMaxInstructions   = uint64(2_000_000)
	DefaultReentrancyDepth   = 8
	DefaultTranslationBlocks = 4000
	debugTranslationBlocks   = 0 // unbounded under debug
)

// Config holds every process-wide tunable. Zero-value Config is invalid;
// use Defaults or Load.
type Config struct {
	MaxMemory            uint64 `yaml:"max_memory"`
	MaxHeap              uint64 `yaml:"max_heap"`
	MaxInstructions      uint64 `yaml:"max_instructions"`
	ReentrancyDepth      int    `yaml:"reentrancy_depth"`
	TranslationBlocksMax int    `yaml:"translation_blocks_max"`
	Debug                bool   `yaml:"debug"`
	StdoutEnabled        bool   `yaml:"stdout_enabled"`
}

// Defaults returns the hardcoded configuration used whenever no config
// file is given.
func Defaults() Config {
	return Config{
		MaxMemory:            DefaultMaxMemory,
		MaxHeap:              DefaultMaxHeap,
		MaxInstructions:      DefaultMaxInstructions,
		ReentrancyDepth:      DefaultReentrancyDepth,
		TranslationBlocksMax: DefaultTranslationBlocks,
		StdoutEnabled:        true,
	}
}

// Load reads a YAML config file at path, overlaying it onto Defaults() so
// a partial file only overrides the fields it sets. An empty path returns
// Defaults() unmodified, matching internal/directory's BuildFromFile
// "empty path is a no-op" convention.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, scripterr.New(scripterr.LoadError, "read config: "+err.Error())
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, scripterr.New(scripterr.LoadError, "parse config: "+err.Error())
	}

	if cfg.Debug {
		cfg.TranslationBlocksMax = debugTranslationBlocks
	}

	return cfg, nil
}

// EffectiveInstructions folds translation_blocks_max into the per-call
// instruction budget: this implementation has no separate translation-block
// cache to bound (Unicorn's JIT handles that internally), so debug mode's
// "0 translation blocks" maps to an unbounded (0 = no limit) instruction
// budget, and a release run's positive cache size leaves MaxInstructions as
// the only real budget.
func (c Config) EffectiveInstructions() uint64 {
	if c.Debug {
		return 0
	}
	return c.MaxInstructions
}

// VMOptions projects this configuration onto the options internal/vm.New
// and internal/registry.New accept.
func (c Config) VMOptions() vm.Options {
	return vm.Options{
		MaxInstructions: c.EffectiveInstructions(),
		MaxReentrancy:   c.ReentrancyDepth,
	}
}
