package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Defaults() {
		t.Errorf("expected Defaults(), got %+v", cfg)
	}
}

func TestLoadMissingFileIsLoadError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripthost.yaml")
	if err := os.WriteFile(path, []byte("max_instructions: 12345\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxInstructions != 12345 {
		t.Errorf("MaxInstructions = %d, want 12345", cfg.MaxInstructions)
	}
	if cfg.ReentrancyDepth != DefaultReentrancyDepth {
		t.Errorf("expected untouched field to keep default, got %d", cfg.ReentrancyDepth)
	}
}

func TestDebugForcesUnboundedTranslationBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripthost.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TranslationBlocksMax != debugTranslationBlocks {
		t.Errorf("TranslationBlocksMax = %d, want %d", cfg.TranslationBlocksMax, debugTranslationBlocks)
	}
	if cfg.EffectiveInstructions() != 0 {
		t.Errorf("expected debug mode to yield an unbounded instruction budget")
	}
}

func TestVMOptionsProjectsReentrancyAndBudget(t *testing.T) {
	cfg := Defaults()
	opts := cfg.VMOptions()
	if opts.MaxReentrancy != DefaultReentrancyDepth {
		t.Errorf("MaxReentrancy = %d, want %d", opts.MaxReentrancy, DefaultReentrancyDepth)
	}
	if opts.MaxInstructions != DefaultMaxInstructions {
		t.Errorf("MaxInstructions = %d, want %d", opts.MaxInstructions, DefaultMaxInstructions)
	}
}
