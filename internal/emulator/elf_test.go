package emulator

import (
	"debug/elf"
	"testing"
)

func TestFindEntryPoint(t *testing.T) {
	info := &ELFInfo{
		Entry: 0x1000,
		Symbols: map[string]uint64{
			"main":      0x2000,
			"other_sym": 0x4000,
		},
	}

	// Should prefer "main" over the raw ELF entry
	entry := info.FindEntryPoint("")
	if entry != 0x2000 {
		t.Errorf("expected main (0x2000), got 0x%x", entry)
	}

	// Should use preferred entry if specified
	entry = info.FindEntryPoint("other_sym")
	if entry != 0x4000 {
		t.Errorf("expected other_sym (0x4000), got 0x%x", entry)
	}

	// Case-insensitive preferred lookup
	entry = info.FindEntryPoint("MAIN")
	if entry != 0x2000 {
		t.Errorf("expected main (0x2000) case-insensitive, got 0x%x", entry)
	}

	// No bootstrap names present - fall back to ELF entry
	info2 := &ELFInfo{
		Entry: 0x1000,
		Symbols: map[string]uint64{
			"unrelated_symbol": 0x3000,
		},
	}
	entry = info2.FindEntryPoint("")
	if entry != 0x1000 {
		t.Errorf("expected ELF entry (0x1000) as fallback, got 0x%x", entry)
	}

	// _start takes priority when main is absent
	info3 := &ELFInfo{
		Entry: 0x1000,
		Symbols: map[string]uint64{
			"_start": 0x5000,
			"init":   0x6000,
		},
	}
	entry = info3.FindEntryPoint("")
	if entry != 0x5000 {
		t.Errorf("expected _start (0x5000) over init, got 0x%x", entry)
	}
}

func TestFindSymbolsBySubstring(t *testing.T) {
	info := &ELFInfo{
		Symbols: map[string]uint64{
			"script_main":  0x1000,
			"script_tick":  0x2000,
			"unrelated":    0x3000,
			"SCRIPT_EVENT": 0x4000,
		},
	}

	matches := info.FindSymbolsBySubstring("script")
	if len(matches) != 3 {
		t.Errorf("expected 3 matches, got %d: %v", len(matches), matches)
	}
}

func TestSegmentFlags(t *testing.T) {
	seg := Segment{Flags: elf.PF_R | elf.PF_X}
	if !seg.IsReadable() {
		t.Error("expected readable")
	}
	if !seg.IsExecutable() {
		t.Error("expected executable")
	}
	if seg.IsWritable() {
		t.Error("expected not writable")
	}
}
