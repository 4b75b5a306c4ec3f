package dyncall

import (
	"errors"
	"testing"

	"github.com/kestrelvm/scripthost/internal/scripterr"
)

type call func() int

func TestSetAndLookup(t *testing.T) {
	tbl := New[call]()
	invoked := false

	if err := tbl.Set("Test::void", func() int { invoked = true; return 0 }); err != nil {
		t.Fatalf("Set: %v", err)
	}

	handler, ok := tbl.Lookup(Hash("Test::void"))
	if !ok {
		t.Fatal("expected lookup to find the bound handler")
	}
	handler()
	if !invoked {
		t.Error("expected handler to run")
	}
}

func TestSetDuplicateIsHashCollision(t *testing.T) {
	tbl := New[call]()
	if err := tbl.Set("Test::void", func() int { return 0 }); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := tbl.Set("Test::void", func() int { return 1 })
	var se *scripterr.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *scripterr.ScriptError, got %T", err)
	}
	if se.Kind != scripterr.HashCollision {
		t.Errorf("expected HashCollision, got %v", se.Kind)
	}
}

func TestResetReplacesBinding(t *testing.T) {
	tbl := New[call]()
	_ = tbl.Set("Test::void", func() int { return 1 })

	tbl.Reset("Test::void", func() int { return 2 }, false)

	handler, ok := tbl.Lookup(Hash("Test::void"))
	if !ok {
		t.Fatal("expected replaced binding to be present")
	}
	if got := handler(); got != 2 {
		t.Errorf("expected replaced handler to return 2, got %d", got)
	}
}

func TestResetRemoveOnly(t *testing.T) {
	tbl := New[call]()
	_ = tbl.Set("Test::void", func() int { return 1 })

	tbl.Reset("Test::void", nil, true)

	if _, ok := tbl.Lookup(Hash("Test::void")); ok {
		t.Error("expected binding to be removed")
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d entries", tbl.Len())
	}
}

func TestLookupByName(t *testing.T) {
	tbl := New[call]()
	_ = tbl.Set("ingest", func() int { return 42 })

	handler, ok := tbl.LookupByName("ingest")
	if !ok {
		t.Fatal("expected LookupByName to find the handler")
	}
	if got := handler(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}
