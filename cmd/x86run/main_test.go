package main

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/membus"
)

func newTestRunner(bus *membus.Bus) *runner {
	return &runner{
		bus:   bus,
		cache: make(map[inst.Addr]*inst.Instruction),
	}
}

// TestFetchRedecodesAfterSelfModification checks that the CFG cache
// (spec §4.F) does not replay a stale decode once guest code overwrites
// the bytes an already-decoded instruction came from (spec §4.E).
func TestFetchRedecodesAfterSelfModification(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	bus.Write8(0, 0xF4) // HLT

	r := newTestRunner(bus)
	first, err := r.fetch(at)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if first.Op != inst.OpHlt {
		t.Fatalf("first decode op = %v, want OpHlt", first.Op)
	}

	bus.Write8(0, 0x90) // self-modified to NOP
	second, err := r.fetch(at)
	if err != nil {
		t.Fatalf("fetch after self-modification: %v", err)
	}
	if second.Op != inst.OpNop {
		t.Fatalf("second decode op = %v, want OpNop after self-modification", second.Op)
	}
}

// TestFetchReusesCacheWhenBytesUnchanged checks the common, non-adversarial
// path: an unmodified instruction is decoded exactly once and reused.
func TestFetchReusesCacheWhenBytesUnchanged(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	bus.Write8(0, 0xF4) // HLT

	r := newTestRunner(bus)
	first, err := r.fetch(at)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := r.fetch(at)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached *inst.Instruction to be reused when bytes are unchanged")
	}
}
