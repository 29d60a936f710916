package callback

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/inst"
)

type fakeMem struct {
	words map[uint32]uint16
}

func (m *fakeMem) Write16(addr uint32, v uint16) {
	if m.words == nil {
		m.words = make(map[uint32]uint16)
	}
	m.words[addr] = v
}

func TestInstallWritesSegOffIntoVectorTable(t *testing.T) {
	mem := &fakeMem{}
	Install(mem, map[uint8]inst.Addr{0x74: {Seg: 0xF000, Off: 0x1234}})

	if mem.words[0x74*4] != 0x1234 {
		t.Fatalf("IP word = 0x%04X, want 0x1234", mem.words[0x74*4])
	}
	if mem.words[0x74*4+2] != 0xF000 {
		t.Fatalf("CS word = 0x%04X, want 0xF000", mem.words[0x74*4+2])
	}
}

func TestFireInvokesRegisteredPostHandler(t *testing.T) {
	tbl := New()
	var got uint8
	tbl.OnReturn(0x74, func(v uint8) { got = v })

	tbl.Fire(0x74)
	if got != 0x74 {
		t.Fatalf("post-handler received vector 0x%02X, want 0x74", got)
	}
}

func TestFireIsNoOpForUnregisteredVector(t *testing.T) {
	tbl := New()
	tbl.Fire(0x21) // no panic, no handler
}
