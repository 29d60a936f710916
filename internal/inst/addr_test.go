package inst

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/cpu"
)

func TestEffectiveAddress16BxSi(t *testing.T) {
	regs := cpu.New()
	regs.SetWord(cpu.RegBX, 0x0100)
	regs.SetWord(cpu.RegSI, 0x0010)
	ctx := &ModRmContext{Mode: 0, RM: 0, SegIdx: 3}
	seg, off := EffectiveAddress(ctx, regs, nil)
	_ = seg
	if off != 0x0110 {
		t.Fatalf("offset = 0x%04X, want 0x0110", off)
	}
}

func TestEffectiveAddress16DirectOffsetForm(t *testing.T) {
	regs := cpu.New()
	ctx := &ModRmContext{
		Mode:             0,
		RM:               6,
		SegIdx:           DefaultSegment(0, 6, false, nil),
		ModrmOffsetField: NewField[uint32](0x1234, 0, 2),
	}
	if ctx.SegIdx != 3 {
		t.Fatalf("DefaultSegment(mode=0,rm=6) = %d, want SegDS(3): the OFFSET16 direct-address form has no base register", ctx.SegIdx)
	}
	_, off := EffectiveAddress(ctx, regs, nil)
	if off != 0x1234 {
		t.Fatalf("offset = 0x%04X, want 0x1234", off)
	}
}

func TestEffectiveAddress16DefaultSegmentIsSSForBP(t *testing.T) {
	if got := DefaultSegment(1, 2, false, nil); got != 2 {
		t.Fatalf("DefaultSegment(BP+SI) = %d, want SegSS(2)", got)
	}
	if got := DefaultSegment(1, 0, false, nil); got != 3 {
		t.Fatalf("DefaultSegment(BX+SI) = %d, want SegDS(3)", got)
	}
}

func TestDefaultSegmentRm6DependsOnMode(t *testing.T) {
	if got := DefaultSegment(1, 6, false, nil); got != 2 {
		t.Fatalf("DefaultSegment(mode=1,rm=6) = %d, want SegSS(2): BP+disp8", got)
	}
	if got := DefaultSegment(2, 6, false, nil); got != 2 {
		t.Fatalf("DefaultSegment(mode=2,rm=6) = %d, want SegSS(2): BP+disp16", got)
	}
	if got := DefaultSegment(0, 6, false, nil); got != 3 {
		t.Fatalf("DefaultSegment(mode=0,rm=6) = %d, want SegDS(3): OFFSET16 direct-address form", got)
	}
}

func TestSegmentOverridePrefixWins(t *testing.T) {
	regs := cpu.New()
	ctx := &ModRmContext{Mode: 1, RM: 7, SegIdx: 3, Displacement: NewField[int32](0, 0, 1)}
	prefixes := Prefixes{{Kind: PrefixSegmentOverride, SegIdx: 0}}
	seg, _ := EffectiveAddress(ctx, regs, prefixes)
	if seg != 0 {
		t.Fatalf("segment override not honored: got %d, want SegES(0)", seg)
	}
}

func TestDiscriminatedNodeFirstMatchWins(t *testing.T) {
	n := &DiscriminatedNode{Address: Addr{Seg: 0, Off: 0x100}}
	n.AddSuccessor(Discriminator{Bytes: []byte{0x90}}, NodeRef{Off: 1})
	n.AddSuccessor(Discriminator{Bytes: []byte{0x90, 0x90}}, NodeRef{Off: 2})

	ref, ok := n.Resolve(func(addr uint32, length int) []byte {
		return []byte{0x90, 0x90}[:length]
	})
	if !ok || ref.Off != 1 {
		t.Fatalf("expected first discriminator to win, got %+v ok=%v", ref, ok)
	}
}

func TestDiscriminatedNodeStaleWhenNoMatch(t *testing.T) {
	n := &DiscriminatedNode{Address: Addr{Seg: 0, Off: 0x100}}
	n.AddSuccessor(Discriminator{Bytes: []byte{0x90}}, NodeRef{Off: 1})

	_, ok := n.Resolve(func(addr uint32, length int) []byte {
		return []byte{0xCC}
	})
	if ok {
		t.Fatal("expected stale (no match) result when bytes have changed")
	}
}
