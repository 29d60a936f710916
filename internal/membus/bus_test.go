package membus

import "testing"

func TestDefaultSizeFloor(t *testing.T) {
	b := New(16)
	if b.Size() != DefaultSize {
		t.Fatalf("Size() = %d, want floor of %d", b.Size(), DefaultSize)
	}
}

func TestTypedAccessorsRoundTrip(t *testing.T) {
	b := New(0)
	b.Write8(0x1000, 0xAB)
	if got := b.Read8(0x1000); got != 0xAB {
		t.Errorf("Read8 = 0x%02X, want 0xAB", got)
	}

	b.Write16(0x2000, 0xBEEF)
	if got := b.Read16(0x2000); got != 0xBEEF {
		t.Errorf("Read16 = 0x%04X, want 0xBEEF", got)
	}

	b.Write32(0x3000, 0xDEADBEEF)
	if got := b.Read32(0x3000); got != 0xDEADBEEF {
		t.Errorf("Read32 = 0x%08X, want 0xDEADBEEF", got)
	}
}

func TestLittleEndianByteOrder(t *testing.T) {
	b := New(0)
	b.Write16(0, 0x1234)
	if b.Read8(0) != 0x34 || b.Read8(1) != 0x12 {
		t.Fatalf("Write16 did not store little-endian: [%02X %02X]", b.Read8(0), b.Read8(1))
	}
}

func TestSpanShortensAtMemoryEnd(t *testing.T) {
	b := New(16)
	span := b.Span(uint32(b.Size()-2), 10)
	if len(span) != 2 {
		t.Fatalf("Span length = %d, want 2 (clamped to end of memory)", len(span))
	}
}

func TestGetZeroTerminatedString(t *testing.T) {
	b := New(0)
	msg := "hello"
	for i, c := range []byte(msg) {
		b.Write8(uint32(0x500+i), c)
	}
	b.Write8(uint32(0x500+len(msg)), 0)
	got := b.GetZeroTerminatedString(0x500, 64)
	if got != msg {
		t.Fatalf("GetZeroTerminatedString = %q, want %q", got, msg)
	}
}

func TestGetZeroTerminatedStringStopsAtMax(t *testing.T) {
	b := New(0)
	for i := 0; i < 10; i++ {
		b.Write8(uint32(0x600+i), 'x')
	}
	got := b.GetZeroTerminatedString(0x600, 4)
	if got != "xxxx" {
		t.Fatalf("GetZeroTerminatedString = %q, want \"xxxx\"", got)
	}
}

// TestSegmentedAddressRoundTrip checks universal property 6 from spec §8:
// SegmentedAddress[addr] = (cs,ip) then read back equals the assigned pair.
func TestSegmentedAddressRoundTrip(t *testing.T) {
	b := New(0)
	b.WriteSegmentedAddress(0x0100, 0x07C0, 0x0050)
	seg, off := b.ReadSegmentedAddress(0x0100)
	if seg != 0x07C0 || off != 0x0050 {
		t.Fatalf("ReadSegmentedAddress = (0x%04X,0x%04X), want (0x07C0,0x0050)", seg, off)
	}
}

func TestWatchpointFiresOnAccess(t *testing.T) {
	b := New(0)
	var gotAddr uint32
	var gotWrite bool
	b.WatchAddr(0x4000, func(addr uint32, width int, write bool, value uint64) {
		gotAddr = addr
		gotWrite = write
	})
	b.Write8(0x4000, 1)
	if gotAddr != 0x4000 || !gotWrite {
		t.Fatal("watchpoint did not fire on write")
	}
	b.Read8(0x4000)
	if gotWrite {
		t.Fatal("watchpoint should report write=false on read")
	}
}

func TestEffectiveAddress32WrapFaults(t *testing.T) {
	if _, err := EffectiveAddress32(0x1000, 0x10000); err == nil {
		t.Fatal("expected GeneralProtectionFault on effective-address wrap")
	}
	addr, err := EffectiveAddress32(0x1000, 0x0050)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 0x10050 {
		t.Fatalf("EffectiveAddress32 = 0x%X, want 0x10050", addr)
	}
}
