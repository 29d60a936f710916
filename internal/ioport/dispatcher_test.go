package ioport

import "testing"

func TestRegisteredPortReadWrite(t *testing.T) {
	d := New()
	var written uint8
	d.Register(0x60, &Handler{
		Read8:  func(uint16) uint8 { return 0xAB },
		Write8: func(_ uint16, v uint8) { written = v },
	})

	v, err := d.Read8(0x60)
	if err != nil || v != 0xAB {
		t.Fatalf("Read8 = %v, %v; want 0xAB, nil", v, err)
	}
	if d.LastPortRead != 0x60 {
		t.Fatalf("LastPortRead = 0x%X, want 0x60", d.LastPortRead)
	}

	if err := d.Write8(0x60, 0x42); err != nil || written != 0x42 {
		t.Fatalf("Write8 failed: err=%v written=0x%X", err, written)
	}
}

// TestUnhandledPortRaisesWhenConfigured checks scenario D from spec §8:
// an unregistered port with fail_on_unhandled_port=true raises UnhandledIoPort.
func TestUnhandledPortRaisesWhenConfigured(t *testing.T) {
	d := New()
	d.Register(0x60, &Handler{Read8: func(uint16) uint8 { return 0xAB }})
	if v, err := d.Read8(0x60); err != nil || v != 0xAB {
		t.Fatalf("initial read failed: %v %v", v, err)
	}

	d.Unregister(0x60)
	d.FailOnUnhandledPort = true
	if _, err := d.Read8(0x60); err == nil {
		t.Fatal("expected UnhandledIoPort error after unregistering with FailOnUnhandledPort set")
	}
}

func TestUnhandledPortDefaultsToFF(t *testing.T) {
	d := New()
	v, err := d.Read8(0x99)
	if err != nil {
		t.Fatalf("unexpected error with FailOnUnhandledPort=false: %v", err)
	}
	if v != 0xFF {
		t.Fatalf("unhandled read = 0x%02X, want 0xFF", v)
	}
}

// TestRead16DecomposesIntoTwoByteReads checks universal property 9 from
// spec §8: a 16-bit read at port p decomposes into reads of p and p+1, in
// that order, both observed by the last-read tracker.
func TestRead16DecomposesIntoTwoByteReads(t *testing.T) {
	d := New()
	var seen []uint16
	mk := func(val uint8) *Handler {
		return &Handler{Read8: func(port uint16) uint8 {
			seen = append(seen, port)
			return val
		}}
	}
	d.Register(0x70, mk(0x34))
	d.Register(0x71, mk(0x12))

	v, err := d.Read16(0x70)
	if err != nil {
		t.Fatalf("Read16 error: %v", err)
	}
	if v != 0x1234 {
		t.Fatalf("Read16 = 0x%04X, want 0x1234 (little-endian compose)", v)
	}
	if len(seen) != 2 || seen[0] != 0x70 || seen[1] != 0x71 {
		t.Fatalf("byte read order = %v, want [0x70 0x71]", seen)
	}
}

func TestBreakpointNeverSuppressesAccess(t *testing.T) {
	d := New()
	fired := false
	d.Register(0x80, &Handler{Read8: func(uint16) uint8 { return 7 }})
	d.BreakOnRead(0x80, func(port uint16, write bool, value uint32) { fired = true })

	v, err := d.Read8(0x80)
	if err != nil || v != 7 {
		t.Fatalf("breakpoint suppressed the access: v=%v err=%v", v, err)
	}
	if !fired {
		t.Fatal("breakpoint callback did not fire")
	}
}

func TestRegisterDelegateOverRange(t *testing.T) {
	d := New()
	RegisterDelegate(d, 0x300, 0x303,
		func(port uint16) uint8 { return uint8(port - 0x300) },
		nil,
	)
	for p := uint16(0x300); p <= 0x303; p++ {
		v, err := d.Read8(p)
		if err != nil {
			t.Fatalf("Read8(0x%X) error: %v", p, err)
		}
		if v != uint8(p-0x300) {
			t.Fatalf("Read8(0x%X) = %d, want %d", p, v, p-0x300)
		}
	}
}
