package decoder

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/membus"
)

func load(t *testing.T, bus *membus.Bus, at inst.Addr, bytes ...byte) {
	t.Helper()
	phys := (uint32(at.Seg) << 4) + uint32(at.Off)
	for i, b := range bytes {
		bus.Write8(phys+uint32(i), b)
	}
}

func TestDecodeMovRegImm16(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0x100}
	load(t, bus, at, 0xB8, 0x34, 0x12) // MOV AX, 0x1234

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpMovRegImm || ins.Width != 16 || ins.Reg != 0 {
		t.Fatalf("unexpected decode: %+v", ins)
	}
	if ins.Imm.Value != 0x1234 {
		t.Fatalf("Imm = 0x%X, want 0x1234", ins.Imm.Value)
	}
	if ins.Length != 3 {
		t.Fatalf("Length = %d, want 3", ins.Length)
	}
}

func TestDecodeAddRmRegModeDirect(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	// 01 C8 = ADD AX, CX (mod=3, reg=CX(1), rm=AX(0))
	load(t, bus, at, 0x01, 0xC8)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpAddRmReg || ins.Width != 16 {
		t.Fatalf("unexpected op/width: %+v", ins)
	}
	if ins.ModRm == nil || ins.ModRm.RM != 0 || ins.ModRm.Mode != 3 {
		t.Fatalf("unexpected modrm: %+v", ins.ModRm)
	}
	if ins.Reg != 1 {
		t.Fatalf("Reg = %d, want 1 (CX)", ins.Reg)
	}
	if ins.Length != 2 {
		t.Fatalf("Length = %d, want 2", ins.Length)
	}
}

func TestDecodeMemoryOperandDisp8(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	// 8B 46 04 = MOV AX, [BP+4]
	load(t, bus, at, 0x8B, 0x46, 0x04)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpMovRegRm {
		t.Fatalf("unexpected op: %v", ins.Op)
	}
	if !ins.ModRm.IsMemory() {
		t.Fatal("expected a memory operand")
	}
	if ins.ModRm.Displacement.Value != 4 {
		t.Fatalf("Displacement = %d, want 4", ins.ModRm.Displacement.Value)
	}
	if ins.Length != 3 {
		t.Fatalf("Length = %d, want 3", ins.Length)
	}
}

func TestDecodeJccRel8(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0x20}
	load(t, bus, at, 0x74, 0x05) // JE +5

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpJcc || ins.Cond != inst.CondE {
		t.Fatalf("unexpected: %+v", ins)
	}
	if ins.RelOffset.Value != 5 {
		t.Fatalf("RelOffset = %d, want 5", ins.RelOffset.Value)
	}
}

func TestDecodeHlt(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	load(t, bus, at, 0xF4)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpHlt || ins.Length != 1 {
		t.Fatalf("unexpected: %+v", ins)
	}
}

func TestDecodeCallbackOpcode(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	load(t, bus, at, 0xFE, 0x07) // reserved callback dispatch, id 7

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpCallback || ins.CallbackID != 7 {
		t.Fatalf("unexpected: %+v", ins)
	}
}

// TestDecodeGuardDetectsSelfModification checks the self-modifying-code
// detection mechanism spec §4.E describes: a decoded instruction's Guard
// matches while its bytes are unchanged, and reports stale once the byte
// that produced it is overwritten.
func TestDecodeGuardDetectsSelfModification(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	load(t, bus, at, 0xF4) // HLT

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Guard == nil {
		t.Fatal("expected a non-nil Guard")
	}
	if _, ok := ins.Guard.Resolve(bus.Span); !ok {
		t.Fatal("guard should still match unchanged bytes")
	}

	bus.Write8(0, 0x90) // self-modified to NOP
	if _, ok := ins.Guard.Resolve(bus.Span); ok {
		t.Fatal("guard should report stale after the byte changed")
	}
}

func TestDecodeSegmentOverridePrefix(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	// 2E 8B 07 = CS: MOV AX, [BX]
	load(t, bus, at, 0x2E, 0x8B, 0x07)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	seg, ok := ins.Prefixes.SegmentOverride()
	if !ok || seg != 1 { // cpu.SegCS == 1
		t.Fatalf("expected CS override, got %d,%v", seg, ok)
	}
	if ins.Length != 3 {
		t.Fatalf("Length = %d, want 3", ins.Length)
	}
}

func TestDecodeUnsupportedOpcodeReturnsTypedError(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	load(t, bus, at, 0x0F) // two-byte escape, not in the decoded subset

	_, err := Decode(bus, at)
	if err == nil {
		t.Fatal("expected an error for an unsupported opcode")
	}
	if _, ok := err.(*UnsupportedOpcodeError); !ok {
		t.Fatalf("got %T, want *UnsupportedOpcodeError", err)
	}
}

func TestDecodeGrp1AddRmImm8(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	// 83 C0 05 = ADD AX, 5 (Grp1 /0, sign-extended imm8)
	load(t, bus, at, 0x83, 0xC0, 0x05)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpAddRmImm || ins.Imm.Value != 5 {
		t.Fatalf("unexpected: %+v", ins)
	}
}

func TestDecodeShiftByImm8(t *testing.T) {
	bus := membus.New(0)
	at := inst.Addr{Seg: 0, Off: 0}
	// C1 E0 02 = SHL AX, 2 (Grp2 /4)
	load(t, bus, at, 0xC1, 0xE0, 0x02)

	ins, err := Decode(bus, at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != inst.OpShiftRm || ins.Shift != inst.ShiftShl || ins.Imm8.Value != 2 {
		t.Fatalf("unexpected: %+v", ins)
	}
}
