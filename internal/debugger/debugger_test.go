package debugger

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

func TestInspectorGetSetRegister(t *testing.T) {
	c := cpu.New()
	in := NewInspector(c)

	if !in.SetRegister("ax", 0x1234) {
		t.Fatal("SetRegister(ax) should succeed")
	}
	v, ok := in.GetRegister("AX")
	if !ok || v != 0x1234 {
		t.Fatalf("GetRegister(AX) = %d,%v want 0x1234,true", v, ok)
	}
	if in.SetRegister("nope", 0) {
		t.Fatal("SetRegister of unknown register should fail")
	}
	if _, ok := in.GetRegister("nope"); ok {
		t.Fatal("GetRegister of unknown register should fail")
	}
}

func TestInspectorGetRegistersCovers16(t *testing.T) {
	c := cpu.New()
	regs := NewInspector(c).GetRegisters()
	if len(regs) != 8+6+2 {
		t.Fatalf("got %d registers, want %d", len(regs), 8+6+2)
	}
}

func TestDiagnosticCapture(t *testing.T) {
	c := cpu.New()
	c.SetSeg(cpu.SegCS, 0x1000)
	c.IP = 0x20
	d := Capture(c, nil, 0x10020, true)
	if len(d.Registers) == 0 {
		t.Fatal("expected registers in diagnostic")
	}
	if !d.HasFault || d.FaultAddr != 0x10020 {
		t.Fatalf("fault info not captured: %+v", d)
	}
	if d.String() == "" {
		t.Fatal("String() should render a non-empty report")
	}
}

func TestMonitorBreakpoint(t *testing.T) {
	c := cpu.New()
	m := NewMonitor(c)
	at := inst.Addr{Seg: 0x1000, Off: 0x20}

	if m.ShouldStop(at) {
		t.Fatal("no breakpoint set yet")
	}
	m.SetBreakpoint(at)
	if !m.HasBreakpoint(at) {
		t.Fatal("expected breakpoint to be set")
	}
	c.Running.Store(true)
	if !m.ShouldStop(at) {
		t.Fatal("expected breakpoint to trip")
	}
	if c.Running.Load() {
		t.Fatal("ShouldStop should have paused the CPU")
	}
	hits := m.DrainHits()
	if len(hits) != 1 || hits[0].Kind != "break" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestMonitorWatchpoints(t *testing.T) {
	c := cpu.New()
	m := NewMonitor(c)
	m.WatchWrite(0x500)

	c.Running.Store(true)
	m.MonitorReadAccess(0x500) // not watched for read
	if !c.Running.Load() {
		t.Fatal("unwatched read should not pause")
	}
	m.MonitorWriteAccess(0x500)
	if c.Running.Load() {
		t.Fatal("watched write should pause")
	}
	hits := m.DrainHits()
	if len(hits) != 1 || hits[0].Kind != "watch-write" || hits[0].Addr != 0x500 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestDisassembleMovRegImm(t *testing.T) {
	ins := &inst.Instruction{
		Op:    inst.OpMovRegImm,
		Width: 16,
		Reg:   cpu.RegAX,
		Imm:   inst.NewField(uint32(0x1234), 0, 2),
	}
	got := Disassemble(ins)
	if got != "mov AX, 0x1234" {
		t.Fatalf("got %q", got)
	}
}

func TestDisassembleArithRmImm(t *testing.T) {
	ins := &inst.Instruction{
		Op:    inst.OpAddRmImm,
		Width: 16,
		ModRm: &inst.ModRmContext{Mode: 3, RM: cpu.RegCX, MemAddressType: inst.MemNone},
		Imm:   inst.NewField(uint32(0x0001), 0, 2),
	}
	got := Disassemble(ins)
	if got != "add CX, 0x1" {
		t.Fatalf("got %q", got)
	}
}

func TestDisassembleHltAndNop(t *testing.T) {
	if got := Disassemble(&inst.Instruction{Op: inst.OpHlt}); got != "hlt" {
		t.Fatalf("got %q", got)
	}
	if got := Disassemble(&inst.Instruction{Op: inst.OpNop}); got != "nop" {
		t.Fatalf("got %q", got)
	}
}

func TestDisassembleJcc(t *testing.T) {
	ins := &inst.Instruction{
		Op:        inst.OpJcc,
		Cond:      inst.CondE,
		Address:   inst.Addr{Off: 0x10},
		Length:    2,
		RelOffset: inst.NewField(int32(5), 0, 1),
	}
	got := Disassemble(ins)
	if got != "je 0x0017" {
		t.Fatalf("got %q", got)
	}
}
