package executor

import (
	"testing"

	"github.com/kestrelvm/x86core/internal/callback"
	"github.com/kestrelvm/x86core/internal/clock"
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/ioport"
	"github.com/kestrelvm/x86core/internal/membus"
)

func newTestHelper() *Helper {
	c := cpu.New()
	bus := membus.New(membus.DefaultSize)
	io := ioport.New()
	clk := clock.New(1000)
	clk.OnPause()
	return NewHelper(c, bus, io, clk)
}

func regImm(value uint32, reg int, width inst.Width) *inst.Instruction {
	return &inst.Instruction{
		Op:     inst.OpMovRegImm,
		Width:  width,
		Reg:    reg,
		Imm:    inst.NewField(value, 0, 2),
		Length: 3,
	}
}

// TestScenarioAMovAddHlt reproduces scenario A: MOV AX,0x1234; ADD
// AX,0x1111; HLT -> AX=0x2345, is_running=false.
func TestScenarioAMovAddHlt(t *testing.T) {
	h := newTestHelper()

	mov := regImm(0x1234, cpu.RegAX, 16)
	if _, err := h.Execute(mov); err != nil {
		t.Fatalf("mov: %v", err)
	}
	if got := h.CPU.Word(cpu.RegAX); got != 0x1234 {
		t.Fatalf("AX after mov = 0x%04X, want 0x1234", got)
	}

	add := &inst.Instruction{
		Op:     inst.OpAddRmImm,
		Width:  16,
		Length: 4,
		ModRm:  &inst.ModRmContext{Mode: 3, RM: cpu.RegAX, MemAddressType: inst.MemNone},
		Imm:    inst.NewField(uint32(0x1111), 0, 2),
	}
	if _, err := h.Execute(add); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := h.CPU.Word(cpu.RegAX); got != 0x2345 {
		t.Fatalf("AX after add = 0x%04X, want 0x2345", got)
	}

	hlt := &inst.Instruction{Op: inst.OpHlt, Length: 1}
	if _, err := h.Execute(hlt); err != nil {
		t.Fatalf("hlt: %v", err)
	}
	if h.CPU.Running.Load() {
		t.Fatal("Running should be false after HLT")
	}
	if !h.CPU.Halted {
		t.Fatal("Halted should be true after HLT")
	}
}

// TestScenarioBFarCallIret checks a far call pushes CS:IP such that a
// matching IRET (which also restores flags) round-trips CS, IP and SP.
func TestScenarioBFarCallIret(t *testing.T) {
	h := newTestHelper()
	h.CPU.SetSeg(cpu.SegCS, 0x1000)
	h.CPU.IP = 0x0000
	h.CPU.SetWord(cpu.RegSP, 0xFFFE)
	h.CPU.SetSeg(cpu.SegSS, 0x0000)
	startSP := h.CPU.Word(cpu.RegSP)
	savedFlags := h.CPU.Flags

	// PUSHF then CALLF leaves (FLAGS, CS, IP) on the stack in the same
	// order a software interrupt would, so the callee's IRET pops all
	// three and the round trip preserves CS, IP, SP and flags.
	pushf := &inst.Instruction{Op: inst.OpPushf, Length: 1}
	if _, err := h.Execute(pushf); err != nil {
		t.Fatalf("pushf: %v", err)
	}

	call := &inst.Instruction{
		Op:        inst.OpCallFar,
		Address:   inst.Addr{Seg: 0x1000, Off: 0x0001},
		Length:    5,
		FarTarget: inst.Addr{Seg: 0x2000, Off: 0x0000},
	}
	if _, err := h.Execute(call); err != nil {
		t.Fatalf("call far: %v", err)
	}
	if cs := h.CPU.Seg(cpu.SegCS); cs != 0x2000 {
		t.Fatalf("CS after far call = 0x%04X, want 0x2000", cs)
	}
	if h.CPU.IP != 0 {
		t.Fatalf("IP after far call = 0x%04X, want 0", h.CPU.IP)
	}

	iretIns := &inst.Instruction{Op: inst.OpIret, Length: 1}
	if _, err := h.Execute(iretIns); err != nil {
		t.Fatalf("iret: %v", err)
	}
	if cs := h.CPU.Seg(cpu.SegCS); cs != 0x1000 {
		t.Fatalf("CS after iret = 0x%04X, want 0x1000", cs)
	}
	if h.CPU.IP != 0x0006 {
		t.Fatalf("IP after iret = 0x%04X, want 0x0006", h.CPU.IP)
	}
	if h.CPU.Word(cpu.RegSP) != startSP {
		t.Fatalf("SP after iret = 0x%04X, want 0x%04X (round trip)", h.CPU.Word(cpu.RegSP), startSP)
	}
	if h.CPU.Flags&0xFFFF != savedFlags&0xFFFF {
		t.Fatal("flags did not round trip through iret")
	}
}

// TestScenarioCRepMovsb checks a REP MOVSB string move copies the expected
// byte count and leaves SI/DI advanced and CX zeroed.
func TestScenarioCRepMovsb(t *testing.T) {
	h := newTestHelper()
	h.CPU.SetSeg(cpu.SegDS, 0)
	h.CPU.SetSeg(cpu.SegES, 0)
	h.CPU.SetWord(cpu.RegSI, 0x1000)
	h.CPU.SetWord(cpu.RegDI, 0x2000)
	h.CPU.SetWord(cpu.RegCX, 4)
	for i := 0; i < 4; i++ {
		h.Bus.Write8(0x1000+uint32(i), byte(0xA0+i))
	}

	movs := &inst.Instruction{
		Op:       inst.OpMovs,
		Width:    8,
		Length:   1,
		Prefixes: inst.Prefixes{{Kind: inst.PrefixRep}},
	}
	if _, err := h.Execute(movs); err != nil {
		t.Fatalf("rep movsb: %v", err)
	}
	if h.CPU.Word(cpu.RegCX) != 0 {
		t.Fatalf("CX after rep movsb = %d, want 0", h.CPU.Word(cpu.RegCX))
	}
	if h.CPU.Word(cpu.RegSI) != 0x1004 || h.CPU.Word(cpu.RegDI) != 0x2004 {
		t.Fatalf("SI/DI after rep movsb = %04X/%04X, want 1004/2004", h.CPU.Word(cpu.RegSI), h.CPU.Word(cpu.RegDI))
	}
	for i := 0; i < 4; i++ {
		if got := h.Bus.Read8(0x2000 + uint32(i)); got != byte(0xA0+i) {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, got, 0xA0+i)
		}
	}
}

// TestScenarioDUnhandledPortFails checks IN from an unmapped port surfaces
// UnhandledPortError when FailOnUnhandledPort is set.
func TestScenarioDUnhandledPortFails(t *testing.T) {
	h := newTestHelper()
	h.IO.FailOnUnhandledPort = true

	in := &inst.Instruction{Op: inst.OpIn, Width: 8, Length: 2, Port: inst.NewField[uint16](0x3F8, 0, 1)}
	_, err := h.Execute(in)
	if err == nil {
		t.Fatal("expected UnhandledPortError")
	}
	if _, ok := err.(*ioport.UnhandledPortError); !ok {
		t.Fatalf("got %T, want *ioport.UnhandledPortError", err)
	}
}

// TestIretFiresPicEoiPostHandlerForServicedVector checks spec §4.K's "PIC
// EOI (interrupt 0x74 etc.)" hook point: IRET unwinding the frame INT N
// pushed fires that vector's registered post-handler exactly once, with
// the serviced vector number.
func TestIretFiresPicEoiPostHandlerForServicedVector(t *testing.T) {
	h := newTestHelper()
	h.Bus.Write16(0x74*4, 0x0050)   // IVT[0x74].offset
	h.Bus.Write16(0x74*4+2, 0x0000) // IVT[0x74].segment

	h.Vectors = callback.New()
	var acked uint8
	fired := 0
	h.Vectors.OnReturn(0x74, func(v uint8) { acked = v; fired++ })

	intIns := &inst.Instruction{Op: inst.OpInt, Length: 2, IntVector: 0x74}
	if _, err := h.Execute(intIns); err != nil {
		t.Fatalf("int 0x74: %v", err)
	}

	iretIns := &inst.Instruction{Op: inst.OpIret, Length: 1}
	if _, err := h.Execute(iretIns); err != nil {
		t.Fatalf("iret: %v", err)
	}

	if fired != 1 {
		t.Fatalf("post-handler fired %d times, want 1", fired)
	}
	if acked != 0x74 {
		t.Fatalf("post-handler saw vector 0x%02X, want 0x74", acked)
	}
}

// TestDivideByZeroRoutesToInt0 checks a DIV by zero defers to a pending
// INT 0 instead of propagating, per the spec's fault-to-interrupt policy.
func TestDivideByZeroRoutesToInt0(t *testing.T) {
	h := newTestHelper()
	h.Bus.Write16(0, 0x0050) // IVT[0].offset
	h.Bus.Write16(2, 0x0060) // IVT[0].segment
	h.CPU.SetSeg(cpu.SegCS, 0x0000)
	h.CPU.IP = 0x0010
	h.CPU.SetWord(cpu.RegSP, 0x0100)
	h.CPU.SetSeg(cpu.SegSS, 0)
	h.CPU.SetWord(cpu.RegAX, 5)
	h.CPU.SetWord(cpu.RegDX, 0)

	div := &inst.Instruction{
		Op:      inst.OpDivRm,
		Width:   16,
		Address: inst.Addr{Off: 0x0010},
		Length:  2,
		ModRm:   &inst.ModRmContext{Mode: 3, RM: cpu.RegCX, MemAddressType: inst.MemNone},
	}
	h.CPU.SetWord(cpu.RegCX, 0)

	if _, err := h.Execute(div); err != nil {
		t.Fatalf("div by zero should defer to a pending interrupt, not propagate: %v", err)
	}

	if _, err := h.Execute(div); err != nil {
		t.Fatalf("servicing pending interrupt: %v", err)
	}
	if h.CPU.Seg(cpu.SegCS) != 0x0060 || h.CPU.IP != 0x0050 {
		t.Fatalf("CS:IP after divide-by-zero int0 = %04X:%04X, want 0060:0050", h.CPU.Seg(cpu.SegCS), h.CPU.IP)
	}
}

// TestCycleLimiterIsDriven checks Execute advances CPU.Cycles and feeds
// them to the clock limiter every instruction.
func TestCycleLimiterIsDriven(t *testing.T) {
	h := newTestHelper()
	nop := &inst.Instruction{Op: inst.OpNop, Length: 1}
	before := h.CPU.Cycles
	if _, err := h.Execute(nop); err != nil {
		t.Fatalf("nop: %v", err)
	}
	if h.CPU.Cycles != before+1 {
		t.Fatalf("Cycles = %d, want %d", h.CPU.Cycles, before+1)
	}
}
