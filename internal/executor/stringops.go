package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// execStringOp runs one MOVS/CMPS/SCAS/LODS/STOS/INS/OUTS element, or
// (under a REP/REPE/REPNE prefix) iterates it until CX exhausts or, for the
// comparison ops, until the ZF-gated termination condition fails.
func (h *Helper) execStringOp(ins *inst.Instruction) {
	rep, hasRep := ins.Prefixes.Rep()
	if !hasRep {
		h.stringStep(ins)
		return
	}
	addr32 := ins.Prefixes.AddressSize32()
	for h.counterNonZero(addr32) {
		h.stringStep(ins)
		h.decrementCounter(addr32)
		if ins.Op == inst.OpCmps || ins.Op == inst.OpScas {
			if rep.ContinueOnZF != h.CPU.ZF() {
				break
			}
		}
	}
}

func (h *Helper) counterNonZero(addr32 bool) bool {
	if addr32 {
		return h.CPU.Dword(cpu.RegCX) != 0
	}
	return h.CPU.Word(cpu.RegCX) != 0
}

func (h *Helper) decrementCounter(addr32 bool) {
	if addr32 {
		h.CPU.SetDword(cpu.RegCX, h.CPU.Dword(cpu.RegCX)-1)
		return
	}
	h.CPU.SetWord(cpu.RegCX, h.CPU.Word(cpu.RegCX)-1)
}

// dsSegment returns the segment that a string op's source pointer uses: the
// override prefix if present, else DS. ES:DI (the destination pointer for
// MOVS/STOS/SCAS/INS) is never overridable.
func dsSegment(prefixes inst.Prefixes) int {
	if seg, ok := prefixes.SegmentOverride(); ok {
		return seg
	}
	return cpu.SegDS
}

func (h *Helper) stringStep(ins *inst.Instruction) {
	width := int(ins.Width) / 8
	step := cpu.DirectionN(h.CPU.DF(), width)

	si := h.CPU.Word(cpu.RegSI)
	di := h.CPU.Word(cpu.RegDI)
	srcAddr := (uint32(h.CPU.Seg(dsSegment(ins.Prefixes))) << 4) + uint32(si)
	dstAddr := (uint32(h.CPU.Seg(cpu.SegES)) << 4) + uint32(di)

	advanceSI := func() { h.CPU.SetWord(cpu.RegSI, uint16(int32(si)+int32(step))) }
	advanceDI := func() { h.CPU.SetWord(cpu.RegDI, uint16(int32(di)+int32(step))) }

	switch ins.Op {
	case inst.OpMovs:
		h.busWrite(dstAddr, ins.Width, h.busRead(srcAddr, ins.Width))
		advanceSI()
		advanceDI()
	case inst.OpCmps:
		a := h.busRead(srcAddr, ins.Width)
		b := h.busRead(dstAddr, ins.Width)
		_, f := h.applyAlu(subOp, ins.Width, a, b)
		h.CPU.ApplyFlags(f)
		advanceSI()
		advanceDI()
	case inst.OpScas:
		a := h.readRegN(cpu.RegAX, ins.Width)
		b := h.busRead(dstAddr, ins.Width)
		_, f := h.applyAlu(subOp, ins.Width, a, b)
		h.CPU.ApplyFlags(f)
		advanceDI()
	case inst.OpLods:
		h.writeRegN(cpu.RegAX, ins.Width, h.busRead(srcAddr, ins.Width))
		advanceSI()
	case inst.OpStos:
		h.busWrite(dstAddr, ins.Width, h.readRegN(cpu.RegAX, ins.Width))
		advanceDI()
	case inst.OpIns:
		port := h.resolvePort(ins)
		v, _ := h.readPort(port, ins.Width)
		h.billIoCycles(ins.Width)
		h.busWrite(dstAddr, ins.Width, v)
		advanceDI()
	case inst.OpOuts:
		port := h.resolvePort(ins)
		h.writePort(port, ins.Width, h.busRead(srcAddr, ins.Width))
		h.billIoCycles(ins.Width)
		advanceSI()
	}
}
