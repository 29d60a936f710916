package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// evalCond evaluates a Jcc/LOOPcc condition code against the CPU's flags.
func evalCond(s *cpu.State, c inst.Cond) bool {
	switch c {
	case inst.CondO:
		return s.OF()
	case inst.CondNO:
		return !s.OF()
	case inst.CondB:
		return s.CF()
	case inst.CondAE:
		return !s.CF()
	case inst.CondE:
		return s.ZF()
	case inst.CondNE:
		return !s.ZF()
	case inst.CondBE:
		return s.CF() || s.ZF()
	case inst.CondA:
		return !s.CF() && !s.ZF()
	case inst.CondS:
		return s.SF()
	case inst.CondNS:
		return !s.SF()
	case inst.CondP:
		return s.PF()
	case inst.CondNP:
		return !s.PF()
	case inst.CondL:
		return s.SF() != s.OF()
	case inst.CondGE:
		return s.SF() == s.OF()
	case inst.CondLE:
		return s.ZF() || s.SF() != s.OF()
	default: // CondG
		return !s.ZF() && s.SF() == s.OF()
	}
}

// jumpRel resolves a short/near relative jump or a taken Jcc/LOOPcc.
func (h *Helper) jumpRel(ins *inst.Instruction) *inst.NodeRef {
	base := uint32(ins.Address.Off) + uint32(ins.Length)
	target := uint16(uint32(int32(base) + ins.RelOffset.Value))
	h.CPU.IP = target
	return h.lookupSuccessor(inst.Addr{Seg: ins.Address.Seg, Off: target}, ins)
}

func (h *Helper) jumpFar(ins *inst.Instruction) *inst.NodeRef {
	h.CPU.SetSeg(cpu.SegCS, ins.FarTarget.Seg)
	h.CPU.IP = ins.FarTarget.Off
	return h.lookupSuccessor(ins.FarTarget, ins)
}

func (h *Helper) callNear(ins *inst.Instruction) *inst.NodeRef {
	retIP := uint16(uint32(ins.Address.Off) + uint32(ins.Length))
	h.pushWidth(ins.Width, uint32(retIP))
	return h.jumpRel(ins)
}

func (h *Helper) callFar(ins *inst.Instruction) *inst.NodeRef {
	retIP := uint16(uint32(ins.Address.Off) + uint32(ins.Length))
	cpu.Push16(h.CPU, h.Bus, h.CPU.Seg(cpu.SegCS))
	cpu.Push16(h.CPU, h.Bus, retIP)
	return h.jumpFar(ins)
}

func (h *Helper) retNear(ins *inst.Instruction) *inst.NodeRef {
	ip := h.popWidth(ins.Width)
	h.adjustSP(ins.RetImm16)
	h.CPU.IP = uint16(ip)
	return h.lookupSuccessor(inst.Addr{Seg: h.CPU.Seg(cpu.SegCS), Off: h.CPU.IP}, ins)
}

// retFar always pops a 16-bit CS:IP pair; real mode has no 32-bit segment.
func (h *Helper) retFar(ins *inst.Instruction) *inst.NodeRef {
	ip := cpu.Pop16(h.CPU, h.Bus)
	cs := cpu.Pop16(h.CPU, h.Bus)
	h.adjustSP(ins.RetImm16)
	h.CPU.SetSeg(cpu.SegCS, cs)
	h.CPU.IP = ip
	return h.lookupSuccessor(inst.Addr{Seg: cs, Off: ip}, ins)
}

// iret pops IP, CS, and FLAGS in that order, restoring the interrupted
// context (spec §4.K). IF/TF are whatever the popped flags word carries.
// If the frame it unwinds belongs to a vector with a registered PIC EOI
// post-handler, that handler fires now (spec §4.K "PIC EOI (interrupt
// 0x74 etc.)").
func (h *Helper) iret(ins *inst.Instruction) *inst.NodeRef {
	ip := cpu.Pop16(h.CPU, h.Bus)
	cs := cpu.Pop16(h.CPU, h.Bus)
	flags := cpu.Pop16(h.CPU, h.Bus)
	h.CPU.SetSeg(cpu.SegCS, cs)
	h.CPU.IP = ip
	h.CPU.Flags = (h.CPU.Flags &^ 0xFFFF) | uint32(flags)

	if n := len(h.inService); n > 0 {
		vector := h.inService[n-1]
		h.inService = h.inService[:n-1]
		if h.Vectors != nil {
			h.Vectors.Fire(vector)
		}
	}
	return h.lookupSuccessor(inst.Addr{Seg: cs, Off: ip}, ins)
}

func (h *Helper) adjustSP(imm16 uint16) {
	if imm16 == 0 {
		return
	}
	h.CPU.SetWord(cpu.RegSP, h.CPU.Word(cpu.RegSP)+imm16)
}

// loop decrements CX (or ECX under the 0x67 prefix) and jumps back when the
// counter is non-zero and cond holds (LOOP always true; LOOPE/LOOPNE gate
// on ZF).
func (h *Helper) loop(ins *inst.Instruction, cond func() bool) *inst.NodeRef {
	var nonZero bool
	if ins.Prefixes.AddressSize32() {
		v := h.CPU.Dword(cpu.RegCX) - 1
		h.CPU.SetDword(cpu.RegCX, v)
		nonZero = v != 0
	} else {
		v := h.CPU.Word(cpu.RegCX) - 1
		h.CPU.SetWord(cpu.RegCX, v)
		nonZero = v != 0
	}
	if nonZero && cond() {
		return h.jumpRel(ins)
	}
	return h.advanceAndLookup(ins)
}
