package executor

import "github.com/kestrelvm/x86core/internal/cpu"

// softwareInterrupt implements INT N (and the fault-to-INT conversion for
// DivideByZero/GeneralProtectionFault, spec §7): push FLAGS, clear IF and
// TF, push CS, push IP, then jump through the real-mode interrupt vector
// table entry at physical address vector*4 (IP word, then CS word).
func (h *Helper) softwareInterrupt(vector uint8) {
	cpu.Push16(h.CPU, h.Bus, uint16(h.CPU.PushFlagsValue()))
	h.CPU.SetFlag(cpu.FlagIF, false)
	h.CPU.SetFlag(cpu.FlagTF, false)
	cpu.Push16(h.CPU, h.Bus, h.CPU.Seg(cpu.SegCS))
	cpu.Push16(h.CPU, h.Bus, h.CPU.IP)

	vecAddr := uint32(vector) * 4
	newIP := h.Bus.Read16(vecAddr)
	newCS := h.Bus.Read16(vecAddr + 2)
	h.CPU.SetSeg(cpu.SegCS, newCS)
	h.CPU.IP = newIP

	h.inService = append(h.inService, vector)
}
