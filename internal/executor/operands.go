package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/membus"
)

// effectivePhysAddr resolves ins.ModRm's memory operand to a physical
// address, raising a GeneralProtectionFault (spec §7) on a 32-bit effective
// address that overflows the 16-bit offset used for real-mode segment math.
func (h *Helper) effectivePhysAddr(ins *inst.Instruction) (uint32, error) {
	segIdx, off := inst.EffectiveAddress(ins.ModRm, h.CPU, ins.Prefixes)
	seg := h.CPU.Seg(segIdx)
	phys, err := membus.EffectiveAddress32(seg, off)
	if err != nil {
		h.raiseFault(gpFaultVector)
		return 0, err
	}
	return phys, nil
}

// readRm reads ins.ModRm's operand, dispatching to a register or to memory.
func (h *Helper) readRm(ins *inst.Instruction) (uint32, error) {
	ctx := ins.ModRm
	if ctx == nil {
		return 0, &InvalidEncodingError{Op: ins.Op, Why: "missing ModRm"}
	}
	if !ctx.IsMemory() {
		return h.readRegN(ctx.RM, ins.Width), nil
	}
	phys, err := h.effectivePhysAddr(ins)
	if err != nil {
		return 0, err
	}
	if h.Break != nil {
		h.Break.MonitorReadAccess(phys)
	}
	return h.busRead(phys, ins.Width), nil
}

// writeRm writes v to ins.ModRm's operand.
func (h *Helper) writeRm(ins *inst.Instruction, v uint32) error {
	ctx := ins.ModRm
	if ctx == nil {
		return &InvalidEncodingError{Op: ins.Op, Why: "missing ModRm"}
	}
	if !ctx.IsMemory() {
		h.writeRegN(ctx.RM, ins.Width, v)
		return nil
	}
	phys, err := h.effectivePhysAddr(ins)
	if err != nil {
		return err
	}
	if h.Break != nil {
		h.Break.MonitorWriteAccess(phys)
	}
	h.busWrite(phys, ins.Width, v)
	return nil
}

func (h *Helper) busRead(addr uint32, width inst.Width) uint32 {
	switch width {
	case 8:
		return uint32(h.Bus.Read8(addr))
	case 16:
		return uint32(h.Bus.Read16(addr))
	default:
		return h.Bus.Read32(addr)
	}
}

func (h *Helper) busWrite(addr uint32, width inst.Width, v uint32) {
	switch width {
	case 8:
		h.Bus.Write8(addr, byte(v))
	case 16:
		h.Bus.Write16(addr, uint16(v))
	default:
		h.Bus.Write32(addr, v)
	}
}

// readRegN/writeRegN address a general register by its canonical 0-7 index
// (identical to the ModRm reg-field encoding at every width).
func (h *Helper) readRegN(idx int, width inst.Width) uint32 {
	switch width {
	case 8:
		return uint32(h.CPU.Reg8(byte(idx)))
	case 16:
		return uint32(h.CPU.Word(idx))
	default:
		return h.CPU.Dword(idx)
	}
}

func (h *Helper) writeRegN(idx int, width inst.Width, v uint32) {
	switch width {
	case 8:
		h.CPU.SetReg8(byte(idx), byte(v))
	case 16:
		h.CPU.SetWord(idx, uint16(v))
	default:
		h.CPU.SetDword(idx, v)
	}
}

func (h *Helper) pushWidth(width inst.Width, v uint32) {
	if width == 32 {
		cpu.Push32(h.CPU, h.Bus, v)
		return
	}
	cpu.Push16(h.CPU, h.Bus, uint16(v))
}

func (h *Helper) popWidth(width inst.Width) uint32 {
	if width == 32 {
		return cpu.Pop32(h.CPU, h.Bus)
	}
	return uint32(cpu.Pop16(h.CPU, h.Bus))
}
