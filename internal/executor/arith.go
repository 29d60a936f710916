package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// aluOp tags which two-operand ALU routine execArith/execStringOp dispatch.
type aluOp int

const (
	addOp aluOp = iota
	subOp
	adcOp
	sbbOp
	andOp
	orOp
	xorOp
)

// applyAlu runs kind at the given width, reading a carry-in from the CPU's
// current CF for ADC/SBB.
func (h *Helper) applyAlu(kind aluOp, width inst.Width, a, b uint32) (uint32, cpu.Flags) {
	cin := h.CPU.CF()
	switch width {
	case 8:
		r, f := alu8(kind, byte(a), byte(b), cin)
		return uint32(r), f
	case 16:
		r, f := alu16(kind, uint16(a), uint16(b), cin)
		return uint32(r), f
	default:
		r, f := alu32(kind, a, b, cin)
		return r, f
	}
}

func alu8(kind aluOp, a, b byte, cin bool) (byte, cpu.Flags) {
	switch kind {
	case addOp:
		return cpu.Add8(a, b)
	case subOp:
		return cpu.Sub8(a, b)
	case adcOp:
		return cpu.Adc8(a, b, cin)
	case sbbOp:
		return cpu.Sbb8(a, b, cin)
	case andOp:
		return cpu.And8(a, b)
	case orOp:
		return cpu.Or8(a, b)
	default:
		return cpu.Xor8(a, b)
	}
}

func alu16(kind aluOp, a, b uint16, cin bool) (uint16, cpu.Flags) {
	switch kind {
	case addOp:
		return cpu.Add16(a, b)
	case subOp:
		return cpu.Sub16(a, b)
	case adcOp:
		return cpu.Adc16(a, b, cin)
	case sbbOp:
		return cpu.Sbb16(a, b, cin)
	case andOp:
		return cpu.And16(a, b)
	case orOp:
		return cpu.Or16(a, b)
	default:
		return cpu.Xor16(a, b)
	}
}

func alu32(kind aluOp, a, b uint32, cin bool) (uint32, cpu.Flags) {
	switch kind {
	case addOp:
		r32 := uint64(a) + uint64(b)
		r := uint32(r32)
		return r, cpu.Flags{
			CF: r32 > 0xFFFFFFFF,
			ZF: r == 0,
			SF: r&0x80000000 != 0,
			OF: (^(a ^ b))&(a^r)&0x80000000 != 0,
			PF: parity32(r),
			AF: (a&0x0F)+(b&0x0F) > 0x0F,
		}
	case subOp:
		r := a - b
		return r, cpu.Flags{
			CF: a < b,
			ZF: r == 0,
			SF: r&0x80000000 != 0,
			OF: (a^b)&(a^r)&0x80000000 != 0,
			PF: parity32(r),
			AF: (a & 0x0F) < (b & 0x0F),
		}
	case adcOp:
		c := uint64(0)
		if cin {
			c = 1
		}
		sum := uint64(a) + uint64(b) + c
		r := uint32(sum)
		return r, cpu.Flags{
			CF: sum > 0xFFFFFFFF,
			ZF: r == 0,
			SF: r&0x80000000 != 0,
			OF: (^(a ^ b))&(a^r)&0x80000000 != 0,
			PF: parity32(r),
		}
	case sbbOp:
		c := uint64(0)
		if cin {
			c = 1
		}
		full := uint64(a) - uint64(b) - c
		r := uint32(full)
		return r, cpu.Flags{
			CF: full > 0xFFFFFFFF,
			ZF: r == 0,
			SF: r&0x80000000 != 0,
			OF: (a^b)&(a^r)&0x80000000 != 0,
			PF: parity32(r),
		}
	case andOp:
		r := a & b
		return r, cpu.Flags{ZF: r == 0, SF: r&0x80000000 != 0, PF: parity32(r)}
	case orOp:
		r := a | b
		return r, cpu.Flags{ZF: r == 0, SF: r&0x80000000 != 0, PF: parity32(r)}
	default:
		r := a ^ b
		return r, cpu.Flags{ZF: r == 0, SF: r&0x80000000 != 0, PF: parity32(r)}
	}
}

func parity32(v uint32) bool {
	b := byte(v)
	b ^= b >> 4
	b ^= b >> 2
	b ^= b >> 1
	return b&1 == 0
}

func (h *Helper) execMov(ins *inst.Instruction) error {
	switch ins.Op {
	case inst.OpMovRmReg:
		return h.writeRm(ins, h.readRegN(ins.Reg, ins.Width))
	case inst.OpMovRegRm:
		v, err := h.readRm(ins)
		if err != nil {
			return err
		}
		h.writeRegN(ins.Reg, ins.Width, v)
		return nil
	case inst.OpMovRegImm:
		h.writeRegN(ins.Reg, ins.Width, ins.Imm.Value)
		return nil
	default: // OpMovRmImm
		return h.writeRm(ins, ins.Imm.Value)
	}
}

// rmIsDest reports whether the instruction's destination is the r/m operand
// (true) or the reg-field operand (false).
func rmIsDest(op inst.Op) bool {
	switch op {
	case inst.OpAddRegRm, inst.OpSubRegRm:
		return false
	default:
		return true
	}
}

func srcIsImm(op inst.Op) bool {
	switch op {
	case inst.OpAddRmImm, inst.OpSubRmImm, inst.OpCmpRmImm:
		return true
	default:
		return false
	}
}

func (h *Helper) execArith(ins *inst.Instruction, kind aluOp) error {
	dst, src, err := h.readArithOperands(ins)
	if err != nil {
		return err
	}
	result, flags := h.applyAlu(kind, ins.Width, dst, src)
	h.CPU.ApplyFlags(flags)
	if rmIsDest(ins.Op) {
		return h.writeRm(ins, result)
	}
	h.writeRegN(ins.Reg, ins.Width, result)
	return nil
}

func (h *Helper) readArithOperands(ins *inst.Instruction) (dst, src uint32, err error) {
	if rmIsDest(ins.Op) {
		dst, err = h.readRm(ins)
		if err != nil {
			return 0, 0, err
		}
		if srcIsImm(ins.Op) {
			src = ins.Imm.Value
		} else {
			src = h.readRegN(ins.Reg, ins.Width)
		}
		return dst, src, nil
	}
	dst = h.readRegN(ins.Reg, ins.Width)
	src, err = h.readRm(ins)
	return dst, src, err
}

// execCompare implements CMP: SUB's flags, result discarded (spec §4.C).
func (h *Helper) execCompare(ins *inst.Instruction) error {
	dst, src, err := h.readArithOperands(ins)
	if err != nil {
		return err
	}
	_, flags := h.applyAlu(subOp, ins.Width, dst, src)
	h.CPU.ApplyFlags(flags)
	return nil
}

// execTest implements TEST: AND's flags, result discarded.
func (h *Helper) execTest(ins *inst.Instruction) error {
	rm, err := h.readRm(ins)
	if err != nil {
		return err
	}
	reg := h.readRegN(ins.Reg, ins.Width)
	_, flags := h.applyAlu(andOp, ins.Width, rm, reg)
	h.CPU.ApplyFlags(flags)
	return nil
}

func (h *Helper) execIncDec(ins *inst.Instruction, inc bool) error {
	v, err := h.readRm(ins)
	if err != nil {
		return err
	}
	cf := h.CPU.CF() // INC/DEC never touch CF (spec §8 invariant 3)
	var result uint32
	var flags cpu.Flags
	switch ins.Width {
	case 8:
		var r byte
		if inc {
			r, flags = cpu.Inc8(byte(v), cf)
		} else {
			r, flags = cpu.Dec8(byte(v), cf)
		}
		result = uint32(r)
	case 16:
		var r uint16
		if inc {
			r, flags = cpu.Inc16(uint16(v), cf)
		} else {
			r, flags = cpu.Dec16(uint16(v), cf)
		}
		result = uint32(r)
	default:
		if inc {
			result, flags = cpu.Inc32(v, cf)
		} else {
			result, flags = cpu.Dec32(v, cf)
		}
	}
	h.CPU.ApplyFlags(flags)
	return h.writeRm(ins, result)
}
