package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// execShift runs ins.Shift on ins.ModRm's operand with ins.Imm8 as the
// shift count, as decoded; the ALU routines mask it. A masked count of zero leaves the
// flags untouched and skips the writeback (spec §8 invariant: "a shift by
// zero does not alter flags").
func (h *Helper) execShift(ins *inst.Instruction) error {
	v, err := h.readRm(ins)
	if err != nil {
		return err
	}
	count := ins.Imm8.Value
	cin := h.CPU.CF()

	var result uint32
	var flags cpu.Flags
	var ok bool
	switch ins.Width {
	case 8:
		var r byte
		r, flags, ok = shift8(ins.Shift, byte(v), count, cin)
		result = uint32(r)
	case 16:
		var r uint16
		r, flags, ok = shift16(ins.Shift, uint16(v), count, cin)
		result = uint32(r)
	default:
		result, flags, ok = shift32(ins.Shift, v, count, cin)
	}
	if !ok {
		return nil
	}
	h.CPU.ApplyFlags(flags)
	return h.writeRm(ins, result)
}

func shift8(kind inst.ShiftKind, v, count byte, cin bool) (byte, cpu.Flags, bool) {
	switch kind {
	case inst.ShiftShl:
		return cpu.Shl8(v, count)
	case inst.ShiftShr:
		return cpu.Shr8(v, count)
	case inst.ShiftSar:
		return cpu.Sar8(v, count)
	case inst.ShiftRol:
		return cpu.Rol8(v, count)
	case inst.ShiftRor:
		return cpu.Ror8(v, count)
	case inst.ShiftRcl:
		return cpu.Rcl8(v, count, cin)
	default:
		return cpu.Rcr8(v, count, cin)
	}
}

func shift16(kind inst.ShiftKind, v uint16, count byte, cin bool) (uint16, cpu.Flags, bool) {
	switch kind {
	case inst.ShiftShl:
		return cpu.Shl16(v, count)
	case inst.ShiftShr:
		return cpu.Shr16(v, count)
	case inst.ShiftSar:
		return cpu.Sar16(v, count)
	case inst.ShiftRol:
		return cpu.Rol16(v, count)
	case inst.ShiftRor:
		return cpu.Ror16(v, count)
	case inst.ShiftRcl:
		return cpu.Rcl16(v, count, cin)
	default:
		return cpu.Rcr16(v, count, cin)
	}
}

func shift32(kind inst.ShiftKind, v uint32, count byte, cin bool) (uint32, cpu.Flags, bool) {
	switch kind {
	case inst.ShiftShl:
		return cpu.Shl32(v, count)
	case inst.ShiftShr:
		return cpu.Shr32(v, count)
	case inst.ShiftSar:
		return cpu.Sar32(v, count)
	case inst.ShiftRol:
		return cpu.Rol32(v, count)
	case inst.ShiftRor:
		return cpu.Ror32(v, count)
	case inst.ShiftRcl:
		return cpu.Rcl32(v, count, cin)
	default:
		return cpu.Rcr32(v, count, cin)
	}
}

func (h *Helper) execMul(ins *inst.Instruction) error {
	rm, err := h.readRm(ins)
	if err != nil {
		return err
	}
	signed := ins.Op == inst.OpImulRm
	switch ins.Width {
	case 8:
		var lo, hi byte
		var f cpu.Flags
		if signed {
			lo, hi, f = cpu.Imul8(int8(h.CPU.Low8(cpu.RegAX)), int8(rm))
		} else {
			lo, hi, f = cpu.Mul8(h.CPU.Low8(cpu.RegAX), byte(rm))
		}
		h.CPU.SetLow8(cpu.RegAX, lo)
		h.CPU.SetHigh8(cpu.RegAX, hi)
		h.CPU.ApplyFlags(f)
	case 16:
		var lo, hi uint16
		var f cpu.Flags
		if signed {
			lo, hi, f = cpu.Imul16(int16(h.CPU.Word(cpu.RegAX)), int16(rm))
		} else {
			lo, hi, f = cpu.Mul16(h.CPU.Word(cpu.RegAX), uint16(rm))
		}
		h.CPU.SetWord(cpu.RegAX, lo)
		h.CPU.SetWord(cpu.RegDX, hi)
		h.CPU.ApplyFlags(f)
	default:
		var lo, hi uint32
		var f cpu.Flags
		if signed {
			lo, hi, f = cpu.Imul32(int32(h.CPU.Dword(cpu.RegAX)), int32(rm))
		} else {
			lo, hi, f = cpu.Mul32(h.CPU.Dword(cpu.RegAX), rm)
		}
		h.CPU.SetDword(cpu.RegAX, lo)
		h.CPU.SetDword(cpu.RegDX, hi)
		h.CPU.ApplyFlags(f)
	}
	return nil
}

func (h *Helper) execDiv(ins *inst.Instruction) error {
	rm, err := h.readRm(ins)
	if err != nil {
		return err
	}
	signed := ins.Op == inst.OpIdivRm
	switch ins.Width {
	case 8:
		hi, lo := h.CPU.High8(cpu.RegAX), h.CPU.Low8(cpu.RegAX)
		if signed {
			q, r, ok := cpu.Idiv8(hi, lo, int8(rm))
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetLow8(cpu.RegAX, byte(q))
			h.CPU.SetHigh8(cpu.RegAX, byte(r))
		} else {
			q, r, ok := cpu.Div8(hi, lo, byte(rm))
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetLow8(cpu.RegAX, q)
			h.CPU.SetHigh8(cpu.RegAX, r)
		}
	case 16:
		hi, lo := h.CPU.Word(cpu.RegDX), h.CPU.Word(cpu.RegAX)
		if signed {
			q, r, ok := cpu.Idiv16(hi, lo, int16(rm))
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetWord(cpu.RegAX, uint16(q))
			h.CPU.SetWord(cpu.RegDX, uint16(r))
		} else {
			q, r, ok := cpu.Div16(hi, lo, uint16(rm))
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetWord(cpu.RegAX, q)
			h.CPU.SetWord(cpu.RegDX, r)
		}
	default:
		hi, lo := h.CPU.Dword(cpu.RegDX), h.CPU.Dword(cpu.RegAX)
		if signed {
			q, r, ok := cpu.Idiv32(hi, lo, int32(rm))
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetDword(cpu.RegAX, uint32(q))
			h.CPU.SetDword(cpu.RegDX, uint32(r))
		} else {
			q, r, ok := cpu.Div32(hi, lo, rm)
			if !ok {
				return errDivideByZero
			}
			h.CPU.SetDword(cpu.RegAX, q)
			h.CPU.SetDword(cpu.RegDX, r)
		}
	}
	return nil
}
