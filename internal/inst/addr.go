package inst

import "github.com/kestrelvm/x86core/internal/cpu"

// EffectiveAddress computes the (segment, offset) pair a ModRm memory
// operand resolves to, choosing the 16- or 32-bit addressing family per
// ctx.AddressSize32 (spec §4.D). The returned segment is the override from
// prefixes when present, else the mode's default segment.
func EffectiveAddress(ctx *ModRmContext, regs *cpu.State, prefixes Prefixes) (segIdx int, offset uint32) {
	segIdx = ctx.SegIdx
	if override, ok := prefixes.SegmentOverride(); ok {
		segIdx = override
	}
	if ctx.AddressSize32 {
		return segIdx, effectiveAddress32(ctx, regs)
	}
	return segIdx, uint32(effectiveAddress16(ctx, regs))
}

// effectiveAddress16 implements the eight classic 16-bit r/m addressing
// forms (spec §4.D): {BX+SI, BX+DI, BP+SI, BP+DI, SI, DI, OFFSET16, BX} for
// mod ∈ {0,1,2}, with displacement widths {0, sbyte, sword}.
func effectiveAddress16(ctx *ModRmContext, regs *cpu.State) uint16 {
	var base uint16
	switch ctx.RM {
	case 0:
		base = regs.Word(cpu.RegBX) + regs.Word(cpu.RegSI)
	case 1:
		base = regs.Word(cpu.RegBX) + regs.Word(cpu.RegDI)
	case 2:
		base = regs.Word(cpu.RegBP) + regs.Word(cpu.RegSI)
	case 3:
		base = regs.Word(cpu.RegBP) + regs.Word(cpu.RegDI)
	case 4:
		base = regs.Word(cpu.RegSI)
	case 5:
		base = regs.Word(cpu.RegDI)
	case 6:
		if ctx.Mode == 0 {
			// mod=0,rm=6 is the OFFSET16 direct-address form, no base reg.
			base = 0
		} else {
			base = regs.Word(cpu.RegBP)
		}
	case 7:
		base = regs.Word(cpu.RegBX)
	}
	if ctx.Mode == 0 && ctx.RM == 6 {
		return uint16(ctx.ModrmOffsetField.Value)
	}
	return base + uint16(ctx.Displacement.Value)
}

// effectiveAddress32 implements EAX..EDI direct, OFFSET32 direct-address,
// and SIB-encoded base+scale*index addressing.
func effectiveAddress32(ctx *ModRmContext, regs *cpu.State) uint32 {
	if ctx.Mode == 0 && ctx.RM == 5 {
		// mod=0,rm=5 is the OFFSET32 direct-address form.
		return ctx.ModrmOffsetField.Value
	}
	if ctx.Sib != nil {
		return sibAddress(ctx, regs) + uint32(ctx.Displacement.Value)
	}
	return regs.Dword(ctx.RM) + uint32(ctx.Displacement.Value)
}

func sibAddress(ctx *ModRmContext, regs *cpu.State) uint32 {
	sib := ctx.Sib
	var base uint32
	if sib.Base < 0 {
		base = sib.BaseField.Value
	} else {
		base = regs.Dword(sib.Base)
	}
	if sib.Index < 0 {
		return base
	}
	return base + regs.Dword(sib.Index)*uint32(sib.Scale)
}
