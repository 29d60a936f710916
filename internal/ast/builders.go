package ast

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// NewConstant builds a constant node. Signed values must already be passed
// as the unsigned bit-pattern of the same width (spec §4.G): conversion
// between signed/unsigned of one width is a value no-op that only changes
// the type tag.
func NewConstant(t DataType, v uint64) *ConstantNode {
	return &ConstantNode{Type: t, Value: v}
}

// ConvertType reinterprets a constant's type tag. Same-width conversions
// leave Value untouched; cross-width conversions mask (widening unsigned),
// sign-extend (widening signed), or truncate (narrowing).
func ConvertType(c *ConstantNode, to DataType) *ConstantNode {
	v := c.Value
	if to.BitWidth < c.Type.BitWidth {
		mask := uint64(1)<<uint(to.BitWidth) - 1
		v &= mask
	} else if to.BitWidth > c.Type.BitWidth && c.Type.Signed {
		signBit := uint64(1) << uint(c.Type.BitWidth-1)
		if v&signBit != 0 {
			extendMask := ^uint64(0) << uint(c.Type.BitWidth)
			v |= extendMask
		}
		if to.BitWidth < 64 {
			v &= uint64(1)<<uint(to.BitWidth) - 1
		}
	}
	return &ConstantNode{Type: to, Value: v}
}

// FieldToNode lowers a decoded InstructionField to a node. When the field
// still carries its decoded value it becomes a constant; otherwise it
// becomes an AbsolutePointerNode back at the field's physical address,
// expressing that the operand lives in memory and may be self-modified
// (spec §4.G). When nullIfZero is true and the resulting constant is zero,
// FieldToNode returns nil so an enclosing addition can absorb it away.
func FieldToNode[T ~uint8 | ~uint16 | ~uint32 | ~int8 | ~int16 | ~int32](
	f inst.InstructionField[T], t DataType, nullIfZero bool,
) Node {
	if f.UseValue {
		v := uint64(f.Value)
		if nullIfZero && v == 0 {
			return nil
		}
		return NewConstant(t, v)
	}
	return &AbsolutePointerNode{
		Type: t,
		Addr: NewConstant(U32, uint64(f.PhysAddr)),
	}
}

// addAbsorbingNil builds lhs+rhs, absorbing a nil side so callers never
// have to special-case "no displacement" or "no index" themselves.
func addAbsorbingNil(t DataType, lhs, rhs Node) Node {
	switch {
	case lhs == nil && rhs == nil:
		return NewConstant(t, 0)
	case lhs == nil:
		return rhs
	case rhs == nil:
		return lhs
	default:
		return &BinaryOperationNode{Type: t, LHS: lhs, Op: OpPlus, RHS: rhs}
	}
}

// RmToNode lowers a decoded ModRm to a node: a register when it resolves to
// one, else a segmented pointer whose offset is a reduced addition tree
// over base/index/scale/displacement (spec §4.G).
func RmToNode(t DataType, ctx *inst.ModRmContext, defaultSeg *SegmentRegisterNode, segOverride *SegmentRegisterNode) Node {
	if !ctx.IsMemory() {
		return &RegisterNode{Type: t, Idx: ctx.RM}
	}

	var offset Node
	switch {
	case ctx.Sib != nil:
		offset = sibOffsetTree(ctx)
	case ctx.MemAddressType == inst.MemDirect:
		offset = FieldToNode(ctx.ModrmOffsetField, U32, false)
	default:
		offset = rm16BaseIndexTree(ctx.RM)
	}
	var disp Node
	if ctx.Displacement.UseValue || ctx.Displacement.NumBytes > 0 {
		disp = FieldToNode(ctx.Displacement, I32, true)
	}
	if disp != nil {
		offset = addAbsorbingNil(U32, offset, disp)
	}
	if offset == nil {
		offset = NewConstant(U32, 0)
	}

	seg := segOverride
	if seg == nil {
		seg = defaultSeg
	}
	var segNode Node
	if seg != nil {
		segNode = seg
	}
	return &SegmentedPointerNode{
		Type:           t,
		Segment:        segNode,
		DefaultSegment: defaultSeg,
		Offset:         offset,
	}
}

// rm16BaseIndexTree builds the implied base(+index) register node(s) for
// the eight classic 16-bit r/m forms (rm field, mod ∈ {0,1,2}, rm≠6 when
// mod==0), mirroring internal/inst/addr.go's effectiveAddress16 table so
// the lifted operand keeps the register(s) the real address is computed
// from instead of losing them.
func rm16BaseIndexTree(rm int) Node {
	reg := func(idx int) Node { return &RegisterNode{Type: U16, Idx: idx} }
	pair := func(a, b int) Node {
		return &BinaryOperationNode{Type: U16, LHS: reg(a), Op: OpPlus, RHS: reg(b)}
	}
	switch rm & 7 {
	case 0:
		return pair(cpu.RegBX, cpu.RegSI)
	case 1:
		return pair(cpu.RegBX, cpu.RegDI)
	case 2:
		return pair(cpu.RegBP, cpu.RegSI)
	case 3:
		return pair(cpu.RegBP, cpu.RegDI)
	case 4:
		return reg(cpu.RegSI)
	case 5:
		return reg(cpu.RegDI)
	case 6:
		// mod=0,rm=6 is MemDirect and never reaches here; mod∈{1,2} means [BP+disp].
		return reg(cpu.RegBP)
	default: // 7
		return reg(cpu.RegBX)
	}
}

func sibOffsetTree(ctx *inst.ModRmContext) Node {
	sib := ctx.Sib
	var base Node
	if sib.Base < 0 {
		base = FieldToNode(sib.BaseField, U32, false)
	} else {
		base = &RegisterNode{Type: U32, Idx: sib.Base}
	}
	if sib.Index < 0 {
		return base
	}
	indexTerm := Node(&BinaryOperationNode{
		Type: U32,
		LHS:  &RegisterNode{Type: U32, Idx: sib.Index},
		Op:   OpMultiply,
		RHS:  NewConstant(U32, uint64(sib.Scale)),
	})
	return addAbsorbingNil(U32, base, indexTerm)
}

// WithIPAdvancement packages one instruction's lifted effect as
// BlockNode{statements..., MoveIpNextNode(nextOffset)} (spec §4.G).
func WithIPAdvancement(nextOffset Node, statements ...Node) *BlockNode {
	stmts := make([]Node, 0, len(statements)+1)
	stmts = append(stmts, statements...)
	stmts = append(stmts, &MoveIpNextNode{OffsetExpr: nextOffset})
	return &BlockNode{Statements: stmts}
}
