package ast

import "fmt"

// regNames16 mirrors the canonical general-register order AX,CX,DX,BX,SP,BP,SI,DI.
var regNames16 = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var regNames8 = [8]string{"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH"}
var segNames = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

var opSymbols = map[Op]string{
	OpPlus: "+", OpMinus: "-", OpMultiply: "*", OpDivide: "/", OpModulo: "%",
	OpBitwiseAnd: "&", OpBitwiseOr: "|", OpBitwiseXor: "^", OpBitwiseNot: "~",
	OpLeftShift: "<<", OpRightShift: ">>", OpAssign: "=", OpEqual: "==",
	OpNotEqual: "!=", OpLess: "<", OpGreater: ">", OpLogicalAnd: "&&",
	OpLogicalOr: "||", OpLogicalNot: "!",
}

// Printer is a disassembly/debug printer implemented as a Visitor, replacing
// the teacher's several hand-written per-CPU disassembly functions with one
// mechanism that walks the lifted AST instead of re-decoding raw bytes.
type Printer struct{}

var _ Visitor[string] = Printer{}

func (Printer) VisitConstant(n *ConstantNode) string {
	return fmt.Sprintf("0x%X", n.Value)
}

func (Printer) VisitSegmentedAddressConstant(n *SegmentedAddressConstantNode) string {
	return fmt.Sprintf("%04X:%04X", n.Seg, n.Off)
}

func (Printer) VisitRegister(n *RegisterNode) string {
	idx := n.Idx & 7
	switch n.Type.BitWidth {
	case 8:
		return regNames8[idx]
	default:
		if n.Type.BitWidth == 32 {
			return "E" + regNames16[idx]
		}
		return regNames16[idx]
	}
}

func (Printer) VisitSegmentRegister(n *SegmentRegisterNode) string {
	return segNames[n.Idx&7]
}

func (Printer) VisitCpuFlag(n *CpuFlagNode) string {
	names := [...]string{"CF", "PF", "AF", "ZF", "SF", "TF", "IF", "DF", "OF"}
	if int(n.Flag) < len(names) {
		return names[n.Flag]
	}
	return "FLAG?"
}

func (p Printer) VisitAbsolutePointer(n *AbsolutePointerNode) string {
	return "[" + Accept(n.Addr, p) + "]"
}

func (p Printer) VisitSegmentedPointer(n *SegmentedPointerNode) string {
	off := Accept(n.Offset, p)
	if n.Segment == nil || n.DefaultSegment != nil && sameSegment(n.Segment, n.DefaultSegment) {
		return "[" + off + "]"
	}
	return "[" + Accept(n.Segment, p) + ":" + off + "]"
}

func sameSegment(n Node, def *SegmentRegisterNode) bool {
	s, ok := n.(*SegmentRegisterNode)
	return ok && s.Idx == def.Idx
}

func (p Printer) VisitBinaryOperation(n *BinaryOperationNode) string {
	return Accept(n.LHS, p) + opSymbols[n.Op] + Accept(n.RHS, p)
}

func (p Printer) VisitUnaryOperation(n *UnaryOperationNode) string {
	return opSymbols[n.Op] + Accept(n.Arg, p)
}

func (p Printer) VisitTypeConversion(n *TypeConversionNode) string {
	return fmt.Sprintf("(u%d)%s", n.Type.BitWidth, Accept(n.Value, p))
}

func (p Printer) VisitMethodCallValue(n *MethodCallValueNode) string {
	args := ""
	for i, a := range n.Args {
		if i > 0 {
			args += ", "
		}
		args += Accept(a, p)
	}
	return fmt.Sprintf("%s.%s(%s)", n.Receiver, n.Method, args)
}

func (p Printer) VisitVariableDeclaration(n *VariableDeclarationNode) string {
	if n.Init == nil {
		return fmt.Sprintf("var %s", n.Name)
	}
	return fmt.Sprintf("var %s = %s", n.Name, Accept(n.Init, p))
}

func (Printer) VisitVariableReference(n *VariableReferenceNode) string {
	return n.Name
}

func (p Printer) VisitBlock(n *BlockNode) string {
	out := ""
	for i, s := range n.Statements {
		if i > 0 {
			out += "; "
		}
		out += Accept(s, p)
	}
	return out
}

func (p Printer) VisitMoveIpNext(n *MoveIpNextNode) string {
	return "ip += " + Accept(n.OffsetExpr, p)
}

func (p Printer) VisitInstruction(n *InstructionNode) string {
	out := n.Op
	if n.Rep {
		out = "rep " + out
	}
	for _, a := range n.Args {
		out += " " + Accept(a, p)
	}
	return out
}
