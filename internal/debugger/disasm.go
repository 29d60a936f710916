package debugger

import (
	"fmt"
	"strings"

	"github.com/kestrelvm/x86core/internal/ast"
	"github.com/kestrelvm/x86core/internal/inst"
)

var condMnemonic = [16]string{
	"jo", "jno", "jb", "jae", "je", "jne", "jbe", "ja",
	"js", "jns", "jp", "jnp", "jl", "jge", "jle", "jg",
}

var shiftMnemonic = [7]string{"shl", "shr", "sar", "rol", "ror", "rcl", "rcr"}

func widthType(w inst.Width) ast.DataType {
	switch w {
	case 8:
		return ast.U8
	case 32:
		return ast.U32
	default:
		return ast.U16
	}
}

// Disassemble renders one decoded instruction as a single assembly-style
// line, generalizing the teacher's several hand-written per-CPU disasm
// printers into one mechanism: operands are lowered to the lifted AST via
// the same builders the executor's addressing code uses, then rendered
// through ast.Printer instead of a second, parallel string-formatting pass.
func Disassemble(ins *inst.Instruction) string {
	mnemonic, operands := decode(ins)
	if len(operands) == 0 {
		return mnemonic
	}
	return mnemonic + " " + strings.Join(operands, ", ")
}

func decode(ins *inst.Instruction) (string, []string) {
	p := ast.Printer{}
	t := widthType(ins.Width)

	reg := func() string { return ast.Accept(&ast.RegisterNode{Type: t, Idx: ins.Reg}, p) }
	rm := func() string { return ast.Accept(rmNode(ins, t), p) }
	imm := func() string { return fmt.Sprintf("0x%X", ins.Imm.Value) }

	switch ins.Op {
	case inst.OpMovRmReg:
		return "mov", []string{rm(), reg()}
	case inst.OpMovRegRm:
		return "mov", []string{reg(), rm()}
	case inst.OpMovRegImm:
		return "mov", []string{reg(), imm()}
	case inst.OpMovRmImm:
		return "mov", []string{rm(), imm()}
	case inst.OpAddRmReg:
		return "add", []string{rm(), reg()}
	case inst.OpAddRegRm:
		return "add", []string{reg(), rm()}
	case inst.OpAddRmImm:
		return "add", []string{rm(), imm()}
	case inst.OpSubRmReg:
		return "sub", []string{rm(), reg()}
	case inst.OpSubRegRm:
		return "sub", []string{reg(), rm()}
	case inst.OpSubRmImm:
		return "sub", []string{rm(), imm()}
	case inst.OpAdcRmReg:
		return "adc", []string{rm(), reg()}
	case inst.OpSbbRmReg:
		return "sbb", []string{rm(), reg()}
	case inst.OpAndRmReg:
		return "and", []string{rm(), reg()}
	case inst.OpOrRmReg:
		return "or", []string{rm(), reg()}
	case inst.OpXorRmReg:
		return "xor", []string{rm(), reg()}
	case inst.OpCmpRmReg:
		return "cmp", []string{rm(), reg()}
	case inst.OpCmpRmImm:
		return "cmp", []string{rm(), imm()}
	case inst.OpTestRmReg:
		return "test", []string{rm(), reg()}
	case inst.OpIncRm:
		return "inc", []string{rm()}
	case inst.OpDecRm:
		return "dec", []string{rm()}
	case inst.OpPushReg:
		return "push", []string{reg()}
	case inst.OpPopReg:
		return "pop", []string{reg()}
	case inst.OpPushImm:
		return "push", []string{imm()}
	case inst.OpPushRm:
		return "push", []string{rm()}
	case inst.OpPopRm:
		return "pop", []string{rm()}
	case inst.OpPushf:
		return "pushf", nil
	case inst.OpPopf:
		return "popf", nil
	case inst.OpJmpShort, inst.OpJmpNear:
		return "jmp", []string{relTarget(ins)}
	case inst.OpJmpFar:
		return "jmp", []string{farTarget(ins)}
	case inst.OpJcc:
		return condMnemonic[ins.Cond&15], []string{relTarget(ins)}
	case inst.OpCallNear:
		return "call", []string{relTarget(ins)}
	case inst.OpCallFar:
		return "call", []string{farTarget(ins)}
	case inst.OpRetNear:
		if ins.RetImm16 != 0 {
			return "ret", []string{fmt.Sprintf("0x%X", ins.RetImm16)}
		}
		return "ret", nil
	case inst.OpRetFar:
		if ins.RetImm16 != 0 {
			return "retf", []string{fmt.Sprintf("0x%X", ins.RetImm16)}
		}
		return "retf", nil
	case inst.OpIret:
		return "iret", nil
	case inst.OpLoop:
		return "loop", []string{relTarget(ins)}
	case inst.OpLoope:
		return "loope", []string{relTarget(ins)}
	case inst.OpLoopne:
		return "loopne", []string{relTarget(ins)}
	case inst.OpJcxz:
		return "jcxz", []string{relTarget(ins)}
	case inst.OpMovs:
		return repPrefix(ins) + "movs", nil
	case inst.OpCmps:
		return repPrefix(ins) + "cmps", nil
	case inst.OpScas:
		return repPrefix(ins) + "scas", nil
	case inst.OpLods:
		return repPrefix(ins) + "lods", nil
	case inst.OpStos:
		return repPrefix(ins) + "stos", nil
	case inst.OpIns:
		return repPrefix(ins) + "ins", nil
	case inst.OpOuts:
		return repPrefix(ins) + "outs", nil
	case inst.OpHlt:
		return "hlt", nil
	case inst.OpIn:
		return "in", []string{"ax", portOperand(ins)}
	case inst.OpOut:
		return "out", []string{portOperand(ins), "ax"}
	case inst.OpInt:
		return "int", []string{fmt.Sprintf("0x%X", ins.IntVector)}
	case inst.OpCallback:
		return "callback", []string{fmt.Sprintf("0x%X", ins.CallbackID)}
	case inst.OpShiftRm:
		return shiftMnemonic[ins.Shift&7], []string{rm()}
	case inst.OpMulRm:
		return "mul", []string{rm()}
	case inst.OpImulRm:
		return "imul", []string{rm()}
	case inst.OpDivRm:
		return "div", []string{rm()}
	case inst.OpIdivRm:
		return "idiv", []string{rm()}
	case inst.OpNop:
		return "nop", nil
	case inst.OpCld:
		return "cld", nil
	case inst.OpStd:
		return "std", nil
	case inst.OpCli:
		return "cli", nil
	case inst.OpSti:
		return "sti", nil
	case inst.OpClc:
		return "clc", nil
	case inst.OpStc:
		return "stc", nil
	default:
		return "???", nil
	}
}

func rmNode(ins *inst.Instruction, t ast.DataType) ast.Node {
	if ins.ModRm == nil {
		return ast.NewConstant(t, 0)
	}
	addrSize32 := ins.ModRm.AddressSize32
	var sib *inst.SibContext
	if ins.ModRm.Sib != nil {
		sib = ins.ModRm.Sib
	}
	def := &ast.SegmentRegisterNode{Idx: inst.DefaultSegment(ins.ModRm.Mode, ins.ModRm.RM, addrSize32, sib)}
	var override *ast.SegmentRegisterNode
	if segIdx, ok := ins.Prefixes.SegmentOverride(); ok {
		override = &ast.SegmentRegisterNode{Idx: segIdx}
	}
	return ast.RmToNode(t, ins.ModRm, def, override)
}

func relTarget(ins *inst.Instruction) string {
	target := int32(ins.Address.Off) + int32(ins.Length) + ins.RelOffset.Value
	return fmt.Sprintf("0x%04X", uint16(target))
}

func farTarget(ins *inst.Instruction) string {
	return fmt.Sprintf("%04X:%04X", ins.FarTarget.Seg, ins.FarTarget.Off)
}

func portOperand(ins *inst.Instruction) string {
	if ins.PortFromDX {
		return "dx"
	}
	return fmt.Sprintf("0x%X", ins.Port.Value)
}

func repPrefix(ins *inst.Instruction) string {
	if _, ok := ins.Prefixes.Rep(); ok {
		return "rep "
	}
	return ""
}
