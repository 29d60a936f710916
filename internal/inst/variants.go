package inst

// Op names the instruction variant. The spec calls for a tagged union in
// place of the class hierarchy a generic decoder might reach for; Op is the
// tag, and Instruction carries only the fields that variant actually uses.
type Op int

const (
	OpMovRmReg Op = iota
	OpMovRegRm
	OpMovRegImm
	OpMovRmImm
	OpAddRmReg
	OpAddRegRm
	OpAddRmImm
	OpSubRmReg
	OpSubRegRm
	OpSubRmImm
	OpAdcRmReg
	OpSbbRmReg
	OpAndRmReg
	OpOrRmReg
	OpXorRmReg
	OpCmpRmReg
	OpCmpRmImm
	OpTestRmReg
	OpIncRm
	OpDecRm
	OpPushReg
	OpPopReg
	OpPushImm
	OpPushRm
	OpPopRm
	OpPushf
	OpPopf
	OpJmpShort
	OpJmpNear
	OpJmpFar
	OpJcc
	OpCallNear
	OpCallFar
	OpRetNear
	OpRetFar
	OpIret
	OpLoop
	OpLoope
	OpLoopne
	OpJcxz
	OpMovs
	OpCmps
	OpScas
	OpLods
	OpStos
	OpIns
	OpOuts
	OpHlt
	OpIn
	OpOut
	OpInt
	OpCallback
	OpShiftRm
	OpMulRm
	OpImulRm
	OpDivRm
	OpIdivRm
	OpNop
	OpCld
	OpStd
	OpCli
	OpSti
	OpClc
	OpStc
)

// Width is the operand width in bits: 8, 16, or 32.
type Width int

// Cond enumerates the condition codes usable by Jcc/LOOPcc.
type Cond int

const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

// ShiftKind tags which rotate/shift operation OpShiftRm performs.
type ShiftKind int

const (
	ShiftShl ShiftKind = iota
	ShiftShr
	ShiftSar
	ShiftRol
	ShiftRor
	ShiftRcl
	ShiftRcr
)

// Instruction is the decoded, tagged representation of one CFG node. Only
// the fields relevant to Op are populated; callers switch on Op before
// reading operand-specific fields.
type Instruction struct {
	Op       Op
	Address  Addr
	Length   uint8
	Prefixes Prefixes
	Width    Width

	// Successor map, keyed by the (seg,off) the executor computed after
	// running this instruction. The CFG builder is responsible for
	// populating it; the executor only reads it.
	SuccessorsPerAddress map[Addr]NodeRef
	NextInMemoryAddress  Addr

	// Guard is the self-modifying-code discriminator for this node's own
	// bytes: a cache of a previously-decoded Instruction is only safe to
	// reuse while Guard.Resolve still matches what currently sits at
	// Address in memory (spec §4.E). Nil means no cache owner checks it
	// (e.g. instructions built directly in tests).
	Guard *DiscriminatedNode

	ModRm *ModRmContext

	Reg int // register operand index, when the variant addresses one directly

	Imm  InstructionField[uint32]
	Imm8 InstructionField[uint8]

	// RelOffset carries a near/short jump or call displacement.
	RelOffset InstructionField[int32]

	// FarTarget carries a far jump/call's absolute (seg,off).
	FarTarget Addr

	Cond  Cond
	Shift ShiftKind

	// Port carries an IN/OUT literal or DX-indirect marker (PortFromDX).
	Port     InstructionField[uint16]
	PortFromDX bool

	// IntVector carries INT N's vector number.
	IntVector uint8

	// CallbackID carries the reserved 0xFE,NN callback opcode's id.
	CallbackID uint8

	// RetImm16 carries RET/RETF's stack-adjustment immediate, if any.
	RetImm16 uint16
}

// DefaultSegment returns the segment register index that applies to a
// memory ModRm when no explicit override prefix is present (spec §4.D):
// SS for BP-based 16-bit modes and ESP/EBP-based 32-bit modes, DS otherwise.
// mode distinguishes rm==6's two 16-bit meanings: under mode 1/2 it is
// BP(+disp) (SS-default), but under mode 0 it is the OFFSET16 direct-address
// form with no base register at all, which defaults to DS like any other
// displacement-only operand.
func DefaultSegment(mode, rm int, addressSize32 bool, sib *SibContext) int {
	const (
		regBX = 3
		regBP = 5
		regSP = 4
	)
	if !addressSize32 {
		// 16-bit modes: BP, BP+SI, BP+DI default to SS.
		switch rm {
		case 2, 3: // BP+SI, BP+DI
			return 2 // SegSS
		case 6:
			if mode == 0 {
				return 3 // SegDS: OFFSET16 direct-address form, no base reg
			}
			return 2 // SegSS: BP(+disp)
		default:
			return 3 // SegDS
		}
	}
	if sib != nil {
		if sib.Base == regSP || sib.Base == regBP {
			return 2
		}
		return 3
	}
	if rm == regBP {
		return 2
	}
	return 3
}
