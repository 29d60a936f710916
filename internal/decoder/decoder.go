// Package decoder turns raw bytes resident on the memory bus into
// *inst.Instruction CFG nodes. The spec leaves byte-level decoding
// unspecified beyond what the executor needs, so this package covers a
// representative subset of real-mode opcodes: every instruction the
// executor itself implements a runtime path for, decoded with 16-bit
// ModRm addressing. 32-bit operand-size (0x66) and address-size (0x67)
// prefixes are recognized but 32-bit SIB/disp32 addressing is not decoded
// from raw bytes; the underlying ModRm/SIB machinery still supports it for
// instructions built directly (as the executor's own tests do).
//
// Opcode forms that have no corresponding inst.Op (segment push/pop,
// DAA/DAS/AAA/AAS, NOT/NEG, shift-by-CL, indirect CALL/JMP, and the
// OR/ADC/SBB/AND/XOR immediate-accumulator forms the inst package never
// modeled a variant for) are reported as UnsupportedOpcodeError rather than
// silently misdecoded.
package decoder

import (
	"fmt"

	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/membus"
)

// UnsupportedOpcodeError is raised for a recognized-but-unimplemented or
// wholly unrecognized opcode byte.
type UnsupportedOpcodeError struct {
	Addr inst.Addr
	Byte byte
	Why  string
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("decoder: unsupported opcode 0x%02X at %04X:%04X (%s)", e.Byte, e.Addr.Seg, e.Addr.Off, e.Why)
}

// cursor reads sequential bytes from the bus starting at seg:off, counting
// how many it has consumed so the caller can set Instruction.Length.
type cursor struct {
	bus *membus.Bus
	seg uint16
	off uint16
	n   uint8
}

func (c *cursor) phys() uint32 { return (uint32(c.seg) << 4) + uint32(c.off) }

func (c *cursor) u8() byte {
	v := c.bus.Read8(c.phys())
	c.off++
	c.n++
	return v
}

func (c *cursor) peek() byte { return c.bus.Read8(c.phys()) }

func (c *cursor) i8() int8 { return int8(c.u8()) }

func (c *cursor) u16() uint16 {
	lo := c.u8()
	hi := c.u8()
	return uint16(lo) | uint16(hi)<<8
}

func (c *cursor) i16() int16 { return int16(c.u16()) }

func (c *cursor) u32() uint32 {
	lo := c.u16()
	hi := c.u16()
	return uint32(lo) | uint32(hi)<<16
}

// Decode reads and decodes exactly one instruction starting at at.
func Decode(bus *membus.Bus, at inst.Addr) (*inst.Instruction, error) {
	c := &cursor{bus: bus, seg: at.Seg, off: at.Off}

	var prefixes inst.Prefixes
	operand32 := false

prefixLoop:
	for {
		switch c.peek() {
		case 0x26:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegES})
			c.u8()
		case 0x2E:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegCS})
			c.u8()
		case 0x36:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegSS})
			c.u8()
		case 0x3E:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegDS})
			c.u8()
		case 0x64:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegFS})
			c.u8()
		case 0x65:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixSegmentOverride, SegIdx: cpu.SegGS})
			c.u8()
		case 0x66:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixOperandSize32})
			operand32 = true
			c.u8()
		case 0x67:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixAddressSize32})
			c.u8()
		case 0xF2:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixRep, ContinueOnZF: false})
			c.u8()
		case 0xF3:
			prefixes = append(prefixes, inst.Prefix{Kind: inst.PrefixRep, ContinueOnZF: true})
			c.u8()
		default:
			break prefixLoop
		}
	}

	op := c.u8()
	width := inst.Width(16)
	if operand32 {
		width = 32
	}

	ins := &inst.Instruction{Address: at, Prefixes: prefixes, Width: width}

	if err := decodeOne(c, ins, op); err != nil {
		return nil, err
	}
	ins.Length = c.n

	raw := bus.Span((uint32(at.Seg)<<4)+uint32(at.Off), int(ins.Length))
	ins.Guard = inst.NewSelfGuard(at, raw)

	return ins, nil
}

// arithGroup describes one of the eight "00 op-group" opcode blocks
// (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP). regRm/rmImm are zero-valued (matching
// inst.OpMovRmReg's zero ordinal, which never collides here because the
// caller only consults them when hasRegRm/hasRmImm is true) for the five
// groups the inst package never modeled a reverse-direction or immediate
// variant for.
type arithGroup struct {
	base              byte
	rmReg             inst.Op
	regRm             inst.Op
	hasRegRm          bool
	rmImm             inst.Op
	hasRmImm          bool
}

var arithGroups = []arithGroup{
	{base: 0x00, rmReg: inst.OpAddRmReg, regRm: inst.OpAddRegRm, hasRegRm: true, rmImm: inst.OpAddRmImm, hasRmImm: true},
	{base: 0x08, rmReg: inst.OpOrRmReg},
	{base: 0x10, rmReg: inst.OpAdcRmReg},
	{base: 0x18, rmReg: inst.OpSbbRmReg},
	{base: 0x20, rmReg: inst.OpAndRmReg},
	{base: 0x28, rmReg: inst.OpSubRmReg, regRm: inst.OpSubRegRm, hasRegRm: true, rmImm: inst.OpSubRmImm, hasRmImm: true},
	{base: 0x30, rmReg: inst.OpXorRmReg},
	{base: 0x38, rmReg: inst.OpCmpRmReg, rmImm: inst.OpCmpRmImm, hasRmImm: true},
}

func findArithGroup(op byte) (arithGroup, bool) {
	for _, g := range arithGroups {
		if op >= g.base && op <= g.base+5 {
			return g, true
		}
	}
	return arithGroup{}, false
}

func decodeOne(c *cursor, ins *inst.Instruction, op byte) error {
	if g, ok := findArithGroup(op); ok {
		return decodeArithGroup(c, ins, g, op-g.base)
	}

	switch {
	case op >= 0x40 && op <= 0x47: // INC reg16/32
		ins.Op = inst.OpIncRm
		ins.ModRm = regDirectModRm(int(op - 0x40))
		return nil
	case op >= 0x48 && op <= 0x4F: // DEC reg16/32
		ins.Op = inst.OpDecRm
		ins.ModRm = regDirectModRm(int(op - 0x48))
		return nil
	case op >= 0x50 && op <= 0x57: // PUSH reg
		ins.Op = inst.OpPushReg
		ins.Reg = int(op - 0x50)
		return nil
	case op >= 0x58 && op <= 0x5F: // POP reg
		ins.Op = inst.OpPopReg
		ins.Reg = int(op - 0x58)
		return nil
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		ins.Op = inst.OpJcc
		ins.Cond = inst.Cond(op - 0x70)
		rel := c.i8()
		ins.RelOffset = inst.NewField(int32(rel), c.phys()-1, 1)
		return nil
	case op >= 0xB0 && op <= 0xB7: // MOV reg8,imm8
		ins.Op = inst.OpMovRegImm
		ins.Width = 8
		ins.Reg = int(op - 0xB0)
		imm := c.u8()
		ins.Imm = inst.NewField(uint32(imm), c.phys()-1, 1)
		return nil
	case op >= 0xB8 && op <= 0xBF: // MOV reg16/32,imm
		ins.Op = inst.OpMovRegImm
		ins.Reg = int(op - 0xB8)
		ins.Imm = readImmZ(c, ins.Width)
		return nil
	case op >= 0xE0 && op <= 0xE3:
		return decodeLoop(c, ins, op)
	case op >= 0xF8 && op <= 0xFD:
		ins.Op = [...]inst.Op{inst.OpClc, inst.OpStc, inst.OpCli, inst.OpSti, inst.OpCld, inst.OpStd}[op-0xF8]
		return nil
	}

	switch op {
	case 0x84: // TEST Eb,Gb
		return decodeModRmReg(c, ins, inst.OpTestRmReg, 8)
	case 0x85: // TEST Ev,Gv
		return decodeModRmReg(c, ins, inst.OpTestRmReg, ins.Width)
	case 0x88: // MOV Eb,Gb
		return decodeModRmReg(c, ins, inst.OpMovRmReg, 8)
	case 0x89: // MOV Ev,Gv
		return decodeModRmReg(c, ins, inst.OpMovRmReg, ins.Width)
	case 0x8A: // MOV Gb,Eb
		return decodeModRmReg(c, ins, inst.OpMovRegRm, 8)
	case 0x8B: // MOV Gv,Ev
		return decodeModRmReg(c, ins, inst.OpMovRegRm, ins.Width)
	case 0x90:
		ins.Op = inst.OpNop
		return nil
	case 0x9C:
		ins.Op = inst.OpPushf
		return nil
	case 0x9D:
		ins.Op = inst.OpPopf
		return nil
	case 0xA4:
		ins.Op, ins.Width = inst.OpMovs, 8
		return nil
	case 0xA5:
		ins.Op = inst.OpMovs
		return nil
	case 0xA6:
		ins.Op, ins.Width = inst.OpCmps, 8
		return nil
	case 0xA7:
		ins.Op = inst.OpCmps
		return nil
	case 0xAA:
		ins.Op, ins.Width = inst.OpStos, 8
		return nil
	case 0xAB:
		ins.Op = inst.OpStos
		return nil
	case 0xAC:
		ins.Op, ins.Width = inst.OpLods, 8
		return nil
	case 0xAD:
		ins.Op = inst.OpLods
		return nil
	case 0xAE:
		ins.Op, ins.Width = inst.OpScas, 8
		return nil
	case 0xAF:
		ins.Op = inst.OpScas
		return nil
	case 0x6C:
		ins.Op, ins.Width = inst.OpIns, 8
		return nil
	case 0x6D:
		ins.Op = inst.OpIns
		return nil
	case 0x6E:
		ins.Op, ins.Width = inst.OpOuts, 8
		return nil
	case 0x6F:
		ins.Op = inst.OpOuts
		return nil

	case 0x68: // PUSH Iv
		ins.Op = inst.OpPushImm
		ins.Imm = readImmZ(c, ins.Width)
		return nil
	case 0x6A: // PUSH Ib (sign-extended)
		ins.Op = inst.OpPushImm
		v := int32(c.i8())
		ins.Imm = inst.NewField(uint32(v), c.phys()-1, 1)
		return nil
	case 0xFF:
		return decodeGrp5(c, ins)
	case 0x8F:
		ins.Op = inst.OpPopRm
		return decodeModRmOnly(c, ins, ins.Width)

	case 0xC0:
		return decodeShiftImm(c, ins, 8)
	case 0xC1:
		return decodeShiftImm(c, ins, ins.Width)
	case 0xD0:
		return decodeShiftOne(c, ins, 8)
	case 0xD1:
		return decodeShiftOne(c, ins, ins.Width)

	case 0xC2: // RET imm16
		ins.Op = inst.OpRetNear
		ins.RetImm16 = c.u16()
		return nil
	case 0xC3:
		ins.Op = inst.OpRetNear
		return nil
	case 0xCA:
		ins.Op = inst.OpRetFar
		ins.RetImm16 = c.u16()
		return nil
	case 0xCB:
		ins.Op = inst.OpRetFar
		return nil
	case 0xCC:
		ins.Op = inst.OpInt
		ins.IntVector = 3
		return nil
	case 0xCD:
		ins.Op = inst.OpInt
		ins.IntVector = c.u8()
		return nil
	case 0xCF:
		ins.Op = inst.OpIret
		return nil

	case 0x80:
		return decodeGrp1(c, ins, 8, false, op)
	case 0x81:
		return decodeGrp1(c, ins, ins.Width, false, op)
	case 0x83:
		return decodeGrp1(c, ins, ins.Width, true, op)

	case 0xC6:
		ins.Op = inst.OpMovRmImm
		ins.Width = 8
		if err := decodeModRmOnly(c, ins, 8); err != nil {
			return err
		}
		imm := c.u8()
		ins.Imm = inst.NewField(uint32(imm), c.phys()-1, 1)
		return nil
	case 0xC7:
		ins.Op = inst.OpMovRmImm
		if err := decodeModRmOnly(c, ins, ins.Width); err != nil {
			return err
		}
		ins.Imm = readImmZ(c, ins.Width)
		return nil

	case 0xE4:
		ins.Op, ins.Width = inst.OpIn, 8
		ins.Port = inst.NewField(uint16(c.u8()), c.phys()-1, 1)
		return nil
	case 0xE5:
		ins.Op = inst.OpIn
		ins.Port = inst.NewField(uint16(c.u8()), c.phys()-1, 1)
		return nil
	case 0xE6:
		ins.Op, ins.Width = inst.OpOut, 8
		ins.Port = inst.NewField(uint16(c.u8()), c.phys()-1, 1)
		return nil
	case 0xE7:
		ins.Op = inst.OpOut
		ins.Port = inst.NewField(uint16(c.u8()), c.phys()-1, 1)
		return nil
	case 0xEC:
		ins.Op, ins.Width, ins.PortFromDX = inst.OpIn, 8, true
		return nil
	case 0xED:
		ins.Op, ins.PortFromDX = inst.OpIn, true
		return nil
	case 0xEE:
		ins.Op, ins.Width, ins.PortFromDX = inst.OpOut, 8, true
		return nil
	case 0xEF:
		ins.Op, ins.PortFromDX = inst.OpOut, true
		return nil

	case 0xE8: // CALL rel16
		ins.Op = inst.OpCallNear
		rel := c.i16()
		ins.RelOffset = inst.NewField(int32(rel), c.phys()-2, 2)
		return nil
	case 0xE9: // JMP rel16
		ins.Op = inst.OpJmpNear
		rel := c.i16()
		ins.RelOffset = inst.NewField(int32(rel), c.phys()-2, 2)
		return nil
	case 0xEA: // JMP far ptr16:16
		ins.Op = inst.OpJmpFar
		off := c.u16()
		seg := c.u16()
		ins.FarTarget = inst.Addr{Seg: seg, Off: off}
		return nil
	case 0xEB: // JMP rel8
		ins.Op = inst.OpJmpShort
		rel := c.i8()
		ins.RelOffset = inst.NewField(int32(rel), c.phys()-1, 1)
		return nil

	case 0xF4:
		ins.Op = inst.OpHlt
		return nil

	case 0xF6:
		return decodeGrp3(c, ins, 8, op)
	case 0xF7:
		return decodeGrp3(c, ins, ins.Width, op)

	// 0xFE is reserved by this core as a 2-byte host-callback dispatch
	// (spec §4.K), pre-empting the real x86 Grp4 Eb INC/DEC encoding.
	case 0xFE:
		ins.Op = inst.OpCallback
		ins.CallbackID = c.u8()
		return nil
	}

	return &UnsupportedOpcodeError{Addr: ins.Address, Byte: op, Why: "opcode not in the decoded subset"}
}

func decodeArithGroup(c *cursor, ins *inst.Instruction, g arithGroup, sub byte) error {
	switch sub {
	case 0: // Eb,Gb
		return decodeModRmReg(c, ins, g.rmReg, 8)
	case 1: // Ev,Gv
		return decodeModRmReg(c, ins, g.rmReg, ins.Width)
	case 2: // Gb,Eb
		if !g.hasRegRm {
			return &UnsupportedOpcodeError{Addr: ins.Address, Byte: g.base + sub, Why: "reg,rm direction not modeled for this group"}
		}
		return decodeModRmReg(c, ins, g.regRm, 8)
	case 3: // Gv,Ev
		if !g.hasRegRm {
			return &UnsupportedOpcodeError{Addr: ins.Address, Byte: g.base + sub, Why: "reg,rm direction not modeled for this group"}
		}
		return decodeModRmReg(c, ins, g.regRm, ins.Width)
	case 4: // AL,Ib
		if !g.hasRmImm {
			return &UnsupportedOpcodeError{Addr: ins.Address, Byte: g.base + sub, Why: "immediate-accumulator form not modeled for this group"}
		}
		ins.Op = g.rmImm
		ins.Width = 8
		ins.ModRm = regDirectModRm(cpu.RegAX)
		imm := c.u8()
		ins.Imm = inst.NewField(uint32(imm), c.phys()-1, 1)
		return nil
	default: // eAX,Iv
		if !g.hasRmImm {
			return &UnsupportedOpcodeError{Addr: ins.Address, Byte: g.base + sub, Why: "immediate-accumulator form not modeled for this group"}
		}
		ins.Op = g.rmImm
		ins.ModRm = regDirectModRm(cpu.RegAX)
		ins.Imm = readImmZ(c, ins.Width)
		return nil
	}
}

// decodeModRmReg decodes a ModRm byte plus its addressing bytes and sets
// ins.Reg from the reg field, for the Eb,Gb/Ev,Gv/Gb,Eb/Gv,Ev forms.
func decodeModRmReg(c *cursor, ins *inst.Instruction, op inst.Op, width inst.Width) error {
	ins.Op = op
	ins.Width = width
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	ins.ModRm = modrm
	ins.Reg = modrm.Reg
	return nil
}

// decodeModRmOnly decodes a ModRm with no reg-field operand (the reg field
// instead selects an opcode extension, already consumed by the caller, or
// is ignored as in MOV Eb,Ib/Ev,Iv and POP Ev).
func decodeModRmOnly(c *cursor, ins *inst.Instruction, width inst.Width) error {
	ins.Width = width
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	ins.ModRm = modrm
	return nil
}

func decodeGrp1(c *cursor, ins *inst.Instruction, width inst.Width, signExtend8 bool, opcodeByte byte) error {
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	var op inst.Op
	var ok bool
	switch modrm.Reg {
	case 0:
		op, ok = inst.OpAddRmImm, true
	case 5:
		op, ok = inst.OpSubRmImm, true
	case 7:
		op, ok = inst.OpCmpRmImm, true
	}
	if !ok {
		return &UnsupportedOpcodeError{Addr: ins.Address, Byte: opcodeByte, Why: "Grp1 reg-field selects an operation with no immediate-rm Op variant"}
	}
	ins.Op = op
	ins.Width = width
	ins.ModRm = modrm
	if signExtend8 {
		v := int32(c.i8())
		ins.Imm = inst.NewField(uint32(v), c.phys()-1, 1)
		return nil
	}
	if width == 8 {
		imm := c.u8()
		ins.Imm = inst.NewField(uint32(imm), c.phys()-1, 1)
		return nil
	}
	ins.Imm = readImmZ(c, width)
	return nil
}

func decodeGrp3(c *cursor, ins *inst.Instruction, width inst.Width, opcodeByte byte) error {
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	var op inst.Op
	switch modrm.Reg {
	case 4:
		op = inst.OpMulRm
	case 5:
		op = inst.OpImulRm
	case 6:
		op = inst.OpDivRm
	case 7:
		op = inst.OpIdivRm
	default:
		return &UnsupportedOpcodeError{Addr: ins.Address, Byte: opcodeByte, Why: "Grp3 TEST/NOT/NEG forms are not modeled"}
	}
	ins.Op = op
	ins.Width = width
	ins.ModRm = modrm
	return nil
}

func decodeGrp5(c *cursor, ins *inst.Instruction) error {
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	switch modrm.Reg {
	case 0:
		ins.Op = inst.OpIncRm
	case 1:
		ins.Op = inst.OpDecRm
	case 6:
		ins.Op = inst.OpPushRm
	default:
		return &UnsupportedOpcodeError{Addr: ins.Address, Byte: 0xFF, Why: "Grp5 indirect CALL/JMP has no executor support"}
	}
	ins.ModRm = modrm
	return nil
}

func decodeShiftImm(c *cursor, ins *inst.Instruction, width inst.Width) error {
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	count := c.u8()
	ins.Op = inst.OpShiftRm
	ins.Width = width
	ins.ModRm = modrm
	ins.Shift = shiftKindOf(modrm.Reg)
	ins.Imm8 = inst.NewField(count, c.phys()-1, 1)
	return nil
}

func decodeShiftOne(c *cursor, ins *inst.Instruction, width inst.Width) error {
	modrm, err := decodeModRm(c)
	if err != nil {
		return err
	}
	ins.Op = inst.OpShiftRm
	ins.Width = width
	ins.ModRm = modrm
	ins.Shift = shiftKindOf(modrm.Reg)
	ins.Imm8 = inst.NewField(uint8(1), 0, 0)
	return nil
}

// shiftKindOf maps a Grp2 reg field to the ShiftKind it selects.
func shiftKindOf(reg int) inst.ShiftKind {
	return [8]inst.ShiftKind{
		inst.ShiftRol, inst.ShiftRor, inst.ShiftRcl, inst.ShiftRcr,
		inst.ShiftShl, inst.ShiftShr, inst.ShiftShl, inst.ShiftSar,
	}[reg&7]
}

func decodeLoop(c *cursor, ins *inst.Instruction, op byte) error {
	switch op {
	case 0xE0:
		ins.Op = inst.OpLoopne
	case 0xE1:
		ins.Op = inst.OpLoope
	case 0xE2:
		ins.Op = inst.OpLoop
	default:
		ins.Op = inst.OpJcxz
	}
	rel := c.i8()
	ins.RelOffset = inst.NewField(int32(rel), c.phys()-1, 1)
	return nil
}

// regDirectModRm builds a register-direct ModRm (mod==3) addressing reg, for
// opcode forms that address a register without a following ModRm byte
// (INC/DEC reg, and the arithmetic group's AL/eAX-accumulator forms).
func regDirectModRm(reg int) *inst.ModRmContext {
	return &inst.ModRmContext{Mode: 3, RM: reg, MemAddressType: inst.MemNone}
}

// decodeModRm decodes one ModRm byte (plus displacement) using the eight
// classic 16-bit r/m addressing forms; mod==3 is register-direct. SIB and
// 32-bit displacement decoding are out of scope (see package doc).
func decodeModRm(c *cursor) (*inst.ModRmContext, error) {
	b := c.u8()
	mode := int(b >> 6)
	reg := int((b >> 3) & 7)
	rm := int(b & 7)

	ctx := &inst.ModRmContext{Mode: mode, Reg: reg, RM: rm}

	if mode == 3 {
		ctx.MemAddressType = inst.MemNone
		return ctx, nil
	}

	ctx.MemAddressType = inst.MemBaseIndex
	if mode == 0 && rm == 6 {
		ctx.MemAddressType = inst.MemDirect
		off := c.u16()
		ctx.ModrmOffsetField = inst.NewField(uint32(off), c.phys()-2, 2)
	} else if mode == 1 {
		d := c.i8()
		ctx.Displacement = inst.NewField(int32(d), c.phys()-1, 1)
	} else if mode == 2 {
		d := c.i16()
		ctx.Displacement = inst.NewField(int32(d), c.phys()-2, 2)
	}
	ctx.SegIdx = inst.DefaultSegment(mode, rm, false, nil)
	return ctx, nil
}

// readImmZ reads a width-appropriate immediate: 2 bytes at width 16, 4
// bytes at width 32 (the Iz/Iv encoding; Ib forms are read directly by
// their callers).
func readImmZ(c *cursor, width inst.Width) inst.InstructionField[uint32] {
	if width == 32 {
		v := c.u32()
		return inst.NewField(v, c.phys()-4, 4)
	}
	v := c.u16()
	return inst.NewField(uint32(v), c.phys()-2, 2)
}
