// Package inst implements the typed instruction representation: ModR/M and
// SIB contexts, the prefix stack, and the CFG successor-discriminator that
// detects self-modifying code (component E of the CFG-CPU core).
package inst

// Addr is a segment:offset pair identifying a CFG node in memory.
type Addr struct {
	Seg uint16
	Off uint16
}

// InstructionField remembers both a decoded value and the physical bytes
// that produced it, so the lifted AST can tell whether the operand still
// lives in memory (and may have been self-modified) or was folded to a
// compile-time constant.
type InstructionField[T any] struct {
	Value      T
	UseValue   bool
	PhysAddr   uint32
	NumBytes   uint8
}

// NewField builds a field that carries a concrete decoded value.
func NewField[T any](v T, physAddr uint32, numBytes uint8) InstructionField[T] {
	return InstructionField[T]{Value: v, UseValue: true, PhysAddr: physAddr, NumBytes: numBytes}
}

// NewMemoryField builds a field whose value must be re-read from memory at
// execution time (e.g. an immediate that self-modifying code might rewrite).
func NewMemoryField[T any](physAddr uint32, numBytes uint8) InstructionField[T] {
	return InstructionField[T]{PhysAddr: physAddr, NumBytes: numBytes}
}

// PrefixKind tags the variant carried by a Prefix.
type PrefixKind int

const (
	PrefixSegmentOverride PrefixKind = iota
	PrefixOperandSize32
	PrefixAddressSize32
	PrefixRep
	PrefixLock
)

// Prefix is one entry on the per-instruction prefix stack.
type Prefix struct {
	Kind PrefixKind

	// SegIdx is valid when Kind == PrefixSegmentOverride (cpu.SegES..SegGS).
	SegIdx int

	// ContinueOnZF is valid when Kind == PrefixRep: true selects REPE/REPZ,
	// false selects REPNE/REPNZ. Plain REP (no ZF gating) is represented by
	// the string-op executor ignoring this field for non-comparison ops.
	ContinueOnZF bool
}

// Prefixes is the ordered prefix stack attached to one instruction.
type Prefixes []Prefix

func (p Prefixes) find(k PrefixKind) (Prefix, bool) {
	for _, pr := range p {
		if pr.Kind == k {
			return pr, true
		}
	}
	return Prefix{}, false
}

// SegmentOverride returns the overriding segment register index, if any.
func (p Prefixes) SegmentOverride() (int, bool) {
	pr, ok := p.find(PrefixSegmentOverride)
	return pr.SegIdx, ok
}

func (p Prefixes) Has(k PrefixKind) bool { _, ok := p.find(k); return ok }

// AddressSize32 reports whether the 0x67 prefix is present.
func (p Prefixes) AddressSize32() bool { return p.Has(PrefixAddressSize32) }

// OperandSize32 reports whether the 0x66 prefix is present.
func (p Prefixes) OperandSize32() bool { return p.Has(PrefixOperandSize32) }

// Rep returns the REP/REPE/REPNE prefix, if present.
func (p Prefixes) Rep() (Prefix, bool) { return p.find(PrefixRep) }

// MemoryAddressType classifies what a decoded ModRm resolves to.
type MemoryAddressType int

const (
	MemNone MemoryAddressType = iota // resolves to a register, not memory
	MemDirect
	MemBaseIndex
)

// SibContext holds the decoded SIB byte fields for 32-bit addressing.
type SibContext struct {
	Scale     uint8 // 1, 2, 4, or 8
	Base      int   // general-register index, or -1 if BASE_FIELD_32 (disp32 base)
	Index     int   // general-register index, or -1 when sib_index == none
	BaseField InstructionField[uint32]
}

// ModRmContext is the decoded ModR/M byte plus everything needed to compute
// an effective address exactly once per execution.
type ModRmContext struct {
	Mode int // 0,1,2 (register-direct is folded into MemAddressType==MemNone via Mode==3)
	Reg  int // the reg field: always addresses a register
	RM   int // the r/m field

	SegIdx            int // explicit or default segment for a memory operand
	MemAddressType    MemoryAddressType
	AddressSize32     bool
	Displacement      InstructionField[int32]
	ModrmOffsetField  InstructionField[uint32] // disp16/disp32 "OFFSETn" direct-address form
	Sib               *SibContext
}

// IsMemory reports whether this ModRm resolves to memory rather than a register.
func (m ModRmContext) IsMemory() bool { return m.MemAddressType != MemNone }

// Discriminator is a byte-pattern guard compared against the bytes currently
// resident at a CFG node's address.
type Discriminator struct {
	Bytes []byte
}

func (d Discriminator) matches(mem []byte) bool {
	if len(mem) < len(d.Bytes) {
		return false
	}
	for i, b := range d.Bytes {
		if mem[i] != b {
			return false
		}
	}
	return true
}

// NodeRef identifies a decoded instruction node within the CFG by its
// address. The CFG owner (the graph builder, external to this package)
// resolves NodeRef to an *Instruction.
type NodeRef Addr

// DiscriminatedNode is an opcode-shaped guard in the CFG: it owns a set of
// byte-pattern discriminators, each mapped to a successor. If the bytes
// currently resident at Address no longer match any discriminator, the
// graph is stale (self-modifying code) and Resolve returns ok=false.
type DiscriminatedNode struct {
	Address        Addr
	successors     []discriminatedSuccessor
}

type discriminatedSuccessor struct {
	disc Discriminator
	node NodeRef
}

// AddSuccessor registers a discriminator/successor pair. Earlier
// registrations win ties (first match wins, per spec).
func (n *DiscriminatedNode) AddSuccessor(d Discriminator, next NodeRef) {
	n.successors = append(n.successors, discriminatedSuccessor{disc: d, node: next})
}

// Resolve reads len(discriminator) bytes via reader and returns the first
// matching successor. ok=false means no discriminator matched: the CFG
// considers itself stale at this address.
func (n *DiscriminatedNode) Resolve(reader func(addr uint32, n int) []byte) (NodeRef, bool) {
	for _, s := range n.successors {
		mem := reader(physAddr(n.Address), len(s.disc.Bytes))
		if s.disc.matches(mem) {
			return s.node, true
		}
	}
	return NodeRef{}, false
}

func physAddr(a Addr) uint32 { return (uint32(a.Seg) << 4) + uint32(a.Off) }

// NewSelfGuard builds the single-discriminator guard a decoded
// Instruction attaches to itself: raw, the bytes it was decoded from, must
// still be resident at addr for a cached decode of that instruction to
// remain valid. Resolve returns ok=true (and NodeRef(addr), which callers
// ignore) while nothing has rewritten those bytes; ok=false means the
// cache is stale and the owner must re-decode (spec §4.E self-modifying
// code detection).
func NewSelfGuard(addr Addr, raw []byte) *DiscriminatedNode {
	n := &DiscriminatedNode{Address: addr}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	n.AddSuccessor(Discriminator{Bytes: cp}, NodeRef(addr))
	return n
}
