// Package executor implements the instruction executor (component F): it
// reads operands via the decoded ModRm, invokes the ALU, writes results
// back, advances IP, and resolves the CFG successor. It also folds in
// software-interrupt and callback dispatch (component K), since both are
// the same "what happens after this instruction retires" concern.
package executor

import (
	"errors"
	"fmt"

	"github.com/kestrelvm/x86core/internal/callback"
	"github.com/kestrelvm/x86core/internal/clock"
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/ioport"
	"github.com/kestrelvm/x86core/internal/membus"
)

// InvalidEncodingError signals a decoder bug: a field the instruction
// variant requires (e.g. a ModRm context) is missing. Fatal (spec §7).
type InvalidEncodingError struct {
	Op  inst.Op
	Why string
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid instruction encoding for op %d: %s", e.Op, e.Why)
}

var errDivideByZero = errors.New("divide by zero")

// gpFaultVector is the real x86 #GP vector; the executor routes a
// GeneralProtectionFault here rather than propagating it (spec §7).
const gpFaultVector = 13

// ioCyclesPerByte is the emulated I/O latency charged against the cycle
// limiter's current tick for each byte moved by IN/OUT/INS/OUTS.
const ioCyclesPerByte = 4

// CallbackHost is the external collaborator for the reserved 0xFE,NN
// callback opcode (spec §6 "Callback host contract").
type CallbackHost interface {
	RunCallback(number uint8)
}

// BreakpointHost is consulted by the memory bus and the I/O dispatcher
// (spec §6 "Breakpoint contract"); it may pause emulation by clearing
// cpu.Running.
type BreakpointHost interface {
	MonitorReadAccess(addr uint32)
	MonitorWriteAccess(addr uint32)
}

// Helper bundles the CPU, memory bus and I/O dispatcher references the
// executor needs per instruction — the spec's "ExecutionHelper".
type Helper struct {
	CPU   *cpu.State
	Bus   *membus.Bus
	IO    *ioport.Dispatcher
	Clock *clock.Limiter
	Host  CallbackHost
	Break BreakpointHost

	// Vectors holds the PIC EOI post-handlers fired when IRET completes
	// servicing a vector (spec §4.K); nil means no host PIC is wired up.
	Vectors *callback.Table

	// pending holds a fault that must be serviced as a software interrupt
	// before the next real instruction runs (spec §7 propagation policy:
	// ALU and memory faults raise an exception the executor converts to an
	// emulated INT).
	pending *uint8

	// inService tracks nested INT-vector dispatch (an ISR may itself be
	// interrupted) so iret knows which vector's post-handler, if any, to
	// fire when that frame unwinds.
	inService []uint8
}

// NewHelper wires together a fresh CPU/bus/IO/clock quartet.
func NewHelper(c *cpu.State, bus *membus.Bus, io *ioport.Dispatcher, clk *clock.Limiter) *Helper {
	return &Helper{CPU: c, Bus: bus, IO: io, Clock: clk}
}

// Execute runs one instruction and returns the CFG successor the executor
// resolved, or nil if the graph does not know it (spec §4.F). When a prior
// Execute call raised a fault, this call instead services the pending
// interrupt and returns nil, nil; the caller should call Execute again to
// run the handler's first instruction.
func (h *Helper) Execute(ins *inst.Instruction) (*inst.NodeRef, error) {
	if h.pending != nil {
		v := *h.pending
		h.pending = nil
		h.softwareInterrupt(v)
		return nil, nil
	}

	advance := true
	var next *inst.NodeRef

	switch ins.Op {
	case inst.OpNop:
		// no-op

	case inst.OpMovRmReg, inst.OpMovRegRm, inst.OpMovRegImm, inst.OpMovRmImm:
		if err := h.execMov(ins); err != nil {
			return nil, err
		}

	case inst.OpAddRmReg, inst.OpAddRegRm, inst.OpAddRmImm:
		if err := h.execArith(ins, addOp); err != nil {
			return nil, err
		}
	case inst.OpSubRmReg, inst.OpSubRegRm, inst.OpSubRmImm:
		if err := h.execArith(ins, subOp); err != nil {
			return nil, err
		}
	case inst.OpAdcRmReg:
		if err := h.execArith(ins, adcOp); err != nil {
			return nil, err
		}
	case inst.OpSbbRmReg:
		if err := h.execArith(ins, sbbOp); err != nil {
			return nil, err
		}
	case inst.OpAndRmReg:
		if err := h.execArith(ins, andOp); err != nil {
			return nil, err
		}
	case inst.OpOrRmReg:
		if err := h.execArith(ins, orOp); err != nil {
			return nil, err
		}
	case inst.OpXorRmReg:
		if err := h.execArith(ins, xorOp); err != nil {
			return nil, err
		}
	case inst.OpCmpRmReg, inst.OpCmpRmImm:
		if err := h.execCompare(ins); err != nil {
			return nil, err
		}
	case inst.OpTestRmReg:
		if err := h.execTest(ins); err != nil {
			return nil, err
		}
	case inst.OpIncRm:
		if err := h.execIncDec(ins, true); err != nil {
			return nil, err
		}
	case inst.OpDecRm:
		if err := h.execIncDec(ins, false); err != nil {
			return nil, err
		}
	case inst.OpShiftRm:
		if err := h.execShift(ins); err != nil {
			return nil, err
		}
	case inst.OpMulRm, inst.OpImulRm:
		if err := h.execMul(ins); err != nil {
			return nil, err
		}
	case inst.OpDivRm, inst.OpIdivRm:
		if err := h.execDiv(ins); err != nil {
			if errors.Is(err, errDivideByZero) {
				h.raiseFault(0)
				advance = false
				break
			}
			return nil, err
		}

	case inst.OpPushReg:
		h.pushWidth(ins.Width, h.readRegN(ins.Reg, ins.Width))
	case inst.OpPopReg:
		h.writeRegN(ins.Reg, ins.Width, h.popWidth(ins.Width))
	case inst.OpPushImm:
		h.pushWidth(ins.Width, ins.Imm.Value)
	case inst.OpPushRm:
		v, err := h.readRm(ins)
		if err != nil {
			return nil, err
		}
		h.pushWidth(ins.Width, v)
	case inst.OpPopRm:
		v := h.popWidth(ins.Width)
		if err := h.writeRm(ins, v); err != nil {
			return nil, err
		}
	case inst.OpPushf:
		h.pushWidth(16, h.CPU.PushFlagsValue())
	case inst.OpPopf:
		v := h.popWidth(16)
		h.CPU.Flags = (h.CPU.Flags &^ 0xFFFF) | (v & 0xFFFF)

	case inst.OpJmpShort, inst.OpJmpNear:
		next = h.jumpRel(ins)
		advance = false
	case inst.OpJmpFar:
		next = h.jumpFar(ins)
		advance = false
	case inst.OpJcc:
		if evalCond(h.CPU, ins.Cond) {
			next = h.jumpRel(ins)
		} else {
			next = h.advanceAndLookup(ins)
		}
		advance = false
	case inst.OpCallNear:
		next = h.callNear(ins)
		advance = false
	case inst.OpCallFar:
		next = h.callFar(ins)
		advance = false
	case inst.OpRetNear:
		next = h.retNear(ins)
		advance = false
	case inst.OpRetFar:
		next = h.retFar(ins)
		advance = false
	case inst.OpIret:
		next = h.iret(ins)
		advance = false
	case inst.OpLoop:
		next = h.loop(ins, func() bool { return true })
		advance = false
	case inst.OpLoope:
		next = h.loop(ins, func() bool { return h.CPU.ZF() })
		advance = false
	case inst.OpLoopne:
		next = h.loop(ins, func() bool { return !h.CPU.ZF() })
		advance = false
	case inst.OpJcxz:
		zero := h.CPU.Word(cpu.RegCX) == 0
		if ins.Prefixes.AddressSize32() {
			zero = h.CPU.Dword(cpu.RegCX) == 0
		}
		if zero {
			next = h.jumpRel(ins)
		} else {
			next = h.advanceAndLookup(ins)
		}
		advance = false

	case inst.OpMovs, inst.OpCmps, inst.OpScas, inst.OpLods, inst.OpStos, inst.OpIns, inst.OpOuts:
		h.execStringOp(ins)

	case inst.OpHlt:
		h.CPU.Halted = true
		h.CPU.Running.Store(false)

	case inst.OpIn:
		if err := h.execIn(ins); err != nil {
			return nil, err
		}
	case inst.OpOut:
		if err := h.execOut(ins); err != nil {
			return nil, err
		}

	case inst.OpInt:
		h.softwareInterrupt(ins.IntVector)
		advance = false

	case inst.OpCallback:
		if h.Host != nil {
			h.Host.RunCallback(ins.CallbackID)
		}

	case inst.OpCld:
		h.CPU.SetFlag(cpu.FlagDF, false)
	case inst.OpStd:
		h.CPU.SetFlag(cpu.FlagDF, true)
	case inst.OpCli:
		h.CPU.SetFlag(cpu.FlagIF, false)
	case inst.OpSti:
		h.CPU.SetFlag(cpu.FlagIF, true)
	case inst.OpClc:
		h.CPU.SetFlag(cpu.FlagCF, false)
	case inst.OpStc:
		h.CPU.SetFlag(cpu.FlagCF, true)

	default:
		return nil, &InvalidEncodingError{Op: ins.Op, Why: "unrecognized opcode"}
	}

	if advance {
		next = h.advanceAndLookup(ins)
	}

	h.CPU.Cycles++
	if h.Clock != nil {
		h.Clock.Tick(h.CPU.Cycles)
	}

	return next, nil
}

// raiseFault arms a pending interrupt vector to run on the next Execute
// call instead of propagating the fault to the caller, per spec §7.
func (h *Helper) raiseFault(vector uint8) {
	v := vector
	h.pending = &v
}

// advanceAndLookup advances IP to the end of the instruction (wrapping at
// 16 bits, spec §4.F step 3) and resolves the CFG successor map.
func (h *Helper) advanceAndLookup(ins *inst.Instruction) *inst.NodeRef {
	h.CPU.IP = uint16(uint32(h.CPU.IP) + uint32(ins.Length))
	return h.lookupSuccessor(inst.Addr{Seg: h.CPU.Seg(cpu.SegCS), Off: h.CPU.IP}, ins)
}

func (h *Helper) lookupSuccessor(key inst.Addr, ins *inst.Instruction) *inst.NodeRef {
	if ref, ok := ins.SuccessorsPerAddress[key]; ok {
		return &ref
	}
	return nil
}
