package executor

import (
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

func (h *Helper) resolvePort(ins *inst.Instruction) uint16 {
	if ins.PortFromDX {
		return h.CPU.Word(cpu.RegDX)
	}
	return ins.Port.Value
}

func (h *Helper) readPort(port uint16, width inst.Width) (uint32, error) {
	switch width {
	case 8:
		v, err := h.IO.Read8(port)
		return uint32(v), err
	case 16:
		v, err := h.IO.Read16(port)
		return uint32(v), err
	default:
		return h.IO.Read32(port)
	}
}

func (h *Helper) writePort(port uint16, width inst.Width, v uint32) error {
	switch width {
	case 8:
		return h.IO.Write8(port, byte(v))
	case 16:
		return h.IO.Write16(port, uint16(v))
	default:
		return h.IO.Write32(port, v)
	}
}

func (h *Helper) billIoCycles(width inst.Width) {
	if h.Clock == nil {
		return
	}
	h.Clock.ConsumeIoCycles(ioCyclesPerByte * int64(width/8))
}

// execIn routes an IN instruction through the port dispatcher (spec §4.H)
// and charges the cycle limiter for the I/O latency (spec §4.I).
func (h *Helper) execIn(ins *inst.Instruction) error {
	port := h.resolvePort(ins)
	v, err := h.readPort(port, ins.Width)
	h.billIoCycles(ins.Width)
	if err != nil {
		return err
	}
	h.writeRegN(cpu.RegAX, ins.Width, v)
	return nil
}

func (h *Helper) execOut(ins *inst.Instruction) error {
	port := h.resolvePort(ins)
	v := h.readRegN(cpu.RegAX, ins.Width)
	err := h.writePort(port, ins.Width, v)
	h.billIoCycles(ins.Width)
	return err
}
