// Package debugger implements the inspection, breakpoint, and disassembly
// surface (component L) laid over the executor core: register read/write,
// a fatal-error diagnostic snapshot, address and port watchpoints wired
// through the executor's BreakpointHost contract, and a disassembler built
// on the lifted-AST printer.
package debugger

import (
	"fmt"
	"strings"

	"github.com/kestrelvm/x86core/internal/cpu"
)

// RegisterInfo describes one named register for display or scripted
// inspection, mirroring the shape a debug console reads to build a
// register pane.
type RegisterInfo struct {
	Name     string
	BitWidth int
	Value    uint64
	Group    string // "general", "segment", or "flags"
}

// Inspector exposes a *cpu.State's registers by name. It holds no state of
// its own beyond the CPU pointer, so it is cheap to construct per request.
type Inspector struct {
	CPU *cpu.State
}

func NewInspector(c *cpu.State) *Inspector {
	return &Inspector{CPU: c}
}

var general16Names = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var segNames = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

// GetRegisters returns every inspectable register, general-purpose first,
// then segment registers, then IP/FLAGS.
func (in *Inspector) GetRegisters() []RegisterInfo {
	c := in.CPU
	regs := make([]RegisterInfo, 0, 8+6+2)
	for i, name := range general16Names {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 16, Value: uint64(c.Word(i)), Group: "general"})
	}
	for i, name := range segNames {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 16, Value: uint64(c.Seg(i)), Group: "segment"})
	}
	regs = append(regs, RegisterInfo{Name: "IP", BitWidth: 16, Value: uint64(c.IP), Group: "general"})
	regs = append(regs, RegisterInfo{Name: "FLAGS", BitWidth: 32, Value: uint64(c.Flags), Group: "flags"})
	return regs
}

// GetRegister looks up a single register by name, case-insensitively.
func (in *Inspector) GetRegister(name string) (uint64, bool) {
	c := in.CPU
	switch strings.ToUpper(name) {
	case "AX":
		return uint64(c.Word(cpu.RegAX)), true
	case "CX":
		return uint64(c.Word(cpu.RegCX)), true
	case "DX":
		return uint64(c.Word(cpu.RegDX)), true
	case "BX":
		return uint64(c.Word(cpu.RegBX)), true
	case "SP":
		return uint64(c.Word(cpu.RegSP)), true
	case "BP":
		return uint64(c.Word(cpu.RegBP)), true
	case "SI":
		return uint64(c.Word(cpu.RegSI)), true
	case "DI":
		return uint64(c.Word(cpu.RegDI)), true
	case "ES":
		return uint64(c.Seg(cpu.SegES)), true
	case "CS":
		return uint64(c.Seg(cpu.SegCS)), true
	case "SS":
		return uint64(c.Seg(cpu.SegSS)), true
	case "DS":
		return uint64(c.Seg(cpu.SegDS)), true
	case "FS":
		return uint64(c.Seg(cpu.SegFS)), true
	case "GS":
		return uint64(c.Seg(cpu.SegGS)), true
	case "IP":
		return uint64(c.IP), true
	case "FLAGS", "EFLAGS":
		return uint64(c.Flags), true
	}
	return 0, false
}

// SetRegister writes a single register by name. Returns false for an
// unrecognized name so a console command can report "no such register"
// instead of silently doing nothing.
func (in *Inspector) SetRegister(name string, value uint64) bool {
	c := in.CPU
	switch strings.ToUpper(name) {
	case "AX":
		c.SetWord(cpu.RegAX, uint16(value))
	case "CX":
		c.SetWord(cpu.RegCX, uint16(value))
	case "DX":
		c.SetWord(cpu.RegDX, uint16(value))
	case "BX":
		c.SetWord(cpu.RegBX, uint16(value))
	case "SP":
		c.SetWord(cpu.RegSP, uint16(value))
	case "BP":
		c.SetWord(cpu.RegBP, uint16(value))
	case "SI":
		c.SetWord(cpu.RegSI, uint16(value))
	case "DI":
		c.SetWord(cpu.RegDI, uint16(value))
	case "ES":
		c.SetSeg(cpu.SegES, uint16(value))
	case "CS":
		c.SetSeg(cpu.SegCS, uint16(value))
	case "SS":
		c.SetSeg(cpu.SegSS, uint16(value))
	case "DS":
		c.SetSeg(cpu.SegDS, uint16(value))
	case "FS":
		c.SetSeg(cpu.SegFS, uint16(value))
	case "GS":
		c.SetSeg(cpu.SegGS, uint16(value))
	case "IP":
		c.IP = uint16(value)
	case "FLAGS", "EFLAGS":
		c.Flags = uint32(value)
	default:
		return false
	}
	return true
}

// FlagString renders FLAGS as the conventional space-separated letter set,
// upper-case when set, lower-case when clear, in the 8086 flag-dump order.
func FlagString(c *cpu.State) string {
	bits := []struct {
		set  bool
		name string
	}{
		{c.OF(), "O"}, {c.DF(), "D"}, {c.IF(), "I"}, {c.GetFlag(cpu.FlagTF), "T"},
		{c.SF(), "S"}, {c.ZF(), "Z"}, {c.AF(), "A"}, {c.PF(), "P"}, {c.CF(), "C"},
	}
	var b strings.Builder
	for i, f := range bits {
		if i > 0 {
			b.WriteByte(' ')
		}
		if f.set {
			b.WriteString(f.name)
		} else {
			b.WriteString(strings.ToLower(f.name))
		}
	}
	return b.String()
}

// String renders "CS:IP  AX=.... ...  FLAGS" for a one-line status display.
func (in *Inspector) String() string {
	c := in.CPU
	return fmt.Sprintf("%04X:%04X AX=%04X CX=%04X DX=%04X BX=%04X SP=%04X BP=%04X SI=%04X DI=%04X FLAGS=%s",
		c.Seg(cpu.SegCS), c.IP,
		c.Word(cpu.RegAX), c.Word(cpu.RegCX), c.Word(cpu.RegDX), c.Word(cpu.RegBX),
		c.Word(cpu.RegSP), c.Word(cpu.RegBP), c.Word(cpu.RegSI), c.Word(cpu.RegDI),
		FlagString(c))
}
