package debugger

import (
	"fmt"
	"strings"

	"github.com/kestrelvm/x86core/internal/cpu"
)

// Diagnostic is a point-in-time capture of CPU state taken when execution
// stops on a fatal error (spec §7): every register, the decoded flag
// letters, and the physical address that faulted, if any. It is the
// reduced, non-resumable cousin of a full save-state snapshot — there is
// no memory image and no restore path, only enough to print a useful
// crash report.
type Diagnostic struct {
	Registers   []RegisterInfo
	Flags       string
	FaultAddr   uint32
	HasFault    bool
	Err         error
	Halted      bool
}

// Capture builds a Diagnostic from the current CPU state. faultAddr/hasFault
// should describe the physical address implicated in err, if any (e.g. the
// address a GP fault or unhandled-port error was raised against).
func Capture(c *cpu.State, err error, faultAddr uint32, hasFault bool) *Diagnostic {
	return &Diagnostic{
		Registers: NewInspector(c).GetRegisters(),
		Flags:     FlagString(c),
		FaultAddr: faultAddr,
		HasFault:  hasFault,
		Err:       err,
		Halted:    c.Halted,
	}
}

// String renders a multi-line crash report suitable for stderr or a log
// line: one register per line, grouped the way GetRegisters orders them.
func (d *Diagnostic) String() string {
	var b strings.Builder
	if d.Err != nil {
		fmt.Fprintf(&b, "fatal: %v\n", d.Err)
	}
	for _, r := range d.Registers {
		fmt.Fprintf(&b, "  %-6s = 0x%0*X\n", r.Name, r.BitWidth/4, r.Value)
	}
	fmt.Fprintf(&b, "  FLAGS  = %s\n", d.Flags)
	if d.HasFault {
		fmt.Fprintf(&b, "  fault address = 0x%05X\n", d.FaultAddr)
	}
	if d.Halted {
		b.WriteString("  CPU halted\n")
	}
	return b.String()
}
