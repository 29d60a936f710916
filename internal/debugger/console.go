package debugger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// StepFunc runs the instruction at the CPU's current CS:IP and returns the
// instruction that ran, so the console can disassemble it after the fact.
// Supplied by cmd/x86run, which is the component that actually holds the
// decoded-instruction/CFG lookup the executor needs.
type StepFunc func() (*inst.Instruction, error)

// Console is a raw-mode interactive front end over a running emulator,
// grounded on the teacher's terminal_host.go raw-mode stdin handling: Enter
// maps from CR, Backspace from DEL, and echo is handled locally rather than
// by the OS line discipline. Unlike terminal_host.go's background goroutine
// (which feeds a live MMIO device while emulation runs concurrently), the
// console owns the thread outright while active, so its reads are blocking.
type Console struct {
	CPU     *cpu.State
	Monitor *Monitor
	Step    StepFunc
	Out     io.Writer

	fd       int
	oldState *term.State
}

func NewConsole(c *cpu.State, mon *Monitor, step StepFunc) *Console {
	return &Console{CPU: c, Monitor: mon, Step: step, Out: os.Stdout}
}

// Run puts stdin in raw mode and processes commands until "quit" or EOF.
func (co *Console) Run() error {
	co.fd = int(os.Stdin.Fd())
	old, err := term.MakeRaw(co.fd)
	if err != nil {
		return fmt.Errorf("debugger: failed to set raw mode: %w", err)
	}
	co.oldState = old
	defer func() {
		_ = term.Restore(co.fd, co.oldState)
	}()

	fmt.Fprint(co.Out, "x86run debug console - step, continue, regs, break <seg:off>, watchr/watchw <addr>, disas, quit\r\n")
	for {
		line, eof := co.readLine()
		if eof {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if co.dispatch(line) {
			return nil
		}
	}
}

// readLine reads raw bytes until Enter, translating CR to LF and DEL to BS
// and echoing printable input itself since raw mode disables OS echo.
func (co *Console) readLine() (line string, eof bool) {
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(one)
		if n == 0 || err != nil {
			return "", true
		}
		b := one[0]
		if b == '\r' {
			b = '\n'
		}
		if b == 0x7F {
			b = 0x08
		}
		switch {
		case b == '\n':
			fmt.Fprint(co.Out, "\r\n")
			return string(buf), false
		case b == 0x08:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				fmt.Fprint(co.Out, "\b \b")
			}
		case b == 0x03: // Ctrl-C
			return "", true
		default:
			buf = append(buf, b)
			co.Out.Write(one)
		}
	}
}

// dispatch runs one command line and reports whether the console should
// exit.
func (co *Console) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "quit", "q", "exit":
		return true
	case "regs", "r":
		fmt.Fprint(co.Out, NewInspector(co.CPU).String()+"\r\n")
	case "step", "s":
		co.step()
	case "continue", "c":
		co.CPU.Running.Store(true)
		for co.CPU.Running.Load() && !co.CPU.Halted {
			if !co.step() {
				break
			}
		}
	case "break", "b":
		if len(args) != 1 {
			fmt.Fprint(co.Out, "usage: break <seg:off>\r\n")
			break
		}
		at, ok := parseAddr(args[0])
		if !ok {
			fmt.Fprint(co.Out, "bad address\r\n")
			break
		}
		co.Monitor.SetBreakpoint(at)
	case "watchr":
		co.watch(args, co.Monitor.WatchRead)
	case "watchw":
		co.watch(args, co.Monitor.WatchWrite)
	case "disas", "d":
		fmt.Fprint(co.Out, "use step to disassemble the next instruction as it runs\r\n")
	default:
		fmt.Fprintf(co.Out, "unknown command: %s\r\n", cmd)
	}
	return false
}

// step runs exactly one instruction, printing its disassembly and any
// breakpoint/watchpoint hits recorded while running it.
func (co *Console) step() bool {
	ins, err := co.Step()
	if err != nil {
		fmt.Fprintf(co.Out, "error: %v\r\n", err)
		return false
	}
	if ins != nil {
		fmt.Fprintf(co.Out, "%04X:%04X  %s\r\n", ins.Address.Seg, ins.Address.Off, Disassemble(ins))
	}
	for _, h := range co.Monitor.DrainHits() {
		fmt.Fprintf(co.Out, "  hit: %s\r\n", hitString(h))
	}
	return true
}

func (co *Console) watch(args []string, set func(uint32)) {
	if len(args) != 1 {
		fmt.Fprint(co.Out, "usage: watchr/watchw <hex addr>\r\n")
		return
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
	if err != nil {
		fmt.Fprint(co.Out, "bad address\r\n")
		return
	}
	set(uint32(v))
}

func hitString(h Hit) string {
	switch h.Kind {
	case "break":
		return fmt.Sprintf("breakpoint at %04X:%04X", h.At.Seg, h.At.Off)
	default:
		return fmt.Sprintf("%s at 0x%05X", h.Kind, h.Addr)
	}
}

func parseAddr(s string) (inst.Addr, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return inst.Addr{}, false
	}
	seg, err1 := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
	off, err2 := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
	if err1 != nil || err2 != nil {
		return inst.Addr{}, false
	}
	return inst.Addr{Seg: uint16(seg), Off: uint16(off)}, true
}
