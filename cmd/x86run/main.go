// Command x86run loads a flat real-mode memory image and runs it on the
// CFG-CPU core, optionally under the interactive debug console.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelvm/x86core/internal/callback"
	"github.com/kestrelvm/x86core/internal/clock"
	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/debugger"
	"github.com/kestrelvm/x86core/internal/decoder"
	"github.com/kestrelvm/x86core/internal/executor"
	"github.com/kestrelvm/x86core/internal/inst"
	"github.com/kestrelvm/x86core/internal/ioport"
	"github.com/kestrelvm/x86core/internal/membus"
	"github.com/kestrelvm/x86core/internal/sched"
)

// Config is the thin, flag-driven configuration surface for one emulation
// run (spec §6 "thin configuration surface" — no config file format, no
// discovery, just the handful of knobs a host binary needs).
type Config struct {
	ImagePath           string
	Org                 inst.Addr
	Entry               inst.Addr
	MemSize             int
	TargetCyclesPerMs   int
	FailOnUnhandledPort bool
	Debug               bool
	ReportMIPS          bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("x86run: %v", err)
	}

	bus := membus.New(cfg.MemSize)
	if err := loadImage(bus, cfg.ImagePath, cfg.Org); err != nil {
		log.Fatalf("x86run: %v", err)
	}

	c := cpu.New()
	c.SetSeg(cpu.SegCS, cfg.Entry.Seg)
	c.IP = cfg.Entry.Off

	io := ioport.New()
	io.FailOnUnhandledPort = cfg.FailOnUnhandledPort

	clk := clock.New(int32(cfg.TargetCyclesPerMs))
	scheduler := sched.New()
	scheduler.OnOverflow = func() {
		log.Printf("x86run: scheduler event queue overflowed, an event was dropped")
	}

	helper := executor.NewHelper(c, bus, io, clk)
	mon := debugger.NewMonitor(c)
	helper.Break = mon
	helper.Host = loggingCallbackHost{}
	helper.Vectors = callback.New()
	// No PIC device is wired into this standalone core (spec §1 explicitly
	// keeps PIC/VGA/SB device implementations external); the EOI hook point
	// still fires for any vector a host registers through helper.Vectors,
	// e.g. helper.Vectors.OnReturn(0x74, func(v uint8) { pic.Acknowledge(12) }).

	run := &runner{
		cpu:       c,
		bus:       bus,
		helper:    helper,
		clock:     clk,
		scheduler: scheduler,
		cache:     make(map[inst.Addr]*inst.Instruction),
	}

	if cfg.Debug {
		console := debugger.NewConsole(c, mon, run.Step)
		if err := console.Run(); err != nil {
			log.Fatalf("x86run: debug console: %v", err)
		}
		return
	}

	run.loop(cfg.ReportMIPS)
}

// loggingCallbackHost is the default CallbackHost (spec §6 "Callback host
// contract"): with no embedding application registered, an unhandled
// 0xFE,NN dispatch is merely logged rather than silently dropped.
type loggingCallbackHost struct{}

func (loggingCallbackHost) RunCallback(number uint8) {
	log.Printf("x86run: unhandled callback 0x%02X", number)
}

// runner owns the decoded-instruction cache the executor's CFG model needs:
// Helper.Execute only ever resolves a successor it has already seen, so
// something outside the executor must decode on first visit to an address
// and record the edge for next time (spec §4.F).
type runner struct {
	cpu       *cpu.State
	bus       *membus.Bus
	helper    *executor.Helper
	clock     *clock.Limiter
	scheduler *sched.Scheduler
	cache     map[inst.Addr]*inst.Instruction

	lastTick     time.Time
	elapsedMsSum uint64
}

// fetch returns the cached instruction at at, decoding it on first visit.
// A cache hit is only trusted while its self-modifying-code guard still
// matches the bytes currently resident at at (spec §4.E): guest code that
// overwrites an already-decoded instruction must force a re-decode rather
// than silently replay the stale cached Instruction forever.
func (r *runner) fetch(at inst.Addr) (*inst.Instruction, error) {
	if ins, ok := r.cache[at]; ok {
		if ins.Guard == nil {
			return ins, nil
		}
		if _, stillValid := ins.Guard.Resolve(r.bus.Span); stillValid {
			return ins, nil
		}
		delete(r.cache, at)
	}
	ins, err := decoder.Decode(r.bus, at)
	if err != nil {
		return nil, err
	}
	r.cache[at] = ins
	return ins, nil
}

// Step runs exactly one instruction at the CPU's current CS:IP, wiring a
// fresh CFG successor edge into the just-executed instruction when the
// executor did not already know one (self-modifying-code discriminators
// aside, a plain successor edge is all a first visit ever needs).
func (r *runner) Step() (*inst.Instruction, error) {
	at := inst.Addr{Seg: r.cpu.Seg(cpu.SegCS), Off: r.cpu.IP}
	ins, err := r.fetch(at)
	if err != nil {
		return nil, err
	}

	next, err := r.helper.Execute(ins)
	if err != nil {
		var invalid *executor.InvalidEncodingError
		var unhandled *ioport.UnhandledPortError
		if errors.As(err, &invalid) || errors.As(err, &unhandled) {
			return ins, err
		}
		// Any other error (e.g. a general-protection fault) has already
		// armed a pending interrupt inside Execute; the next Step call
		// services it instead of propagating further.
		return ins, nil
	}

	r.tickScheduler()

	if next == nil {
		successor := inst.Addr{Seg: r.cpu.Seg(cpu.SegCS), Off: r.cpu.IP}
		if _, ferr := r.fetch(successor); ferr == nil {
			if ins.SuccessorsPerAddress == nil {
				ins.SuccessorsPerAddress = make(map[inst.Addr]inst.NodeRef)
			}
			ins.SuccessorsPerAddress[successor] = inst.NodeRef(successor)
		}
	}
	return ins, nil
}

// tickScheduler drains due scheduler events once per elapsed wall-clock
// millisecond, mirroring the cadence the cycle limiter already paces
// execution to. Scheduler.ProcessEvents compares its elapsedMs argument
// against its own running lastTickTimeMs counter, so the value passed here
// must be cumulative across calls, not the delta since the previous one —
// a per-call delta stops exceeding lastTickTimeMs after the first tick and
// silently stalls every tick handler for the rest of the run.
func (r *runner) tickScheduler() {
	now := time.Now()
	if r.lastTick.IsZero() {
		r.lastTick = now
		return
	}
	elapsed := now.Sub(r.lastTick)
	if elapsed < time.Millisecond {
		return
	}
	ms := uint64(elapsed / time.Millisecond)
	r.lastTick = r.lastTick.Add(time.Duration(ms) * time.Millisecond)
	r.elapsedMsSum += ms
	ticks, _ := r.clock.AtomicFullIndex()
	r.scheduler.ProcessEvents(r.elapsedMsSum, uint64(ticks))
}

// loop runs until the CPU halts or is stopped, matching the teacher's
// MIPS-reporting Run loop.
func (r *runner) loop(reportMIPS bool) {
	var instructionCount uint64
	start := time.Now()
	lastReport := start

	for r.cpu.Running.Load() && !r.cpu.Halted {
		ins, err := r.Step()
		if err != nil {
			at := inst.Addr{}
			if ins != nil {
				at = ins.Address
			}
			log.Fatalf("x86run: fatal error at %04X:%04X: %v", at.Seg, at.Off, err)
		}

		if reportMIPS {
			instructionCount++
			if instructionCount&0xFFFFFF == 0 {
				now := time.Now()
				if now.Sub(lastReport) >= time.Second {
					elapsed := now.Sub(start).Seconds()
					mips := float64(instructionCount) / elapsed / 1_000_000
					fmt.Printf("x86run: %.2f MIPS (%d instructions in %.1fs)\n", mips, instructionCount, elapsed)
					lastReport = now
				}
			}
		}
	}
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("x86run", flag.ContinueOnError)
	image := fs.String("image", "", "path to a flat real-mode memory image (required)")
	org := fs.String("org", "0000:0100", "segment:offset where the image is loaded")
	entry := fs.String("entry", "", "segment:offset of the first instruction (defaults to -org)")
	memSize := fs.Int("mem", membus.DefaultSize, "backing memory size in bytes")
	cyclesPerMs := fs.Int("cycles-per-ms", 0, "emulated cycles per millisecond (0 selects the clock package default)")
	strictIO := fs.Bool("strict-io", false, "fault on access to an unregistered I/O port instead of returning 0xFF")
	debug := fs.Bool("debug", false, "launch the interactive debug console instead of free-running")
	mips := fs.Bool("mips", false, "report instructions-per-second while free-running")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *image == "" {
		return Config{}, errors.New("-image is required")
	}

	orgAddr, err := parseAddr(*org)
	if err != nil {
		return Config{}, fmt.Errorf("-org: %w", err)
	}
	entryAddr := orgAddr
	if *entry != "" {
		entryAddr, err = parseAddr(*entry)
		if err != nil {
			return Config{}, fmt.Errorf("-entry: %w", err)
		}
	}

	return Config{
		ImagePath:           *image,
		Org:                 orgAddr,
		Entry:               entryAddr,
		MemSize:             *memSize,
		TargetCyclesPerMs:   *cyclesPerMs,
		FailOnUnhandledPort: *strictIO,
		Debug:               *debug,
		ReportMIPS:          *mips,
	}, nil
}

// parseAddr parses a "seg:off" pair, both hex, an optional leading "0x"
// tolerated on either half.
func parseAddr(s string) (inst.Addr, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return inst.Addr{}, fmt.Errorf("expected seg:off, got %q", s)
	}
	seg, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
	if err != nil {
		return inst.Addr{}, fmt.Errorf("bad segment %q: %w", parts[0], err)
	}
	off, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
	if err != nil {
		return inst.Addr{}, fmt.Errorf("bad offset %q: %w", parts[1], err)
	}
	return inst.Addr{Seg: uint16(seg), Off: uint16(off)}, nil
}

// loadImage reads path and copies it into bus starting at the physical
// address org resolves to, the same flat-binary loading the teacher's
// LoadProgramData performs for its own CPU cores.
func loadImage(bus *membus.Bus, path string, org inst.Addr) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	base := (uint32(org.Seg) << 4) + uint32(org.Off)
	if int(base)+len(data) > bus.Size() {
		return fmt.Errorf("image too large: %d bytes at 0x%05X exceeds %d-byte bus", len(data), base, bus.Size())
	}
	for i, b := range data {
		bus.Write8(base+uint32(i), b)
	}
	return nil
}
