package debugger

import (
	"sync"

	"github.com/kestrelvm/x86core/internal/cpu"
	"github.com/kestrelvm/x86core/internal/inst"
)

// Hit records one breakpoint or watchpoint trip for the console to report.
type Hit struct {
	Kind string // "break", "watch-read", "watch-write"
	At   inst.Addr
	Addr uint32 // physical address for watch-* kinds
}

// Monitor implements the executor's BreakpointHost contract and adds
// execution breakpoints on top: an address-keyed set the run loop consults
// before stepping into a node, trimmed from the teacher's GUI-driven
// machine monitor down to the non-GUI core a headless console needs.
type Monitor struct {
	CPU *cpu.State

	mu          sync.Mutex
	breakpoints map[inst.Addr]struct{}
	readWatch   map[uint32]struct{}
	writeWatch  map[uint32]struct{}
	hits        []Hit
}

func NewMonitor(c *cpu.State) *Monitor {
	return &Monitor{
		CPU:         c,
		breakpoints: make(map[inst.Addr]struct{}),
		readWatch:   make(map[uint32]struct{}),
		writeWatch:  make(map[uint32]struct{}),
	}
}

func (m *Monitor) SetBreakpoint(at inst.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakpoints[at] = struct{}{}
}

func (m *Monitor) ClearBreakpoint(at inst.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakpoints, at)
}

func (m *Monitor) HasBreakpoint(at inst.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.breakpoints[at]
	return ok
}

// ShouldStop is called by the run loop before executing the node at at. It
// freezes the CPU and records a Hit when a breakpoint matches, returning
// true so the caller knows to stop stepping.
func (m *Monitor) ShouldStop(at inst.Addr) bool {
	if !m.HasBreakpoint(at) {
		return false
	}
	m.CPU.Running.Store(false)
	m.record(Hit{Kind: "break", At: at})
	return true
}

func (m *Monitor) WatchRead(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readWatch[addr] = struct{}{}
}

func (m *Monitor) WatchWrite(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeWatch[addr] = struct{}{}
}

func (m *Monitor) ClearWatch(addr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readWatch, addr)
	delete(m.writeWatch, addr)
}

// MonitorReadAccess implements executor.BreakpointHost: the executor calls
// this on every ModRm memory-operand read, regardless of whether any watch
// is set, so the hot path stays a single map lookup. Stack, string-op and
// instruction-fetch reads do not reach it.
func (m *Monitor) MonitorReadAccess(addr uint32) {
	m.mu.Lock()
	_, watched := m.readWatch[addr]
	m.mu.Unlock()
	if !watched {
		return
	}
	m.CPU.Running.Store(false)
	m.record(Hit{Kind: "watch-read", Addr: addr})
}

func (m *Monitor) MonitorWriteAccess(addr uint32) {
	m.mu.Lock()
	_, watched := m.writeWatch[addr]
	m.mu.Unlock()
	if !watched {
		return
	}
	m.CPU.Running.Store(false)
	m.record(Hit{Kind: "watch-write", Addr: addr})
}

func (m *Monitor) record(h Hit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = append(m.hits, h)
}

// DrainHits returns and clears the recorded breakpoint/watchpoint trips
// since the last call, for the console to print between steps.
func (m *Monitor) DrainHits() []Hit {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := m.hits
	m.hits = nil
	return hits
}
