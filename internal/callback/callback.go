// Package callback implements the interrupt/callback dispatch component
// (K): the host callback vector table and the PIC EOI "post-handler" hook
// point spec.md §4.K describes alongside INT N and the 0xFE,NN callback
// opcode (both of which live in internal/executor, since they are part of
// the same per-instruction dispatch the executor already owns).
package callback

import "github.com/kestrelvm/x86core/internal/inst"

// PostHandler is invoked once IRET has finished unwinding the interrupt
// frame for a given vector. The PIC EOI hook point (spec §4.K "the
// emulator provides a 'post-handler' callback that, when invoked, calls
// pic.acknowledge(irq)") is the common use: a host PIC registers one
// against a hardware-IRQ vector (e.g. 0x74) so it learns when the guest's
// ISR has returned and the in-service bit can clear.
type PostHandler func(vector uint8)

// Table is the callback/interrupt vector table: per-vector PIC EOI
// post-handlers, plus Install which writes a callback host's (number ->
// seg:off) map into the guest's real-mode interrupt vector table.
type Table struct {
	postHandlers map[uint8]PostHandler
}

// New returns an empty vector table.
func New() *Table {
	return &Table{postHandlers: make(map[uint8]PostHandler)}
}

// OnReturn registers fn to run every time IRET completes servicing vector.
// A later call for the same vector replaces the earlier registration.
func (t *Table) OnReturn(vector uint8, fn PostHandler) {
	t.postHandlers[vector] = fn
}

// Fire invokes the registered post-handler for vector, if any; a no-op
// when nothing is registered (most vectors have no PIC behind them).
func (t *Table) Fire(vector uint8) {
	if fn, ok := t.postHandlers[vector]; ok {
		fn(vector)
	}
}

// MemWriter is the narrow slice of membus.Bus Install needs, so this
// package does not have to import internal/membus for one method.
type MemWriter interface {
	Write16(addr uint32, v uint16)
}

// Install writes each callback's (seg,off) entry point into the guest's
// real-mode interrupt vector table at physical vector*4, word IP then word
// CS (spec §6 "Callback host contract"'s Addresses() enumeration feeding
// §4.K's "read vector N at physical (N*4, N*4+2)"). Called once at
// startup, before the executor's first INT N for any installed vector.
func Install(bus MemWriter, addrs map[uint8]inst.Addr) {
	for vector, addr := range addrs {
		base := uint32(vector) * 4
		bus.Write16(base, addr.Off)
		bus.Write16(base+2, addr.Seg)
	}
}
