// Package ioport implements the I/O port dispatch fabric (component H):
// a per-port handler registry over the 64 Ki port space, read/write
// breakpoints, a delegate-registration layer, and the unhandled-port
// policy.
package ioport

import "fmt"

// UnhandledPortError is raised by Read8/Write8 when no handler is
// registered at a port and FailOnUnhandledPort is set.
type UnhandledPortError struct {
	Port  uint16
	Write bool
}

func (e *UnhandledPortError) Error() string {
	dir := "read"
	if e.Write {
		dir = "write"
	}
	return fmt.Sprintf("unhandled I/O port %s at 0x%04X", dir, e.Port)
}

// Handler is a per-port device handler. Read16/Write16/Read32/Write32 are
// optional: a nil pointer leaves the dispatcher's default two/four-byte
// composition in effect for that width.
type Handler struct {
	Read8   func(port uint16) uint8
	Write8  func(port uint16, v uint8)
	Read16  func(port uint16) uint16
	Write16 func(port uint16, v uint16)
	Read32  func(port uint16) uint32
	Write32 func(port uint16, v uint32)

	LastPortRead        uint16
	LastPortWritten     uint16
	LastPortWrittenValue uint32
}

// BreakFunc is invoked when an installed port breakpoint fires. Breakpoints
// never suppress the underlying access.
type BreakFunc func(port uint16, write bool, value uint32)

// Dispatcher routes byte/word/dword I/O accesses to registered handlers,
// falling back to the "unhandled" default policy for unmapped ports.
type Dispatcher struct {
	handlers [65536]*Handler

	FailOnUnhandledPort bool

	LastPortRead        uint16
	LastPortWritten     uint16
	LastPortWrittenValue uint32

	breakRead  map[uint16]BreakFunc
	breakWrite map[uint16]BreakFunc
}

// New returns an empty dispatcher; FailOnUnhandledPort defaults to false
// (unmapped reads return 0xFF, unmapped writes are silently dropped).
func New() *Dispatcher {
	return &Dispatcher{
		breakRead:  make(map[uint16]BreakFunc),
		breakWrite: make(map[uint16]BreakFunc),
	}
}

// Register installs h as the handler for port.
func (d *Dispatcher) Register(port uint16, h *Handler) {
	d.handlers[port] = h
}

// Unregister removes the handler at port, if any.
func (d *Dispatcher) Unregister(port uint16) {
	d.handlers[port] = nil
}

// BreakOnRead installs a read breakpoint at port.
func (d *Dispatcher) BreakOnRead(port uint16, fn BreakFunc) { d.breakRead[port] = fn }

// BreakOnWrite installs a write breakpoint at port.
func (d *Dispatcher) BreakOnWrite(port uint16, fn BreakFunc) { d.breakWrite[port] = fn }

func (d *Dispatcher) fireBreak(m map[uint16]BreakFunc, port uint16, write bool, value uint32) {
	if fn, ok := m[port]; ok {
		fn(port, write, value)
	}
}

func (d *Dispatcher) updateLastRead(port uint16, h *Handler) {
	d.LastPortRead = port
	if h != nil {
		h.LastPortRead = port
	}
}

func (d *Dispatcher) updateLastWrite(port uint16, value uint32, h *Handler) {
	d.LastPortWritten = port
	d.LastPortWrittenValue = value
	if h != nil {
		h.LastPortWritten = port
		h.LastPortWrittenValue = value
	}
}

// Read8 dispatches an 8-bit read, returning 0xFF and optionally raising
// UnhandledIoPort when no handler is registered (spec §4.H).
func (d *Dispatcher) Read8(port uint16) (uint8, error) {
	h := d.handlers[port]
	d.updateLastRead(port, h)
	d.fireBreak(d.breakRead, port, false, 0)
	if h == nil || h.Read8 == nil {
		if d.FailOnUnhandledPort {
			return 0xFF, &UnhandledPortError{Port: port}
		}
		return 0xFF, nil
	}
	return h.Read8(port), nil
}

// Write8 dispatches an 8-bit write.
func (d *Dispatcher) Write8(port uint16, v uint8) error {
	h := d.handlers[port]
	d.updateLastWrite(port, uint32(v), h)
	d.fireBreak(d.breakWrite, port, true, uint32(v))
	if h == nil || h.Write8 == nil {
		if d.FailOnUnhandledPort {
			return &UnhandledPortError{Port: port, Write: true}
		}
		return nil
	}
	h.Write8(port, v)
	return nil
}

// Read16 dispatches a 16-bit read: the handler's own Read16 if it
// overrides, else two consecutive Read8 calls at port then port+1,
// composed little-endian (spec §8 invariant 9).
func (d *Dispatcher) Read16(port uint16) (uint16, error) {
	if h := d.handlers[port]; h != nil && h.Read16 != nil {
		d.updateLastRead(port, h)
		d.fireBreak(d.breakRead, port, false, 0)
		return h.Read16(port), nil
	}
	lo, err := d.Read8(port)
	if err != nil {
		return 0, err
	}
	hi, err := d.Read8(port + 1)
	if err != nil {
		return uint16(lo), err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

// Write16 dispatches a 16-bit write, mirroring Read16's composition rule.
func (d *Dispatcher) Write16(port uint16, v uint16) error {
	if h := d.handlers[port]; h != nil && h.Write16 != nil {
		d.updateLastWrite(port, uint32(v), h)
		d.fireBreak(d.breakWrite, port, true, uint32(v))
		h.Write16(port, v)
		return nil
	}
	if err := d.Write8(port, uint8(v)); err != nil {
		return err
	}
	return d.Write8(port+1, uint8(v>>8))
}

// Read32 dispatches a 32-bit read, defaulting to four consecutive byte
// reads when the handler does not override.
func (d *Dispatcher) Read32(port uint16) (uint32, error) {
	if h := d.handlers[port]; h != nil && h.Read32 != nil {
		d.updateLastRead(port, h)
		d.fireBreak(d.breakRead, port, false, 0)
		return h.Read32(port), nil
	}
	lo, err := d.Read16(port)
	if err != nil {
		return 0, err
	}
	hi, err := d.Read16(port + 2)
	if err != nil {
		return uint32(lo), err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

// Write32 dispatches a 32-bit write, defaulting to four consecutive byte
// writes when the handler does not override.
func (d *Dispatcher) Write32(port uint16, v uint32) error {
	if h := d.handlers[port]; h != nil && h.Write32 != nil {
		d.updateLastWrite(port, v, h)
		d.fireBreak(d.breakWrite, port, true, v)
		h.Write32(port, v)
		return nil
	}
	if err := d.Write16(port, uint16(v)); err != nil {
		return err
	}
	return d.Write16(port+2, uint16(v>>16))
}

// RegisterDelegate wraps byte-granularity read/write callbacks and installs
// them over [start,end], clipping the range to the 16-bit port space and
// rejecting an empty range (spec §4.H). Each port in the range gets its own
// Handler so per-port last-access tracking stays independent.
func RegisterDelegate(d *Dispatcher, start, end uint32, read func(port uint16) uint8, write func(port uint16, v uint8)) {
	if end < start {
		return
	}
	if end > 0xFFFF {
		end = 0xFFFF
	}
	for p := start; p <= end; p++ {
		port := uint16(p)
		d.Register(port, &Handler{
			Read8:  read,
			Write8: write,
		})
		if p == 0xFFFF {
			break
		}
	}
}
