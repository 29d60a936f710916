// Package membus implements the flat memory bus that backs the CFG-CPU
// core (component B): little-endian typed accessors, memory-watch
// breakpoints and the 32-bit effective-address wrap fault.
package membus

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// DefaultSize is the smallest address space the bus guarantees (1 MiB,
// real-mode's addressable range with A20 unmodeled).
const DefaultSize = 1 << 20

// GPFault reports a general-protection fault raised by an out-of-range or
// wrapping access, per the fault policy described for component B.
type GPFault struct {
	Addr uint32
	Op   string
}

func (e *GPFault) Error() string {
	return fmt.Sprintf("general protection fault: %s at 0x%08X", e.Op, e.Addr)
}

// WatchFunc is invoked when an installed memory watchpoint fires. Watches
// never suppress the access; they are purely observational.
type WatchFunc func(addr uint32, width int, write bool, value uint64)

// Bus is the memory bus: a contiguous byte slice with little-endian typed
// accessors, reachable from multiple goroutines only for diagnostic reads
// (the debugger); the executor is the sole writer during normal operation.
type Bus struct {
	mu sync.RWMutex

	mem []byte

	watches   map[uint32]WatchFunc
	watchAll  WatchFunc
	lastFault error
}

// New allocates a bus with at least DefaultSize bytes of backing memory.
func New(size int) *Bus {
	if size < DefaultSize {
		size = DefaultSize
	}
	return &Bus{
		mem:     make([]byte, size),
		watches: make(map[uint32]WatchFunc),
	}
}

// Reset clears every byte of backing memory.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.mem {
		b.mem[i] = 0
	}
}

// Size returns the number of bytes of backing memory.
func (b *Bus) Size() int { return len(b.mem) }

// WatchAddr installs a watchpoint fired whenever addr is touched by a
// read or write of any width.
func (b *Bus) WatchAddr(addr uint32, fn WatchFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches[addr] = fn
}

// WatchAll installs a watchpoint fired on every bus access.
func (b *Bus) WatchAll(fn WatchFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchAll = fn
}

// ClearWatch removes a single-address watchpoint.
func (b *Bus) ClearWatch(addr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watches, addr)
}

func (b *Bus) fire(addr uint32, width int, write bool, value uint64) {
	if b.watchAll != nil {
		b.watchAll(addr, width, write, value)
	}
	if fn, ok := b.watches[addr]; ok {
		fn(addr, width, write, value)
	}
}

func (b *Bus) bounds(addr uint32, width int) bool {
	return uint64(addr)+uint64(width) <= uint64(len(b.mem))
}

// Read8 returns the byte at addr. Out-of-range reads return 0; the spec
// treats the address space as fixed-size and does not fault on plain
// byte access outside the wrap case handled by segmented addressing.
func (b *Bus) Read8(addr uint32) uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bounds(addr, 1) {
		return 0
	}
	v := b.mem[addr]
	b.fire(addr, 1, false, uint64(v))
	return v
}

func (b *Bus) Write8(addr uint32, v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bounds(addr, 1) {
		return
	}
	b.mem[addr] = v
	b.fire(addr, 1, true, uint64(v))
}

func (b *Bus) Read16(addr uint32) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bounds(addr, 2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(b.mem[addr : addr+2])
	b.fire(addr, 2, false, uint64(v))
	return v
}

func (b *Bus) Write16(addr uint32, v uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bounds(addr, 2) {
		return
	}
	binary.LittleEndian.PutUint16(b.mem[addr:addr+2], v)
	b.fire(addr, 2, true, uint64(v))
}

func (b *Bus) Read32(addr uint32) uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bounds(addr, 4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.mem[addr : addr+4])
	b.fire(addr, 4, false, uint64(v))
	return v
}

func (b *Bus) Write32(addr uint32, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.bounds(addr, 4) {
		return
	}
	binary.LittleEndian.PutUint32(b.mem[addr:addr+4], v)
	b.fire(addr, 4, true, uint64(v))
}

func (b *Bus) Read8Signed(addr uint32) int8   { return int8(b.Read8(addr)) }
func (b *Bus) Read16Signed(addr uint32) int16 { return int16(b.Read16(addr)) }
func (b *Bus) Read32Signed(addr uint32) int32 { return int32(b.Read32(addr)) }

// Span returns a copy of len bytes starting at addr. A short slice is
// returned if the span runs past the end of memory.
func (b *Bus) Span(addr uint32, length int) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.mem) {
		return nil
	}
	end := int(addr) + length
	if end > len(b.mem) {
		end = len(b.mem)
	}
	out := make([]byte, end-int(addr))
	copy(out, b.mem[addr:end])
	return out
}

// GetZeroTerminatedString reads bytes from addr until a NUL byte or max
// bytes have been read, whichever comes first.
func (b *Bus) GetZeroTerminatedString(addr uint32, max int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		a := addr + uint32(i)
		if int(a) >= len(b.mem) {
			break
		}
		c := b.mem[a]
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	return string(out)
}

// ReadSegmentedAddress loads (segment, offset) as the far pointer stored
// at addr: offset is the word at addr, segment is the word at addr+2.
func (b *Bus) ReadSegmentedAddress(addr uint32) (seg, off uint16) {
	off = b.Read16(addr)
	seg = b.Read16(addr + 2)
	return seg, off
}

// WriteSegmentedAddress stores (segment, offset) as a far pointer at addr,
// matching the layout ReadSegmentedAddress expects.
func (b *Bus) WriteSegmentedAddress(addr uint32, seg, off uint16) {
	b.Write16(addr, off)
	b.Write16(addr+2, seg)
}

// EffectiveAddress32 computes a segment:offset linear address for 32-bit
// addressing, raising GeneralProtectionFault if the offset computation
// wraps the 16-bit effective-address space at 0xFFFF (spec §4.B, §7).
func EffectiveAddress32(seg uint16, off uint32) (uint32, error) {
	if off > 0xFFFF {
		return 0, &GPFault{Addr: off, Op: "32-bit effective address wrap"}
	}
	return (uint32(seg) << 4) + off, nil
}
