// Package clock implements the cycle limiter (component I): a budgeted
// throttle that paces emulated cycles to wall-clock time, invoked from the
// executor's hot path after every instruction.
package clock

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	// MaxCatchUpTicks bounds how far behind wall-clock the limiter will let
	// the emulation fall before resetting, so it never bursts unthrottled.
	MaxCatchUpTicks = 20

	minCyclesPerMs = 100
	maxCyclesPerMs = 60000

	oneMillisecond = time.Millisecond
)

// Limiter paces CPU.Cycles against wall-clock time, reproducing the target
// emulated clock rate (spec §4.I). It is safe to read AtomicFullIndex from
// another goroutine while the executor drives Tick from its own.
type Limiter struct {
	targetCyclesPerMs int64

	tickCount            int64
	nextTickBoundary     uint64
	tickCycleMax         int64
	cyclesInTick         int64
	ioDelayRemoved       int64

	lastWallTime time.Time
	paused       bool

	atomicFullIndex atomic.Uint64 // stored as fixed-point: integer part<<32 | fractional part
}

// New returns a limiter targeting the given cycles/ms. A zero value selects
// the default of 3000 cycles/ms (spec §6 thin configuration surface).
func New(targetCyclesPerMs int32) *Limiter {
	if targetCyclesPerMs <= 0 {
		targetCyclesPerMs = 3000
	}
	return &Limiter{
		targetCyclesPerMs: int64(targetCyclesPerMs),
		tickCycleMax:      int64(targetCyclesPerMs),
		lastWallTime:      time.Now(),
	}
}

// Tick is the hot-path entry point, called after every instruction with the
// CPU's current total cycle count.
func (l *Limiter) Tick(cpuCycles uint64) {
	if cpuCycles < l.nextTickBoundary {
		return // fast path: no tick boundary crossed, no floating-point work
	}

	l.tickCount++
	l.ioDelayRemoved = 0
	l.tickCycleMax = l.targetCyclesPerMs
	l.nextTickBoundary = cpuCycles + uint64(l.tickCycleMax)
	l.cyclesInTick = 0

	if !l.paused {
		l.waitForWallClockTick()
	}

	fraction := int64(0)
	if l.tickCycleMax > 0 {
		fraction = l.cyclesInTick / l.tickCycleMax // deliberately unclamped, see spec §4.I
	}
	if fraction < 0 {
		fraction = 0
	}
	full := (uint64(l.tickCount) << 32) | uint64(uint32(fraction))
	l.atomicFullIndex.Store(full) // release-store
}

func (l *Limiter) waitForWallClockTick() {
	target := l.lastWallTime.Add(oneMillisecond)
	now := time.Now()
	for now.Before(target) {
		graduatedWait(target.Sub(now))
		now = time.Now()
	}
	l.lastWallTime = target

	if behind := now.Sub(l.lastWallTime); behind > MaxCatchUpTicks*oneMillisecond {
		l.lastWallTime = now.Add(-MaxCatchUpTicks * oneMillisecond)
	}
}

// graduatedWait blocks for roughly remaining, escalating from a pure spin
// to a cooperative yield to a timer-bounded event wait as the remaining
// time grows, matching the teacher's spin/Gosched idiom for tight pacing
// loops. It never calls Sleep(1): on platforms where the system timer tick
// is 15ms, that call alone would blow the whole per-tick budget (spec
// §4.I/§9), so the top tier waits on a timer channel capped at 1ms instead.
func graduatedWait(remaining time.Duration) {
	switch {
	case remaining >= oneMillisecond:
		t := time.NewTimer(oneMillisecond)
		<-t.C
	case remaining >= 50*time.Microsecond:
		runtime.Gosched()
	default:
		// Pure busy-spin: no syscall, no scheduler yield — handing the P
		// back via Gosched here would itself cost more than the remaining
		// budget.
		for deadline := time.Now().Add(remaining); time.Now().Before(deadline); {
		}
	}
}

// AtomicFullIndex returns the tick count and in-tick fraction that Tick last
// published, acquire-loaded so readers on another goroutine observe a
// consistent snapshot (spec §5 cross-thread surfaces). Tick publishes only
// at a tick boundary, right after cyclesInTick is reset, so fraction is
// always 0 and the index advances in whole ticks only.
func (l *Limiter) AtomicFullIndex() (ticks uint32, fraction int32) {
	v := l.atomicFullIndex.Load() // acquire-load
	return uint32(v >> 32), int32(uint32(v))
}

// ConsumeIoCycles charges the current tick for n cycles of emulated I/O
// latency, advancing the tick boundary but never past the cycles
// remaining in the current tick.
func (l *Limiter) ConsumeIoCycles(n int64) {
	remaining := l.tickCycleMax - l.cyclesInTick
	if remaining < 0 {
		remaining = 0
	}
	charge := n
	if charge > remaining {
		charge = remaining
	}
	l.nextTickBoundary += uint64(charge)
	l.cyclesInTick += charge
	l.ioDelayRemoved += charge
}

// IODelayRemoved reports the accumulated ConsumeIoCycles charge since the
// last tick boundary, for diagnostics.
func (l *Limiter) IODelayRemoved() int64 { return l.ioDelayRemoved }

// IncreaseCycles raises the target rate by 1000 cycles/ms, clamped to
// [100, 60000]. The new rate takes effect at the next tick boundary.
func (l *Limiter) IncreaseCycles() {
	l.targetCyclesPerMs = clamp(l.targetCyclesPerMs+1000, minCyclesPerMs, maxCyclesPerMs)
}

// DecreaseCycles lowers the target rate by 1000 cycles/ms, clamped.
func (l *Limiter) DecreaseCycles() {
	l.targetCyclesPerMs = clamp(l.targetCyclesPerMs-1000, minCyclesPerMs, maxCyclesPerMs)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// OnPause stops the wall-clock stopwatch.
func (l *Limiter) OnPause() { l.paused = true }

// OnResume restarts the wall-clock stopwatch, resetting the reference point
// to now so resuming does not trigger a catch-up burst.
func (l *Limiter) OnResume() {
	l.paused = false
	l.lastWallTime = time.Now()
}
