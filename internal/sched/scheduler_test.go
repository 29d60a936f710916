package sched

import "testing"

func TestAddEventFiresAtDueTime(t *testing.T) {
	s := New()
	fired := false
	s.AddEvent("dev1", func(v any) { fired = true }, 10, nil, 0)

	s.ProcessEvents(0, 5)
	if fired {
		t.Fatal("event fired before its due time")
	}
	s.ProcessEvents(0, 10)
	if !fired {
		t.Fatal("event did not fire at its due time")
	}
}

func TestRemoveEventsCancelsPending(t *testing.T) {
	s := New()
	fired := false
	s.AddEvent("dev1", func(v any) { fired = true }, 10, nil, 0)
	if n := s.RemoveEvents("dev1"); n != 1 {
		t.Fatalf("RemoveEvents removed %d, want 1", n)
	}
	s.ProcessEvents(0, 100)
	if fired {
		t.Fatal("removed event should not fire")
	}
}

func TestStableOrderingAmongEqualDueTimes(t *testing.T) {
	s := New()
	var order []int
	s.AddEvent("a", func(v any) { order = append(order, 1) }, 5, nil, 0)
	s.AddEvent("b", func(v any) { order = append(order, 2) }, 5, nil, 0)
	s.AddEvent("c", func(v any) { order = append(order, 3) }, 5, nil, 0)

	s.ProcessEvents(0, 5)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want insertion order [1 2 3]", order)
	}
}

// TestSelfRearmingHandlerUsesActiveEventScheduledTime checks scenario F
// from spec §8: a handler that re-arms itself bases the next due time on
// the event it is currently firing, not on "now", so repeated re-arming
// does not accumulate drift.
func TestSelfRearmingHandlerUsesActiveEventScheduledTime(t *testing.T) {
	s := New()
	var dues []uint64
	var rearm HandlerFunc
	rearm = func(v any) {
		s.AddEvent("periodic", rearm, 10, nil, 999 /* "now" deliberately wrong */)
	}
	s.AddEvent("periodic", rearm, 10, nil, 0)

	s.ProcessEvents(0, 10)
	dues = append(dues, s.queue[0].due)
	if dues[0] != 20 {
		t.Fatalf("re-armed due time = %d, want 20 (10 + 10 from the firing event's own due time, not from the stale 'now')", dues[0])
	}
}

func TestOverflowDropsEventPastCapacity(t *testing.T) {
	s := New()
	overflowed := false
	s.OnOverflow = func() { overflowed = true }
	for i := 0; i < Capacity; i++ {
		if !s.AddEvent(i, func(v any) {}, uint64(i), nil, 0) {
			t.Fatalf("AddEvent %d failed before reaching capacity", i)
		}
	}
	if s.AddEvent("overflow", func(v any) {}, 1, nil, 0) {
		t.Fatal("AddEvent should fail once capacity is reached")
	}
	if !overflowed || !s.Overflowed() {
		t.Fatal("expected overflow to be recorded")
	}
}

// TestProcessEventsRequiresCumulativeElapsedMs guards against passing a
// per-call delta instead of a running total: ProcessEvents compares its
// elapsedMs argument against its own persistent lastTickTimeMs, so a fresh
// small delta every time (e.g. "1ms since last call") would fire tick
// handlers only on the first call. A caller that accumulates elapsed time
// itself, as this test does, fires them once per elapsed millisecond.
func TestProcessEventsRequiresCumulativeElapsedMs(t *testing.T) {
	s := New()
	ticks := 0
	s.AddTickHandler(func() { ticks++ })

	cumulative := uint64(0)
	for i := 0; i < 5; i++ {
		cumulative++ // simulates 1ms elapsed per call, accumulated by the caller
		s.ProcessEvents(cumulative, 0)
	}
	if ticks != 5 {
		t.Fatalf("tick handler fired %d times over 5 cumulative calls, want 5", ticks)
	}
}

func TestTickHandlersFireMostRecentlyAddedFirst(t *testing.T) {
	s := New()
	var order []int
	s.AddTickHandler(func() { order = append(order, 1) })
	s.AddTickHandler(func() { order = append(order, 2) })

	s.ProcessEvents(1, 0)
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("tick handler order = %v, want [2 1] (most recently added first)", order)
	}
}
