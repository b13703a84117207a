package reliability

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/clockz"
)

// Correlation pressure tests - verify that correlation tables never outlive
// their callbacks when many components schedule under many keys.

func TestCorrelationPressure(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic", "stress":
		t.Run("debounce_storm", func(t *testing.T) { testDebounceStorm(t, config) })
		t.Run("async_flood", func(t *testing.T) { testAsyncFlood(t, config) })
		t.Run("heap_growth", func(t *testing.T) { testHeapGrowth(t, config) })
	default:
		t.Skip("CALLTRACE_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

// fakeClock is the subset of the clockz fake clock these tests drive.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

func newQuietTracer(t *testing.T) (*calltrace.Tracer, fakeClock) {
	t.Helper()
	s := calltrace.DefaultSettings()
	s.CapturePath = false
	s.Enabled = false
	clock := clockz.NewFakeClock()
	tracer := calltrace.New(calltrace.MustConfig(s)).WithClock(clock)
	tracer.SetSink(calltrace.NewRecordingSink())
	t.Cleanup(tracer.Close)
	return tracer, clock
}

// hostDebounce keeps only the latest callback per key, like a real host.
type hostDebounce struct {
	pending map[string]func()
}

func (h *hostDebounce) schedule(key string, fn func(), _ time.Duration) {
	h.pending[key] = fn
}

// testDebounceStorm re-issues every key several times across many components
// and checks that firing leaves nothing behind.
func testDebounceStorm(t *testing.T, config ReliabilityConfig) {
	tracer, clock := newQuietTracer(t)
	var errs int
	tracer.OnError(func(error) { errs++ })

	components := config.scaled(config.Components)
	keys := config.scaled(config.Keys)
	hosts := make([]*hostDebounce, components)
	targets := make([]*calltrace.MethodSet, components)
	for i := range hosts {
		hosts[i] = &hostDebounce{pending: make(map[string]func())}
		targets[i] = calltrace.NewMethodSet().Define(calltrace.MethodDebounce, calltrace.Debounce(hosts[i].schedule))
		tracer.Register(calltrace.Registration{Target: targets[i], Kind: "x-storm", Path: "/app/storm.go"})
	}

	for round := 0; round < 3; round++ {
		for _, target := range targets {
			for k := 0; k < keys; k++ {
				target.Call(calltrace.MethodDebounce, fmt.Sprintf("key-%d", k), func() {}, time.Millisecond)
			}
		}
		clock.Advance(time.Millisecond)
	}

	if got, want := tracer.Pending(), components*keys; got != want {
		t.Fatalf("Expected %d pending correlations, got %d", want, got)
	}

	for _, host := range hosts {
		for key, fn := range host.pending {
			delete(host.pending, key)
			fn()
		}
	}

	if tracer.Pending() != 0 {
		t.Errorf("Expected no pending correlations after firing, got %d", tracer.Pending())
	}
	if tracer.Depth() != 0 {
		t.Errorf("Expected empty stack, got depth %d", tracer.Depth())
	}
	if errs != 0 {
		t.Errorf("Expected no correlation errors, got %d", errs)
	}

	aggs := tracer.Flush()
	fired := 0
	for _, a := range aggs {
		if a.Method != calltrace.MethodDebounce {
			fired += a.Tally
		}
	}
	if fired != components*keys {
		t.Errorf("Expected %d fired callbacks tallied, got %d", components*keys, fired)
	}
}

// testAsyncFlood schedules many one-shot callbacks, fires them out of order
// and checks every entry is released.
func testAsyncFlood(t *testing.T, config ReliabilityConfig) {
	tracer, _ := newQuietTracer(t)

	var queued []func()
	target := calltrace.NewMethodSet().Define(calltrace.MethodAsync,
		calltrace.Async(func(fn func(), _ time.Duration) { queued = append(queued, fn) }))
	tracer.Register(calltrace.Registration{Target: target, Kind: "x-flood", Path: "/app/flood.go"})

	n := config.scaled(config.Components * config.Keys)
	for i := 0; i < n; i++ {
		target.Call(calltrace.MethodAsync, func() {}, time.Duration(0))
	}
	if tracer.Pending() != n {
		t.Fatalf("Expected %d pending correlations, got %d", n, tracer.Pending())
	}

	// Fire from both ends towards the middle.
	for lo, hi := 0, len(queued)-1; lo <= hi; lo, hi = lo+1, hi-1 {
		queued[hi]()
		if lo != hi {
			queued[lo]()
		}
	}
	if tracer.Pending() != 0 {
		t.Errorf("Expected no pending correlations, got %d", tracer.Pending())
	}
}

// testHeapGrowth repeats schedule/fire cycles and checks the heap does not
// grow with the number of cycles.
func testHeapGrowth(t *testing.T, config ReliabilityConfig) {
	tracer, _ := newQuietTracer(t)

	var pending func()
	target := calltrace.NewMethodSet().Define(calltrace.MethodDebounce,
		calltrace.Debounce(func(_ string, fn func(), _ time.Duration) { pending = fn }))
	tracer.Register(calltrace.Registration{Target: target, Kind: "x-heap", Path: "/app/heap.go"})

	cycle := func() {
		target.Call(calltrace.MethodDebounce, "k", func() {}, time.Millisecond)
		pending()
	}

	var before, after runtime.MemStats
	for i := 0; i < 1000; i++ {
		cycle()
	}
	tracer.Flush()
	runtime.GC()
	runtime.ReadMemStats(&before)

	deadline := time.Now().Add(config.Duration)
	iterations := config.scaled(config.Components * config.Keys * 10)
	for i := 0; i < iterations && time.Now().Before(deadline); i++ {
		cycle()
		if i%1000 == 0 {
			tracer.Flush()
		}
	}
	tracer.Flush()
	runtime.GC()
	runtime.ReadMemStats(&after)

	grown := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if grown > int64(config.MaxGrowMB)<<20 {
		t.Errorf("Heap grew by %d bytes over %d cycles", grown, iterations)
	}
	if tracer.Pending() != 0 {
		t.Errorf("Expected no pending correlations, got %d", tracer.Pending())
	}
}
