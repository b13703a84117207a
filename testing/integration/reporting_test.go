package integration

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zoobzio/calltrace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestFrameCycles runs several frames of a ticking component and flushes
// after each, as a render loop would.
func TestFrameCycles(t *testing.T) {
	h := NewHarness(t, nil)
	loop := NewLoop()

	reg := prometheus.NewRegistry()
	metrics := calltrace.NewMetrics(reg)
	h.Tracer.AttachMetrics(metrics)

	clock := NewComponent(h, loop, "x-clock")
	clock.Method("tick", 3*time.Millisecond, nil)
	clock.Method("layout", time.Millisecond, nil)
	clock.Register("", "tick", "layout")

	frames := 4
	for frame := 0; frame < frames; frame++ {
		// Two ticks a frame; layout only on even frames.
		clock.Call("tick")
		clock.Call("tick")
		if frame%2 == 0 {
			clock.Call("layout")
		}
		h.Sink.Reset()
		aggs := h.Tracer.Flush()

		tick := aggs[0]
		if tick.Site != "x-clock.tick" || tick.Tally != 2 || tick.Cumulative != 6*time.Millisecond {
			t.Errorf("Frame %d: unexpected tick aggregate %+v", frame, tick)
		}
		out := h.Sink.String()
		if !strings.Contains(out, "1 function calls intercepted last frame") {
			t.Errorf("Frame %d: expected summary of the tick site only:\n%s", frame, out)
		}
		if strings.Contains(out, "layout") {
			t.Errorf("Frame %d: fast site in summary:\n%s", frame, out)
		}
	}

	if got := len(h.Flushes()); got != frames {
		t.Errorf("Expected %d flushed cycles, got %d", frames, got)
	}
	if got := testutil.ToFloat64(metrics.Calls.WithLabelValues("x-clock", "tick")); got != 8 {
		t.Errorf("Expected 8 ticks counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Calls.WithLabelValues("x-clock", "layout")); got != 2 {
		t.Errorf("Expected 2 layouts counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Flushes); got != float64(frames) {
		t.Errorf("Expected %d flushes counted, got %v", frames, got)
	}
	if h.Tracer.Registry().Count() != 0 {
		t.Error("Expected registry to be empty after the last flush")
	}
}

// TestStructuredSink routes reports to a zap logger.
func TestStructuredSink(t *testing.T) {
	h := NewHarness(t, nil)
	core, logs := observer.New(zapcore.InfoLevel)
	h.Tracer.SetSink(calltrace.NewZapSink(zap.New(core)))

	root := h.Tracer.Begin("x-app", "created")
	child := h.Tracer.Begin("x-app", "render")
	h.Clock.Advance(8 * time.Millisecond)
	child.Finish()
	root.Finish()
	h.Tracer.Flush()

	entries := logs.AllUntimed()
	if len(entries) < 2 {
		t.Fatalf("Expected report entries, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Message, "x-app.created") {
		t.Errorf("Expected root first, got %q", entries[0].Message)
	}
	if depth := entries[1].ContextMap()["depth"]; depth != int64(1) {
		t.Errorf("Expected child at depth 1, got %v", depth)
	}

	summary := logs.FilterMessageSnippet("function calls intercepted last frame").Len()
	if summary != 1 {
		t.Errorf("Expected one summary header, got %d", summary)
	}
}

// TestRuntimeToggle disables and re-enables reporting between frames.
func TestRuntimeToggle(t *testing.T) {
	h := NewHarness(t, nil)

	slow := func() {
		span := h.Tracer.Begin("x-app", "render")
		h.Clock.Advance(10 * time.Millisecond)
		span.Finish()
	}

	if err := h.Tracer.Config().Update(func(s *calltrace.Settings) { s.Enabled = false }); err != nil {
		t.Fatal(err)
	}
	slow()
	h.Tracer.Flush()
	if len(h.Sink.Lines()) != 0 {
		t.Errorf("Expected no output while disabled, got:\n%s", h.Sink.String())
	}

	if err := h.Tracer.Config().Update(func(s *calltrace.Settings) { s.Enabled = true }); err != nil {
		t.Fatal(err)
	}
	slow()
	if !strings.Contains(h.Sink.String(), "x-app.render") {
		t.Errorf("Expected output once re-enabled, got:\n%s", h.Sink.String())
	}
	h.AssertRootCount(2)
}
