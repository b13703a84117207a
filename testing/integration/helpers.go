package integration

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/clockz"
)

// FakeClock is the subset of the clockz fake clock the harness drives.
type FakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

// Harness wraps a tracer on a fake clock with recording helpers.
// Completed trees, reported errors and flushed cycles are kept for assertions.
//
//nolint:govet // Field alignment optimized for test helper readability
type Harness struct {
	Tracer  *calltrace.Tracer
	Clock   FakeClock
	Sink    *calltrace.RecordingSink
	t       *testing.T
	roots   []*calltrace.Span
	errs    []error
	flushes [][]calltrace.Aggregate
	mu      sync.Mutex
}

// NewHarness creates a tracer with call-path capture off and a 5ms threshold.
// mutate may adjust the settings further.
func NewHarness(t *testing.T, mutate func(*calltrace.Settings)) *Harness {
	t.Helper()

	s := calltrace.DefaultSettings()
	s.CapturePath = false
	s.Threshold = 5 * time.Millisecond
	if mutate != nil {
		mutate(&s)
	}
	cfg, err := calltrace.NewConfig(s)
	if err != nil {
		t.Fatalf("invalid settings: %v", err)
	}

	clock := clockz.NewFakeClock()
	h := &Harness{
		Tracer: calltrace.New(cfg).WithClock(clock),
		Clock:  clock,
		Sink:   calltrace.NewRecordingSink(),
		t:      t,
	}
	h.Tracer.SetSink(h.Sink)
	h.Tracer.OnError(func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	})
	h.Tracer.OnRootComplete(func(root *calltrace.Span) {
		h.mu.Lock()
		h.roots = append(h.roots, root)
		h.mu.Unlock()
	})
	h.Tracer.OnFlush(func(aggs []calltrace.Aggregate) {
		h.mu.Lock()
		h.flushes = append(h.flushes, aggs)
		h.mu.Unlock()
	})
	t.Cleanup(h.Tracer.Close)
	return h
}

// Roots returns every completed call tree in completion order.
func (h *Harness) Roots() []*calltrace.Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*calltrace.Span(nil), h.roots...)
}

// Errors returns every reported error.
func (h *Harness) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// Flushes returns the aggregates of every flushed cycle.
func (h *Harness) Flushes() [][]calltrace.Aggregate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]calltrace.Aggregate(nil), h.flushes...)
}

// LastRoot returns the most recently completed tree.
func (h *Harness) LastRoot() *calltrace.Span {
	h.t.Helper()
	roots := h.Roots()
	if len(roots) == 0 {
		h.t.Fatal("no call tree completed")
	}
	return roots[len(roots)-1]
}

// AssertRootCount verifies the number of completed trees.
func (h *Harness) AssertRootCount(expected int) {
	h.t.Helper()
	if got := len(h.Roots()); got != expected {
		h.t.Errorf("Expected %d call trees, got %d", expected, got)
	}
}

// AssertNoErrors fails if any error was reported.
func (h *Harness) AssertNoErrors() {
	h.t.Helper()
	for _, err := range h.Errors() {
		h.t.Errorf("Unexpected error: %v", err)
	}
}

// Loop is a single-threaded host scheduler. Nothing fires until the test
// says so.
type Loop struct {
	debounced map[string]func()
	queued    []func()
	listeners map[string][]func(any)
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	return &Loop{
		debounced: make(map[string]func()),
		listeners: make(map[string][]func(any)),
	}
}

func (l *Loop) debouncer(owner string) calltrace.DebounceFunc {
	return func(key string, fn func(), _ time.Duration) {
		l.debounced[owner+"/"+key] = fn
	}
}

func (l *Loop) async(fn func(), _ time.Duration) {
	l.queued = append(l.queued, fn)
}

func (l *Loop) listen(event string, handler func(any)) {
	l.listeners[event] = append(l.listeners[event], handler)
}

// Fire runs the pending debounced callback of owner under key.
func (l *Loop) Fire(owner, key string) bool {
	full := owner + "/" + key
	fn, ok := l.debounced[full]
	if !ok {
		return false
	}
	delete(l.debounced, full)
	fn()
	return true
}

// Drain runs queued async callbacks, including ones queued while draining.
func (l *Loop) Drain() int {
	ran := 0
	for len(l.queued) > 0 {
		fn := l.queued[0]
		l.queued = l.queued[1:]
		fn()
		ran++
	}
	return ran
}

// Emit delivers payload to every listener of event.
func (l *Loop) Emit(event string, payload any) {
	for _, h := range l.listeners[event] {
		h(payload)
	}
}

// Component simulates a UI element whose methods take a fixed time on the
// harness clock.
//
//nolint:govet // Field alignment optimized for test helper readability
type Component struct {
	Methods *calltrace.MethodSet
	Kind    string
	h       *Harness
	calls   map[string]int
	mu      sync.Mutex
}

// NewComponent creates a component bound to loop's scheduling primitives.
func NewComponent(h *Harness, loop *Loop, kind string) *Component {
	return &Component{
		Methods: calltrace.NewMethodSet().
			Define(calltrace.MethodDebounce, calltrace.Debounce(loop.debouncer(kind))).
			Define(calltrace.MethodAsync, calltrace.Async(loop.async)).
			Define(calltrace.MethodListen, calltrace.Listen(loop.listen)),
		Kind:  kind,
		h:     h,
		calls: make(map[string]int),
	}
}

// Method defines name to advance the clock by latency, then run body.
func (c *Component) Method(name string, latency time.Duration, body func(args ...any)) *Component {
	c.Methods.Define(name, func(args ...any) any {
		c.mu.Lock()
		c.calls[name]++
		c.mu.Unlock()
		c.h.Clock.Advance(latency)
		if body != nil {
			body(args...)
		}
		return nil
	})
	return c
}

// Register offers the component to the tracer under a path inside the app.
func (c *Component) Register(lifecycle string, methods ...string) bool {
	return c.h.Tracer.Register(calltrace.Registration{
		Target:    c.Methods,
		Kind:      c.Kind,
		Path:      "/app/components/" + c.Kind + ".go",
		Lifecycle: lifecycle,
		Methods:   methods,
	})
}

// Call invokes name through the method set.
func (c *Component) Call(name string, args ...any) {
	c.Methods.Call(name, args...)
}

// Calls returns how often name ran.
func (c *Component) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// TreeAnalyzer provides tree-level assertions over one completed call tree.
type TreeAnalyzer struct {
	root   *calltrace.Span
	bySite map[string][]*calltrace.Span
	parent map[*calltrace.Span]*calltrace.Span
	count  int
}

// NewTreeAnalyzer indexes root.
func NewTreeAnalyzer(root *calltrace.Span) *TreeAnalyzer {
	a := &TreeAnalyzer{
		root:   root,
		bySite: make(map[string][]*calltrace.Span),
		parent: make(map[*calltrace.Span]*calltrace.Span),
	}
	root.Walk(func(s *calltrace.Span) bool {
		a.count++
		a.bySite[s.Site()] = append(a.bySite[s.Site()], s)
		for _, child := range s.Children {
			a.parent[child] = s
		}
		return true
	})
	return a
}

// CountSpans returns the number of spans in the tree.
func (a *TreeAnalyzer) CountSpans() int {
	return a.count
}

// SpansAt returns every span of site in pre-order.
func (a *TreeAnalyzer) SpansAt(site string) []*calltrace.Span {
	return a.bySite[site]
}

// VerifyChain checks that the first span of each site is a child of the
// first span of the previous site.
func (a *TreeAnalyzer) VerifyChain(sites ...string) error {
	if len(sites) < 2 {
		return fmt.Errorf("chain requires at least 2 spans")
	}
	var prev *calltrace.Span
	for i, site := range sites {
		spans := a.bySite[site]
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", site)
		}
		span := spans[0]
		if i > 0 && a.parent[span] != prev {
			return fmt.Errorf("broken chain: %s is not child of %s", site, sites[i-1])
		}
		prev = span
	}
	return nil
}

// CriticalPath returns the root-to-leaf path that descends into the slowest
// child at every level.
func (a *TreeAnalyzer) CriticalPath() []string {
	var path []string
	for s := a.root; s != nil; {
		path = append(path, s.Site())
		var slowest *calltrace.Span
		for _, child := range s.Children {
			if slowest == nil || child.Duration > slowest.Duration {
				slowest = child
			}
		}
		s = slowest
	}
	return path
}

// PrintTree formats the tree for debugging.
func PrintTree(root *calltrace.Span) string {
	var sb strings.Builder
	var walk func(s *calltrace.Span, depth int)
	walk = func(s *calltrace.Span, depth int) {
		fmt.Fprintf(&sb, "%s%s (%.2fms)\n",
			strings.Repeat("  ", depth), s.Site(), s.Duration.Seconds()*1000)
		for _, child := range s.Children {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return sb.String()
}
