package calltrace

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// fakeClock is the subset of clockz.FakeClock the tests drive.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

// fixture bundles a tracer on a fake clock with a recording sink.
type fixture struct {
	tracer *Tracer
	clock  fakeClock
	sink   *RecordingSink
	errs   *errorLog
	roots  []*Span
}

type errorLog struct {
	errs []error
	mu   sync.Mutex
}

func (e *errorLog) add(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errorLog) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

func newFixture(t *testing.T, mutate func(*Settings)) *fixture {
	t.Helper()

	s := DefaultSettings()
	s.CapturePath = false
	s.Threshold = 5 * time.Millisecond
	if mutate != nil {
		mutate(&s)
	}
	cfg, err := NewConfig(s)
	if err != nil {
		t.Fatalf("invalid settings: %v", err)
	}

	clock := clockz.NewFakeClock()
	f := &fixture{
		tracer: New(cfg).WithClock(clock),
		clock:  clock,
		sink:   NewRecordingSink(),
		errs:   &errorLog{},
	}
	f.tracer.SetSink(f.sink)
	f.tracer.OnError(f.errs.add)
	f.tracer.OnRootComplete(func(root *Span) {
		f.roots = append(f.roots, root)
	})
	t.Cleanup(f.tracer.Close)
	return f
}

// lastRoot returns the most recently completed call tree.
func (f *fixture) lastRoot(t *testing.T) *Span {
	t.Helper()
	if len(f.roots) == 0 {
		t.Fatal("no call tree completed")
	}
	return f.roots[len(f.roots)-1]
}

// fakeLoop is a single-threaded host scheduler. Nothing fires until the
// test says so.
type fakeLoop struct {
	debounced map[string]func()
	history   []func()
	queued    []func()
	listeners map[string][]func(any)
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		debounced: make(map[string]func()),
		listeners: make(map[string][]func(any)),
	}
}

func (l *fakeLoop) debounce(key string, fn func(), _ time.Duration) {
	l.debounced[key] = fn
	l.history = append(l.history, fn)
}

func (l *fakeLoop) async(fn func(), _ time.Duration) {
	l.queued = append(l.queued, fn)
}

func (l *fakeLoop) listen(event string, handler func(any)) {
	l.listeners[event] = append(l.listeners[event], handler)
}

// fire runs the current debounced callback for key.
func (l *fakeLoop) fire(key string) {
	fn, ok := l.debounced[key]
	if !ok {
		return
	}
	delete(l.debounced, key)
	fn()
}

// drain runs every queued async callback in order.
func (l *fakeLoop) drain() {
	queued := l.queued
	l.queued = nil
	for _, fn := range queued {
		fn()
	}
}

func (l *fakeLoop) emit(event string, payload any) {
	for _, h := range l.listeners[event] {
		h(payload)
	}
}

// methods returns a method set exposing the loop's scheduling primitives.
func (l *fakeLoop) methods() *MethodSet {
	return NewMethodSet().
		Define(MethodDebounce, Debounce(l.debounce)).
		Define(MethodAsync, Async(l.async)).
		Define(MethodListen, Listen(l.listen))
}

// sites flattens a tree into "kind.method" in pre-order.
func sites(root *Span) []string {
	var out []string
	root.Walk(func(s *Span) bool {
		out = append(out, s.Site())
		return true
	})
	return out
}
