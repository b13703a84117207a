package calltrace

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// RootHandler is called with every completed call tree.
type RootHandler func(root *Span)

// FlushHandler is called with every aggregate of a reporting cycle, before
// the registry is cleared.
type FlushHandler func(aggs []Aggregate)

type handlerEntry struct {
	root  RootHandler
	flush FlushHandler
	id    uint64
}

// Tracer records intercepted calls as span trees, aggregates them per call
// site and correlates scheduled callbacks with their firing.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	stack        []*Span
	debounces    map[debounceKey]*debounceEntry
	asyncs       map[uint64]asyncEntry
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	errHandler   ErrorHandler
	sink         Sink
	logger       *zap.Logger
	cfg          *Config
	registry     *Registry
	renderer     *Renderer
	clock        clockz.Clock
	mu           sync.Mutex // Protects stack and correlation tables.
	handlersLock sync.RWMutex
	nextID       atomic.Uint64
}

// New creates a tracer reading its settings from cfg.
// Uses the real clock and writes reports to stdout.
func New(cfg *Config) *Tracer {
	return newTracer(cfg, clockz.RealClock, NewConsoleSink(os.Stdout, cfg), zap.NewNop())
}

// WithClock returns a new tracer with the specified clock, sharing the
// config, sink and logger. Enables clock injection for deterministic testing.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return newTracer(t.cfg, clock, t.sink, t.logger)
}

func newTracer(cfg *Config, clock clockz.Clock, sink Sink, logger *zap.Logger) *Tracer {
	return &Tracer{
		debounces: make(map[debounceKey]*debounceEntry),
		asyncs:    make(map[uint64]asyncEntry),
		handlers:  make([]handlerEntry, 0),
		sink:      sink,
		logger:    logger,
		cfg:       cfg,
		registry:  NewRegistry(),
		renderer:  NewRenderer(cfg),
		clock:     clock,
	}
}

// Config returns the live settings holder.
func (t *Tracer) Config() *Config {
	return t.cfg
}

// Registry returns the call-site registry.
func (t *Tracer) Registry() *Registry {
	return t.registry
}

// SetSink replaces the report destination.
func (t *Tracer) SetSink(sink Sink) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.sink = sink
}

// SetLogger replaces the diagnostic logger.
func (t *Tracer) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.logger = logger
}

// SetPanicHook sets a function to be called when a handler or sink panics.
// Render failures use handler ID 0.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// OnError sets the receiver of non-fatal errors such as *MiscallWrapError and
// ErrCorrelationMiss. Without one, errors are logged at warn level.
func (t *Tracer) OnError(handler ErrorHandler) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.errHandler = handler
}

// OnRootComplete registers a handler called after each call tree is rendered.
func (t *Tracer) OnRootComplete(handler RootHandler) uint64 {
	if handler == nil {
		return 0
	}
	return t.registerHandler(handlerEntry{root: handler})
}

// OnFlush registers a handler called with each cycle's aggregates.
func (t *Tracer) OnFlush(handler FlushHandler) uint64 {
	if handler == nil {
		return 0
	}
	return t.registerHandler(handlerEntry{flush: handler})
}

func (t *Tracer) registerHandler(entry handlerEntry) uint64 {
	entry.id = t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, entry)
	return entry.id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// Begin opens a span for kind.method as a child of the innermost open span.
// The call path is captured for root spans when enabled.
func (t *Tracer) Begin(kind Kind, method Key) *ActiveSpan {
	capture := t.cfg.view().CapturePath

	t.mu.Lock()
	defer t.mu.Unlock()

	span := &Span{
		Kind:   kind,
		Method: method,
		Depth:  len(t.stack),
	}
	if span.Depth == 0 && capture {
		span.CallPath = captureCallPath()
	}
	if span.Depth > 0 {
		parent := t.stack[span.Depth-1]
		parent.Children = append(parent.Children, span)
	}
	t.stack = append(t.stack, span)
	span.StartTime = t.clock.Now()

	return &ActiveSpan{span: span, tracer: t}
}

// end closes span, records it and completes the tree if it was the root.
func (t *Tracer) end(span *Span, opts []FinishOption) {
	t.pop(span, t.clock.Now(), opts)
	t.registry.Record(span.Kind, span.Method, span.Duration)
	if span.Depth == 0 {
		t.completeRoot(span)
	}
}

// pop removes span from the top of the stack and stamps its duration.
// Mismatched pairing corrupts the tree and panics.
func (t *Tracer) pop(span *Span, now time.Time, opts []FinishOption) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if span.closed {
		panic(errors.AssertionFailedf("span %s finished twice", span.Site()))
	}
	n := len(t.stack)
	if n == 0 || t.stack[n-1] != span {
		top := "<none>"
		if n > 0 {
			top = t.stack[n-1].Site()
		}
		panic(errors.AssertionFailedf("span %s finished out of order, innermost open span is %s", span.Site(), top))
	}
	t.stack[n-1] = nil
	t.stack = t.stack[:n-1]

	span.Duration = now.Sub(span.StartTime)
	if span.Duration < 0 {
		span.Duration = 0
	}
	for _, opt := range opts {
		opt(span)
	}
	span.closed = true
}

// completeRoot renders the finished tree, then runs root handlers.
func (t *Tracer) completeRoot(root *Span) {
	t.handlersLock.RLock()
	sink := t.sink
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.handlersLock.RUnlock()

	if sink != nil {
		t.safeCall(0, func() { t.renderer.Render(root, sink) })
	}
	for _, h := range handlers {
		if h.root != nil {
			t.safeCall(h.id, func() { h.root(root) })
		}
	}
}

// Flush ends the current reporting cycle: flush handlers receive every
// aggregate, sites above the threshold are summarized to the sink, and the
// registry is cleared. Call it once per frame, or use RunFrames.
func (t *Tracer) Flush() []Aggregate {
	aggs := t.registry.Drain()
	if len(aggs) == 0 {
		return nil
	}

	t.handlersLock.RLock()
	sink := t.sink
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if h.flush != nil {
			t.safeCall(h.id, func() { h.flush(aggs) })
		}
	}

	settings := t.cfg.view()
	if settings.Enabled && settings.TallyCalls && sink != nil {
		shown := AboveThreshold(aggs, settings.Threshold)
		t.safeCall(0, func() { renderSummary(shown, sink) })
	}
	return aggs
}

// RunFrames flushes every interval on the tracer's clock until ctx is done.
func (t *Tracer) RunFrames(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(interval):
			t.Flush()
		}
	}
}

func (t *Tracer) safeCall(id uint64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			logger := t.logger
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(id, r)
				return
			}
			logger.Error("calltrace handler panicked", zap.Uint64("handler", id), zap.Any("panic", r))
		}
	}()
	fn()
}

func (t *Tracer) reportError(err error) {
	t.handlersLock.RLock()
	handler := t.errHandler
	logger := t.logger
	t.handlersLock.RUnlock()

	if handler != nil {
		handler(err)
		return
	}
	logger.Warn("calltrace", zap.Error(err))
}

// Depth returns the number of open spans.
func (t *Tracer) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// Pending returns the number of scheduled callbacks that have not fired.
func (t *Tracer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.debounces) + len(t.asyncs)
}

// ShouldInstrument applies the live inclusion policy.
func (t *Tracer) ShouldInstrument(path, owner string) bool {
	return t.cfg.ShouldInstrument(path, owner)
}

// Reset discards open spans, pending correlations and aggregates.
func (t *Tracer) Reset() {
	t.mu.Lock()
	t.stack = nil
	clear(t.debounces)
	clear(t.asyncs)
	t.mu.Unlock()

	t.registry.Reset()
}

// Close removes all handlers and flushes the logger.
// This should be called when the tracer is no longer needed.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	logger := t.logger
	t.handlersLock.Unlock()

	_ = logger.Sync()
}
