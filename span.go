package calltrace

import (
	"time"
)

// Span represents a single intercepted call and its position in the call tree.
// Spans are owned by the Tracer until the root closes; do not retain them
// across reporting cycles.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Children  []*Span       `json:"children,omitempty"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Kind      Kind          `json:"kind"`
	Method    Key           `json:"method"`
	Message   string        `json:"message,omitempty"`
	CallPath  string        `json:"call_path,omitempty"`
	Depth     int           `json:"depth"`
	closed    bool
}

// Site returns the call-site key used for aggregation.
func (s *Span) Site() string {
	return s.Kind + "." + s.Method
}

// Closed reports whether the span has been finished.
// Duration is meaningless until it is.
func (s *Span) Closed() bool {
	return s.closed
}

// Walk visits the span and its descendants in pre-order.
// Returning false from fn skips the children of that span.
func (s *Span) Walk(fn func(*Span) bool) {
	if !fn(s) {
		return
	}
	for _, child := range s.Children {
		child.Walk(fn)
	}
}

// FinishOption annotates a span as it closes.
type FinishOption func(*Span)

// WithMessage attaches a human-readable annotation to the span.
func WithMessage(msg string) FinishOption {
	return func(s *Span) {
		s.Message = msg
	}
}

// ActiveSpan is an open span on the tracer's stack.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
}

// Span returns the underlying span.
func (a *ActiveSpan) Span() *Span {
	return a.span
}

// Finish closes the span. The span must be the innermost open span;
// closing out of order or twice panics with an assertion failure.
func (a *ActiveSpan) Finish(opts ...FinishOption) {
	a.tracer.end(a.span, opts)
}
