// Package calltrace provides a call-interception tracer for components
// managed by a host lifecycle framework.
//
// calltrace decorates selected methods of a component so that every call is
// timed and placed in a call tree. When the outermost call returns, the tree
// is rendered as a threshold-filtered, nested report. Calls that are scheduled
// now but executed later (debounce and async primitives) are correlated with
// their eventual firing.
//
// Core Components:
//   - Tracer: Owns the span stack, the call-site registry and the correlator.
//   - MethodSet: The explicit capability interface a component exposes.
//   - Wrap: Inserts pre/post hooks and argument rewriting around a method.
//   - Registry: Per call-site tallies flushed once per reporting cycle.
//   - Sink: Destination for rendered reports (console, zap, recording).
//
// Basic Usage:
//
//	cfg := calltrace.MustConfig(calltrace.DefaultSettings())
//	tracer := calltrace.New(cfg)
//	defer tracer.Close()
//
//	methods := calltrace.NewMethodSet().
//		Define("created", created).
//		Define("render", render)
//
//	tracer.Register(calltrace.Registration{
//		Target:    methods,
//		Kind:      "x-widget",
//		Lifecycle: "created",
//		Methods:   []string{"render"},
//	})
//
//	methods.Call("created")
//
//	// Once per frame.
//	tracer.Flush()
//
// Execution Model:
//
// Spans form a strict LIFO stack and assume a single logical execution
// context, such as an event loop. The Tracer guards its state with a mutex so
// callbacks delivered on timer goroutines are memory safe, but interleaving
// two synchronous call chains on different goroutines corrupts the tree.
//
// Settings are held by a Config and re-read at every decision point, so
// toggling Enabled or Threshold at runtime takes effect immediately.
package calltrace

// Key represents a method name on an instrumented component.
type Key = string

// Kind identifies the category of an instrumented component.
type Kind = string

// Well-known scheduling slots recognized at registration.
const (
	MethodDebounce Key = "debounce"
	MethodAsync    Key = "async"
	MethodListen   Key = "listen"
)
