package calltrace

import (
	"go.uber.org/zap"
)

// Registration describes a component offered for instrumentation.
type Registration struct {
	// Target exposes the component's methods.
	Target Target
	// Kind is the owner kind shown in reports, e.g. the component type name.
	Kind Kind
	// ID is the owner identifier matched by the inclusion policy.
	// Defaults to Kind.
	ID string
	// Path is the call-site path matched by the inclusion policy.
	// Defaults to the source file of the caller of Register.
	Path string
	// Lifecycle is the lifecycle hook to trace, e.g. "created".
	Lifecycle Key
	// Methods lists further methods to trace.
	Methods []Key
}

// Register instruments r.Target if the inclusion policy allows it and reports
// whether it did. The decision is made once; later settings changes do not
// re-evaluate it. Missing methods are skipped.
//
// The debounce, async and listen slots are traced through the scheduling
// correlator when present.
func (t *Tracer) Register(r Registration) bool {
	if r.Target == nil {
		return false
	}
	path := r.Path
	if path == "" {
		path = CallerPath()
	}
	owner := r.ID
	if owner == "" {
		owner = r.Kind
	}

	t.handlersLock.RLock()
	logger := t.logger
	t.handlersLock.RUnlock()

	if !t.cfg.ShouldInstrument(path, owner) {
		logger.Debug("skipping "+r.Kind, zap.String("path", path), zap.String("owner", owner))
		return false
	}
	logger.Debug("applying to "+r.Kind, zap.String("path", path), zap.String("owner", owner))

	id := t.nextID.Add(1)
	t.traceDebounce(r.Target, r.Kind, id)
	t.traceAsync(r.Target, r.Kind)
	t.traceListen(r.Target, r.Kind)

	seen := map[Key]bool{
		MethodDebounce: true,
		MethodAsync:    true,
		MethodListen:   true,
	}
	if r.Lifecycle != "" && !seen[r.Lifecycle] {
		seen[r.Lifecycle] = true
		t.traceMethod(r.Target, r.Kind, r.Lifecycle)
	}
	for _, name := range r.Methods {
		if seen[name] {
			continue
		}
		seen[name] = true
		t.traceMethod(r.Target, r.Kind, name)
	}
	return true
}

// traceMethod opens a span around every call of name.
func (t *Tracer) traceMethod(target Target, kind Kind, name Key) bool {
	return Wrap(target, name,
		func([]any) any { return t.Begin(kind, name) },
		func(token any, _ []any) { token.(*ActiveSpan).Finish() },
		nil)
}
