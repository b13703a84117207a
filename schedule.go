package calltrace

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// debounceKey scopes a debounce key to one registered component.
type debounceKey struct {
	key   string
	owner uint64
}

type debounceEntry struct {
	requestedAt time.Time
	tally       int
	generation  uint64
}

type asyncEntry struct {
	requestedAt time.Time
}

// scheduled carries the scheduling span from pre to post hook.
type scheduled struct {
	span *ActiveSpan
	msg  string
}

func finishScheduled(token any, _ []any) {
	if s, ok := token.(scheduled); ok {
		s.span.Finish(WithMessage(s.msg))
	}
}

// traceDebounce correlates keyed, superseding schedules with the firing of
// the last one. Each re-issue under a key bumps the tally and restarts the
// request clock; a superseded callback that fires anyway is a miss.
func (t *Tracer) traceDebounce(target Target, kind Kind, owner uint64) bool {
	rewrite := func(args []any) []any {
		key, cb, delay, ok := debounceArgs(args)
		if !ok {
			return args
		}
		k := debounceKey{key: key, owner: owner}
		gen := t.nextID.Add(1)
		now := t.clock.Now()

		t.mu.Lock()
		entry, ok := t.debounces[k]
		if !ok {
			entry = &debounceEntry{}
			t.debounces[k] = entry
		}
		entry.tally++
		entry.requestedAt = now
		entry.generation = gen
		t.mu.Unlock()

		args[1] = t.debounceCallback(kind, k, gen, cb, delay)
		return args
	}

	pre := func(args []any) any {
		var msg string
		if key, _, delay, ok := debounceArgs(args); ok {
			superseded := 0
			t.mu.Lock()
			if entry, ok := t.debounces[debounceKey{key: key, owner: owner}]; ok {
				superseded = entry.tally - 1
			}
			t.mu.Unlock()
			msg = fmt.Sprintf("function with '%s' will be called in %s. Called %d times before", key, millis(delay), superseded)
		}
		return scheduled{span: t.Begin(kind, MethodDebounce), msg: msg}
	}

	return Wrap(target, MethodDebounce, pre, finishScheduled, rewrite)
}

func (t *Tracer) debounceCallback(kind Kind, k debounceKey, gen uint64, cb func(), delay time.Duration) func() {
	method := fmt.Sprintf("debounce('%s')", k.key)
	var calls atomic.Int32

	return func() {
		if !t.admit(&calls, kind+"."+method) {
			cb()
			return
		}

		now := t.clock.Now()
		t.mu.Lock()
		entry, ok := t.debounces[k]
		matched := ok && entry.generation == gen
		var fired debounceEntry
		if matched {
			fired = *entry
			delete(t.debounces, k)
		}
		t.mu.Unlock()

		var msg string
		if matched {
			msg = fmt.Sprintf("debounce callback with '%s' getting called after %s after requesting %s. Called %d times before firing",
				k.key, millis(now.Sub(fired.requestedAt)), millis(delay), fired.tally)
		} else {
			t.reportError(errors.Wrapf(ErrCorrelationMiss, "%s.%s", kind, method))
			msg = fmt.Sprintf("debounce callback with '%s' fired without a matching schedule", k.key)
		}

		span := t.Begin(kind, method)
		defer span.Finish(WithMessage(msg))
		cb()
	}
}

// traceAsync correlates one-shot deferred calls with their firing. Entries
// are keyed by a generation token, so no reference to the callback is kept.
func (t *Tracer) traceAsync(target Target, kind Kind) bool {
	rewrite := func(args []any) []any {
		cb, delay, ok := asyncArgs(args)
		if !ok {
			return args
		}
		token := t.nextID.Add(1)
		now := t.clock.Now()

		t.mu.Lock()
		t.asyncs[token] = asyncEntry{requestedAt: now}
		t.mu.Unlock()

		args[0] = t.asyncCallback(kind, token, cb, delay)
		return args
	}

	pre := func(args []any) any {
		var msg string
		if _, delay, ok := asyncArgs(args); ok {
			msg = fmt.Sprintf("async function will be called in %s", millis(delay))
		}
		return scheduled{span: t.Begin(kind, MethodAsync), msg: msg}
	}

	return Wrap(target, MethodAsync, pre, finishScheduled, rewrite)
}

func (t *Tracer) asyncCallback(kind Kind, token uint64, cb func(), delay time.Duration) func() {
	const method = "async callback"
	var calls atomic.Int32

	return func() {
		if !t.admit(&calls, kind+"."+method) {
			cb()
			return
		}

		now := t.clock.Now()
		t.mu.Lock()
		entry, ok := t.asyncs[token]
		delete(t.asyncs, token)
		t.mu.Unlock()

		var msg string
		if ok {
			msg = fmt.Sprintf("async function called after %s after requesting %s", millis(now.Sub(entry.requestedAt)), millis(delay))
		} else {
			t.reportError(errors.Wrapf(ErrCorrelationMiss, "%s.%s", kind, method))
			msg = "async function fired without a matching schedule"
		}

		span := t.Begin(kind, method)
		defer span.Finish(WithMessage(msg))
		cb()
	}
}

// traceListen keeps event registration inside the current span's timing.
// Registered handlers are not wrapped; only the registration is traced.
func (t *Tracer) traceListen(target Target, kind Kind) bool {
	return t.traceMethod(target, kind, MethodListen)
}

// admit counts an invocation of a rewritten callback and reports whether it
// is the first. The second invocation reports a *MiscallWrapError; later ones
// are passed through silently.
func (t *Tracer) admit(calls *atomic.Int32, site string) bool {
	n := calls.Add(1)
	if n == 1 {
		return true
	}
	if n == 2 {
		t.reportError(&MiscallWrapError{Site: site, Calls: int(n)})
	}
	return false
}
