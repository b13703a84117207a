package calltrace

import (
	"sort"
	"sync"
	"time"
)

// Func is the uniform shape of an instrumentable method.
type Func func(args ...any) any

// PreHook runs before the wrapped method with the original arguments.
// Its return value is handed to the PostHook of the same invocation.
type PreHook func(args []any) any

// PostHook runs after the wrapped method with the original arguments.
type PostHook func(token any, args []any)

// ArgRewrite runs first and returns the arguments the wrapped method receives.
// It is given a copy; the hooks still see the original arguments.
type ArgRewrite func(args []any) []any

// Target is anything whose named methods can be decorated.
type Target interface {
	Lookup(name Key) (Func, bool)
	Replace(name Key, fn Func)
}

// MethodSet is the capability interface a component exposes to the tracer.
// Components call their own methods through Call so decorations apply.
// Safe for concurrent use.
type MethodSet struct {
	methods map[Key]Func
	mu      sync.RWMutex
}

// NewMethodSet creates an empty method set.
func NewMethodSet() *MethodSet {
	return &MethodSet{methods: make(map[Key]Func)}
}

// Define adds or overwrites a method and returns the set for chaining.
func (m *MethodSet) Define(name Key, fn Func) *MethodSet {
	m.Replace(name, fn)
	return m
}

// Lookup returns the current implementation of name.
func (m *MethodSet) Lookup(name Key) (Func, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[name]
	return fn, ok && fn != nil
}

// Replace swaps the implementation of name in place.
func (m *MethodSet) Replace(name Key, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[name] = fn
}

// Call invokes name with args. Calling an undefined method returns nil.
func (m *MethodSet) Call(name Key, args ...any) any {
	fn, ok := m.Lookup(name)
	if !ok {
		return nil
	}
	return fn(args...)
}

// Names returns the defined method names in sorted order.
func (m *MethodSet) Names() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]Key, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wrap decorates target's method name with the given hooks, any of which may
// be nil. It reports whether the method was wrapped; a missing or nil method
// is skipped without error.
//
// Each invocation runs rewrite, pre, the original method with the rewritten
// arguments, then post. The original return value is passed through. Post
// also runs when the method panics, and the panic is propagated.
func Wrap(target Target, name Key, pre PreHook, post PostHook, rewrite ArgRewrite) bool {
	if target == nil {
		return false
	}
	orig, ok := target.Lookup(name)
	if !ok {
		return false
	}

	target.Replace(name, func(args ...any) any {
		processed := args
		if rewrite != nil {
			processed = rewrite(append([]any(nil), args...))
		}

		var token any
		if pre != nil {
			token = pre(args)
		}
		if post != nil {
			defer post(token, args)
		}
		return orig(processed...)
	})
	return true
}

// DebounceFunc is the keyed, superseding scheduling shape.
type DebounceFunc func(key string, fn func(), delay time.Duration)

// AsyncFunc is the one-shot deferred scheduling shape.
type AsyncFunc func(fn func(), delay time.Duration)

// ListenFunc is the event registration shape.
type ListenFunc func(event string, handler func(any))

// Debounce adapts a typed debounce primitive to a Func slot.
func Debounce(fn DebounceFunc) Func {
	return func(args ...any) any {
		key, cb, delay, ok := debounceArgs(args)
		if !ok {
			return nil
		}
		fn(key, cb, delay)
		return nil
	}
}

// Async adapts a typed async primitive to a Func slot.
func Async(fn AsyncFunc) Func {
	return func(args ...any) any {
		cb, delay, ok := asyncArgs(args)
		if !ok {
			return nil
		}
		fn(cb, delay)
		return nil
	}
}

// Listen adapts a typed event registration primitive to a Func slot.
func Listen(fn ListenFunc) Func {
	return func(args ...any) any {
		if len(args) < 2 {
			return nil
		}
		event, ok := args[0].(string)
		if !ok {
			return nil
		}
		handler, ok := args[1].(func(any))
		if !ok {
			return nil
		}
		fn(event, handler)
		return nil
	}
}

func debounceArgs(args []any) (key string, cb func(), delay time.Duration, ok bool) {
	if len(args) < 2 {
		return "", nil, 0, false
	}
	if key, ok = args[0].(string); !ok {
		return "", nil, 0, false
	}
	if cb, ok = args[1].(func()); !ok || cb == nil {
		return "", nil, 0, false
	}
	if len(args) > 2 {
		delay, _ = args[2].(time.Duration)
	}
	return key, cb, delay, true
}

func asyncArgs(args []any) (cb func(), delay time.Duration, ok bool) {
	if len(args) < 1 {
		return nil, 0, false
	}
	if cb, ok = args[0].(func()); !ok || cb == nil {
		return nil, 0, false
	}
	if len(args) > 1 {
		delay, _ = args[1].(time.Duration)
	}
	return cb, delay, true
}
