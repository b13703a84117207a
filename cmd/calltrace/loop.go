package main

import (
	"sort"
	"time"

	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/clockz"
)

type task struct {
	at  time.Time
	fn  func()
	key string
	seq uint64
}

// eventLoop is a single-threaded timer queue with an event bus, the host
// runtime the demo components schedule their work on.
type eventLoop struct {
	clock     clockz.Clock
	tasks     []*task
	listeners map[string][]func(any)
	seq       uint64
}

func newEventLoop(clock clockz.Clock) *eventLoop {
	return &eventLoop{clock: clock, listeners: make(map[string][]func(any))}
}

func (l *eventLoop) push(key string, fn func(), delay time.Duration) {
	l.seq++
	l.tasks = append(l.tasks, &task{at: l.clock.Now().Add(delay), fn: fn, key: key, seq: l.seq})
}

// debouncer returns a debounce primitive whose keys are private to owner.
// Re-issuing a key replaces the pending callback.
func (l *eventLoop) debouncer(owner string) calltrace.DebounceFunc {
	return func(key string, fn func(), delay time.Duration) {
		full := owner + "/" + key
		for i, t := range l.tasks {
			if t.key == full {
				l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
				break
			}
		}
		l.push(full, fn, delay)
	}
}

func (l *eventLoop) async(fn func(), delay time.Duration) {
	l.push("", fn, delay)
}

func (l *eventLoop) listen(event string, handler func(any)) {
	l.listeners[event] = append(l.listeners[event], handler)
}

func (l *eventLoop) emit(event string, payload any) {
	for _, h := range l.listeners[event] {
		h(payload)
	}
}

// runUntil runs due tasks in deadline order, sleeping between them, and
// returns once no task is due before deadline.
func (l *eventLoop) runUntil(deadline time.Time) {
	for {
		sort.SliceStable(l.tasks, func(i, j int) bool {
			if !l.tasks[i].at.Equal(l.tasks[j].at) {
				return l.tasks[i].at.Before(l.tasks[j].at)
			}
			return l.tasks[i].seq < l.tasks[j].seq
		})
		if len(l.tasks) == 0 || l.tasks[0].at.After(deadline) {
			if wait := deadline.Sub(l.clock.Now()); wait > 0 {
				l.clock.Sleep(wait)
			}
			return
		}
		next := l.tasks[0]
		l.tasks = l.tasks[1:]
		if wait := next.at.Sub(l.clock.Now()); wait > 0 {
			l.clock.Sleep(wait)
		}
		next.fn()
	}
}

func (l *eventLoop) pending() int {
	return len(l.tasks)
}
