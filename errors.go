package calltrace

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMiscall matches any *MiscallWrapError.
	ErrMiscall = errors.New("wrapped callback invoked more than once")

	// ErrCorrelationMiss is reported when a scheduled callback fires without a
	// matching schedule entry. It is a warning; the callback still runs.
	ErrCorrelationMiss = errors.New("callback fired without a matching schedule")
)

// MiscallWrapError reports a rewritten callback that was invoked more than
// once where exactly one invocation is assumed.
type MiscallWrapError struct {
	Site  string
	Calls int
}

func (e *MiscallWrapError) Error() string {
	return fmt.Sprintf("%s: rewritten callback invoked %d times, expected exactly once", e.Site, e.Calls)
}

// Is makes errors.Is(err, ErrMiscall) match.
func (*MiscallWrapError) Is(target error) bool {
	return target == ErrMiscall
}

// ErrorHandler receives non-fatal tracer errors.
type ErrorHandler func(err error)
