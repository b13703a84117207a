package calltrace

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

const maxCallDepth = 64

// pkgPrefix identifies frames that belong to the tracer itself.
var pkgPrefix = reflect.TypeOf(Span{}).PkgPath() + "."

// ownFrame reports whether f is tracer machinery rather than caller code.
// Test files of this package count as caller code.
func ownFrame(f runtime.Frame) bool {
	if strings.HasPrefix(f.Function, "runtime.") {
		return true
	}
	return strings.HasPrefix(f.Function, pkgPrefix) && !strings.HasSuffix(f.File, "_test.go")
}

// callerFrames returns the current goroutine's frames outside the tracer.
func callerFrames() []runtime.Frame {
	pcs := make([]uintptr, maxCallDepth)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var result []runtime.Frame
	for {
		frame, more := frames.Next()
		if !ownFrame(frame) {
			result = append(result, frame)
		}
		if !more {
			break
		}
	}
	return result
}

// captureCallPath serializes the originating call path, innermost first.
func captureCallPath() string {
	frames := callerFrames()
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		lines = append(lines, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
	}
	return strings.Join(lines, "\n")
}

// CallerPath returns the source file of the nearest caller outside the tracer,
// used as the call-site path for inclusion decisions.
func CallerPath() string {
	frames := callerFrames()
	if len(frames) == 0 {
		return ""
	}
	return frames[0].File
}
