// Package ensure implements the Invariant error class from the error
// handling design: violations of internal contracts panic with a captured
// stack trace rather than being returned as errors, since by definition the
// caller has no sane recovery path for them.
package ensure

import (
	"fmt"
	"runtime"
)

// Violation is the panic value raised by Ensure and Failf. It carries the
// formatted message together with the program counters captured at the
// violation site, so a top-level recover() can log a real stack instead of
// just "panic: something went wrong".
type Violation struct {
	Message string
	Stack   []uintptr
}

func (v *Violation) Error() string {
	return v.Message
}

// StackTrace renders the captured program counters as a human-readable
// stack, one frame per line.
func (v *Violation) StackTrace() string {
	frames := runtime.CallersFrames(v.Stack)
	out := ""
	for {
		frame, more := frames.Next()
		out += fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return out
}

// Ensure panics with a Violation if cond is false. fields are interleaved
// key/value pairs, same convention as log.Logger.Msg.
func Ensure(cond bool, msg string, fields ...interface{}) {
	if cond {
		return
	}
	Failf(msg, fields...)
}

// Failf unconditionally raises a Violation, formatting fields as key=value
// suffixes.
func Failf(msg string, fields ...interface{}) {
	full := msg
	for i := 0; i+1 < len(fields); i += 2 {
		full += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}

	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	panic(&Violation{Message: full, Stack: pcs[:n]})
}

// Recover should be deferred at the top of any goroutine that must survive
// an Invariant violation (e.g. a queue worker), turning the panic back into
// an error the caller logs and moves on from.
func Recover(onViolation func(err error)) {
	r := recover()
	if r == nil {
		return
	}
	if v, ok := r.(*Violation); ok {
		onViolation(v)
		return
	}
	panic(r)
}
