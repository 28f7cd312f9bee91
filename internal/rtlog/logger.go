// Package rtlog is a minimal io.Writer-backed logger for user-facing
// progress text, adapted from golang-dep/log/logger.go. There is
// deliberately no structured/leveled logging framework here: the solver's
// own verbose tracing (gated by SolverTask-level trace settings, in the
// style of golang-dep/trace.go) is the one place this repo needs anything
// richer, and it keeps that concern to itself rather than routing through
// this package.
package rtlog

import (
	"fmt"
	"io"
	"os"
)

// Logger is a thin wrapper around an io.Writer.
type Logger struct {
	io.Writer
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Default returns a Logger writing to os.Stderr, the destination every
// orbit command uses unless a caller wires up something else.
func Default() *Logger {
	return New(os.Stderr)
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string.
func (l *Logger) Logf(format string, args ...interface{}) {
	fmt.Fprintf(l, format, args...)
}

// LogOrbitfln logs a formatted line prefixed with "orbit: ".
func (l *Logger) LogOrbitfln(format string, args ...interface{}) {
	fmt.Fprintf(l, "orbit: "+format+"\n", args...)
}
