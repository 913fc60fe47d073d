// Package log is a thin wrapper around the standard library logger, matching
// the teacher's convention of tagging lines by subsystem rather than pulling
// in a structured-logging dependency for what is, in the CORE, just
// stderr-directed diagnostics (see SPEC_FULL.md "Logging").
package log

import (
	"io"
	stdlog "log"
	"os"
)

// Logger prints tagged, timestamped lines to an underlying writer.
type Logger struct {
	l *stdlog.Logger
}

// New returns a Logger writing to w. If w is nil, it writes to os.Stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{l: stdlog.New(w, "", stdlog.LstdFlags|stdlog.Lmicroseconds)}
}

// Printf writes a formatted log line.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil || l.l == nil {
		return
	}
	l.l.Printf(format, args...)
}

// std is the package-level logger used by code that has no per-session
// Logger threaded through (mirrors the teacher's internal/log.Printf free
// function usage from client code paths).
var std = New(os.Stderr)

func Printf(format string, args ...interface{}) { std.Printf(format, args...) }

// SetOutput redirects the package-level logger, used by tests.
func SetOutput(w io.Writer) { std = New(w) }
