// Package klog provides the structured logger every command and
// background subsystem in this module writes through, wrapping
// github.com/rs/zerolog the way other_examples/eac8e1a1_mtrqq-squirrel's
// page-pool code logs clock-hand eviction warnings
// (log.Error().Msg(...)): a leveled, field-first call style rather than
// printf-formatted strings, so coremap eviction, swap I/O errors, and
// fault outcomes can all be filtered and queried the same way.
package klog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin alias so callers in this module don't import
// zerolog directly; it keeps the dependency centralized in one place
// per the teacher's internal/cli scaffolding pattern.
type Logger = zerolog.Logger

// New builds a console-formatted logger writing to w at the given
// level. cmd/vmctl uses this for interactive runs; cmd/vmdebug and
// tests can pass a buffer or io.Discard.
func New(w io.Writer, level zerolog.Level) Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Default is a ready-to-use logger at info level writing to stderr,
// for packages that don't thread a Logger through explicitly.
var Default = New(os.Stderr, zerolog.InfoLevel)

// WithComponent tags every subsequent log line from l with component,
// e.g. "coremap", "swap", "vm", so lines can be filtered by subsystem.
func WithComponent(l Logger, component string) Logger {
	return l.With().Str("component", component).Logger()
}
