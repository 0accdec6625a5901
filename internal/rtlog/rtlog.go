// Package rtlog provides the structured-logging seam shared by every
// subsystem of the runtime core. It wraps github.com/joeycumines/logiface
// so that compiler, GC, and TLB code depend on a small logging contract
// rather than a concrete backend, while still defaulting to something
// reasonable (stderr, zerolog-backed) when the caller supplies nothing.
//
// The package-level default is a mutex-guarded package variable, set in
// init to an info-level zerolog console logger on stderr and replaceable
// via SetDefault; the accessor never returns nil, so libraries never need
// a nil check.
package rtlog

import (
	"os"
	"sync"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is the concrete logiface event type used throughout the runtime.
type Event = izerolog.Event

// Logger is the logging handle passed to every subsystem constructor.
type Logger = *logiface.Logger[*Event]

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// init builds a reasonable default: info level, zerolog writing to stderr
// in console form, matching the teacher's NewDefaultLogger(LevelInfo)
// ergonomics (eventloop/logging.go) but backed by the real zerolog
// dependency rather than a hand-rolled writer.
func init() {
	z := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	defaultLogger = izerolog.L.New(
		izerolog.L.WithZerolog(z),
		izerolog.L.WithLevel(izerolog.L.LevelInformational()),
	)
}

// Default returns the package-wide default logger. Safe for concurrent use.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the package-wide default logger. Intended to be
// called once, during process startup (see cmd/dbtctl).
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if l != nil {
		defaultLogger = l
	}
}

// New constructs a logger writing to w at the given zerolog level name
// ("debug", "info", "warn", "error"); unrecognised names fall back to info.
func New(w zerolog.Logger, level string) Logger {
	lvl := izerolog.L.LevelInformational()
	switch level {
	case "debug":
		lvl = izerolog.L.LevelDebug()
	case "warn":
		lvl = izerolog.L.LevelWarning()
	case "error":
		lvl = izerolog.L.LevelError()
	}
	return izerolog.L.New(izerolog.L.WithZerolog(w), izerolog.L.WithLevel(lvl))
}

// Component returns a child logger tagged with a "component" field, the
// same shape used for LogEntry.Category in the teacher's logging.go but
// expressed as a structured field rather than a string enum, since
// logiface fields compose with whatever backend is attached.
func Component(l Logger, name string) Logger {
	if l == nil {
		l = Default()
	}
	return l.Clone().Str("component", name).Logger()
}

// NoOp returns a logger that discards everything, for tests that don't
// want log noise but still need a non-nil Logger.
func NoOp() Logger {
	return izerolog.L.New(izerolog.L.WithLevel(izerolog.L.LevelDisabled()))
}

// Err logs an error at error level against component l, a small helper so
// call sites (compiler fallback, GC OOM retry, TLB fault) read as one line.
func Err(l Logger, err error, msg string) {
	if l == nil {
		l = Default()
	}
	l.Err().Err(err).Log(msg)
}
