// Package logging configures the process-wide zerolog logger and offers
// key/value helpers so call sites read like log/slog.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, false, false)
)

func newLogger(w io.Writer, debug, structured bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	if !structured {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetupLogger replaces the global logger. debug lowers the level to debug;
// structured switches from the console writer to JSON lines on stderr.
func SetupLogger(debug, structured bool) {
	SetOutput(os.Stderr, debug, structured)
}

// SetOutput is SetupLogger with an explicit writer, used by tests.
func SetOutput(w io.Writer, debug, structured bool) {
	l := newLogger(w, debug, structured)
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the current global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, kv ...any) {
	l := Logger()
	emit(l.Debug(), msg, kv)
}

// Info logs at info level with alternating key/value pairs.
func Info(msg string, kv ...any) {
	l := Logger()
	emit(l.Info(), msg, kv)
}

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, kv ...any) {
	l := Logger()
	emit(l.Warn(), msg, kv)
}

// Error logs at error level with alternating key/value pairs.
func Error(msg string, kv ...any) {
	l := Logger()
	emit(l.Error(), msg, kv)
}

func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	if len(kv) > 0 {
		e = e.Fields(kv)
	}
	e.Msg(msg)
}
