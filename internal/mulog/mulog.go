// Package mulog provides the structured leveled logger used throughout the
// VM core (coordinator cycles, pass timings, thread lifecycle).
package mulog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the handful of helpers the core needs.
type Logger struct {
	z zerolog.Logger
}

var (
	defaultOnce sync.Once
	defaultLog  Logger
)

// Default returns the process-wide default logger, writing to stderr.
func Default() Logger {
	defaultOnce.Do(func() {
		defaultLog = New(os.Stderr, zerolog.InfoLevel)
	})
	return defaultLog
}

// New constructs a Logger writing to w at the given minimum level.
func New(w io.Writer, level zerolog.Level) Logger {
	z := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return Logger{z: z}
}

// Named returns a child logger tagged with component=name.
func (l Logger) Named(name string) Logger {
	return Logger{z: l.z.With().Str("component", name).Logger()}
}

// Debugf logs a formatted debug-level message.
func (l Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

// Infof logs a formatted info-level message.
func (l Logger) Infof(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

// Warnf logs a formatted warn-level message.
func (l Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msgf(format, args...)
}

// Errorf logs a formatted error-level message.
func (l Logger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

// WithUint64 returns a child logger annotated with a uint64 field, used for
// tagging GC cycle counts, thread ids, and function ids in hot paths.
func (l Logger) WithUint64(key string, v uint64) Logger {
	return Logger{z: l.z.With().Uint64(key, v).Logger()}
}
