package tangguh

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger receives structured pipeline logs as message plus alternating
// key/value pairs. Any structured logging backend adapts in a few lines;
// NewZerologLogger covers the common case.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DebugConfig selects which pipeline stages emit logs, so insight into one
// concern does not drown the output in the others.
type DebugConfig struct {
	Enabled bool

	LogRequests bool
	LogRetries  bool
	LogCache    bool
	LogDedup    bool
	LogAuth     bool
	LogCancel   bool

	// RequestIDGen mints ids for the cancellation registry and log
	// correlation. Defaults to UUIDs.
	RequestIDGen func() string
}

// DefaultDebugConfig enables every stage flag but leaves logging off until
// WithDebug flips Enabled.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogDedup:     true,
		LogAuth:      true,
		LogCancel:    true,
		RequestIDGen: defaultRequestID,
	}
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(log zerolog.Logger) Logger {
	return &zerologLogger{log: log}
}

// NewSimpleLogger writes human-readable lines to stderr at debug level,
// handy during development.
func NewSimpleLogger() Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return &zerologLogger{
		log: zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}

// NewLeveledLogger writes JSON lines to stderr at the named level: "debug",
// "info", "warn", "error" or "off".
func NewLeveledLogger(level string) Logger {
	return &zerologLogger{
		log: zerolog.New(os.Stderr).Level(parseLogLevel(level)).With().Timestamp().Logger(),
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.log.Debug(), msg, keysAndValues)
}

func (l *zerologLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.log.Info(), msg, keysAndValues)
}

func (l *zerologLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.log.Warn(), msg, keysAndValues)
}

func (l *zerologLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.log.Error(), msg, keysAndValues)
}

func (l *zerologLogger) emit(e *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	if len(keysAndValues)%2 == 1 {
		e = e.Interface("extra", keysAndValues[len(keysAndValues)-1])
	}
	e.Msg(msg)
}

// debugEnabled gates a stage's log statements on its DebugConfig flag.
func (c *Client) debugEnabled(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag && c.logger != nil
}
