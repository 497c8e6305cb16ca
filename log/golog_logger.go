package log

import (
	"github.com/kataras/golog"
)

// GologLogger adapts a kataras/golog logger to the Logger interface consumed
// by the checkpoint, image cache and storage components. Level filtering
// happens on this side; golog's own level is kept in sync.
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGolog creates a golog-backed logger with the fepstate prefix at the
// given level. This is the backend cmd/fepstate installs as the package
// default.
func NewGolog(level LogLevel) *GologLogger {
	glogger := golog.New()
	glogger.SetPrefix("[fepstate] ")
	l := NewGologLogger(glogger)
	l.SetLevel(level)
	return l
}

// NewGologLogger wraps an existing golog.Logger, for callers that configured
// their own instance.
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		level:  LogLevelInfo, // default level
	}
}

// Debug logs detailed progress messages (cache misses, fallbacks).
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs general informational messages.
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs recoverable oddities (moved checkpoints, unknown molecules).
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs failures that need attention.
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LogLevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel sets the log level on the wrapper and the underlying golog
// instance.
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level

	gologLevel := "info"
	switch level {
	case LogLevelDebug:
		gologLevel = "debug"
	case LogLevelInfo:
		gologLevel = "info"
	case LogLevelWarn:
		gologLevel = "warn"
	case LogLevelError:
		gologLevel = "error"
	case LogLevelNone:
		gologLevel = "disable"
	}
	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current log level.
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}
