// Package log provides a simple, leveled logging interface for fepstate
// components.
//
// The checkpoint store, image cache and backup storage directory all accept a
// Logger and fall back to the package-level default when none is supplied.
// Pipeline verbosity maps directly onto the logger's level: a quiet run uses
// LogLevelWarn or above, a debugging run uses LogLevelDebug.
//
// # Log Levels
//
// Five levels, in order of increasing severity:
//
//   - LogLevelDebug: detailed progress (cache misses, alignment fallbacks)
//   - LogLevelInfo: general informational messages
//   - LogLevelWarn: recoverable oddities (moved checkpoint files, unknown molecules)
//   - LogLevelError: failures that need attention
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	// Create a logger with INFO level
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//
//	logger.Info("checkpoint loaded from %s", path)
//	logger.Warn("molecule %s not found", name)
//
// # golog Integration
//
// For users who prefer the github.com/kataras/golog library, a minimal
// wrapper is provided:
//
//	glogger := golog.New()
//	glogger.SetPrefix("[fepstate] ")
//	logger := log.NewGologLogger(glogger)
//	logger.SetLevel(log.LogLevelDebug)
//
// # Custom Loggers
//
// Any type implementing Debug/Info/Warn/Error with printf-style arguments
// satisfies the Logger interface and can be plugged into every component.
package log
