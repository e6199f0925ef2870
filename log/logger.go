// Package log is a structured JSON logger. Lines are built with chained field calls and
// end with Msg:
//
//	log.Info().Str("peer", id.String()).Int("bytes", n).Msg("resource received")
package log

import "sync/atomic"

// Logger defines the interface for a logging component, providing methods for structured logging at various levels.
// Events returned by the level methods may be nil when the level is disabled.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	// IgnoreCheckLevel reports whether level filtering is bypassed.
	IgnoreCheckLevel() bool
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	// OnEventEnd writes a finished event to the appenders. Msg calls it.
	OnEventEnd(e *LogEvent)
}

var _defaultLogger atomic.Pointer[GameLogger]

func init() {
	_defaultLogger.Store(NewLogger(DefaultCfg()))
}

// Initialize validates cfg and installs a logger built from it as the default.
// A nil cfg installs the default configuration.
func Initialize(cfg *LogCfg) error {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	SetDefaultLogger(NewLogger(cfg))
	return nil
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.Load().AddAppender(appender)
}

// Refresh reopens the default logger's appenders.
func Refresh() {
	_defaultLogger.Load().Refresh()
}

// Close flushes and closes the default logger's appenders.
func Close() {
	_defaultLogger.Load().Close()
}

// SetDefaultLogger replaces the logger behind the package-level functions.
func SetDefaultLogger(logger *GameLogger) {
	_defaultLogger.Store(logger)
}

// DefaultLogger returns the logger behind the package-level functions.
func DefaultLogger() *GameLogger {
	return _defaultLogger.Load()
}

// Trace starts a trace event on the default logger.
func Trace() *LogEvent { return _defaultLogger.Load().log(TraceLevel) }

// Debug starts a debug event on the default logger.
func Debug() *LogEvent { return _defaultLogger.Load().log(DebugLevel) }

// Info starts an info event on the default logger.
func Info() *LogEvent { return _defaultLogger.Load().log(InfoLevel) }

// Warn starts a warning event on the default logger.
func Warn() *LogEvent { return _defaultLogger.Load().log(WarnLevel) }

// Error starts an error event on the default logger.
func Error() *LogEvent { return _defaultLogger.Load().log(ErrorLevel) }

// Fatal starts a fatal event on the default logger. Finishing it panics.
func Fatal() *LogEvent { return _defaultLogger.Load().log(FatalLevel) }
