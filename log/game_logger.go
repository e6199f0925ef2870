package log

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// GameLogger writes JSON lines to a set of appenders. Level checks are lock-free and
// events are pooled.
type GameLogger struct {
	appenders         []LogAppender // Outputs, in the order they were added
	appenderMu        sync.RWMutex  // Guards appenders
	minLevel          atomic.Int32  // Lowest level written
	callerSkip        int           // Extra frames skipped when resolving the caller
	eventPool         sync.Pool     // Recycled *LogEvent values
	callerCache       sync.Map      // pc -> string
	enabledCallerInfo bool          // Adds the caller to every line
}

// NewLogger creates a logger from cfg, or from DefaultCfg when cfg is nil.
// A file appender that cannot be opened is reported on the console appender, if any.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	x := &GameLogger{
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
	}
	x.minLevel.Store(int32(cfg.LogLevel))
	x.eventPool.New = func() any { return newEvent(x) }

	if cfg.ConsoleAppender {
		x.AddAppender(NewConsoleAppender())
	}
	if cfg.FileAppender {
		fa, err := NewFileAppender(cfg.LogPath, cfg.FileSplitMB, cfg.MaxBackups)
		if err != nil {
			x.Error().Err(err).Str("path", cfg.LogPath).Msg("open log file")
		} else {
			x.AddAppender(fa)
		}
	}
	return x
}

// SetLevel changes the minimum level at runtime.
func (x *GameLogger) SetLevel(level Level) {
	x.minLevel.Store(int32(level))
}

// Level returns the minimum level written.
func (x *GameLogger) Level() Level {
	return Level(x.minLevel.Load())
}

func (x *GameLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// AddAppender adds an output. Lines already written are not replayed.
func (x *GameLogger) AddAppender(appender LogAppender) {
	x.appenderMu.Lock()
	x.appenders = append(x.appenders, appender)
	x.appenderMu.Unlock()
}

// GetAppender returns a copy of the current appenders.
func (x *GameLogger) GetAppender() []LogAppender {
	x.appenderMu.RLock()
	defer x.appenderMu.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

// Refresh reopens every appender, e.g. after external log rotation.
func (x *GameLogger) Refresh() {
	for _, a := range x.GetAppender() {
		_ = a.Refresh()
	}
}

// Close closes every appender.
func (x *GameLogger) Close() {
	for _, a := range x.GetAppender() {
		_ = a.Close()
	}
}

// IgnoreCheckLevel reports whether level filtering is bypassed. GameLogger always filters.
func (x *GameLogger) IgnoreCheckLevel() bool {
	return false
}

// OnEventEnd writes a finished event to the appenders and recycles it.
// A fatal event panics after it is written.
func (x *GameLogger) OnEventEnd(e *LogEvent) {
	x.appenderMu.RLock()
	for _, a := range x.appenders {
		_, _ = a.Write(e.buf.Bytes())
	}
	x.appenderMu.RUnlock()

	if e.level == FatalLevel {
		msg := e.buf.String()
		x.eventPool.Put(e)
		panic(msg)
	}
	x.eventPool.Put(e)
}

// Trace starts a trace event, or returns nil when the level is disabled.
func (x *GameLogger) Trace() *LogEvent { return x.log(TraceLevel) }

// Debug starts a debug event, or returns nil when the level is disabled.
func (x *GameLogger) Debug() *LogEvent { return x.log(DebugLevel) }

// Info starts an info event, or returns nil when the level is disabled.
func (x *GameLogger) Info() *LogEvent { return x.log(InfoLevel) }

// Warn starts a warning event, or returns nil when the level is disabled.
func (x *GameLogger) Warn() *LogEvent { return x.log(WarnLevel) }

// Error starts an error event, or returns nil when the level is disabled.
func (x *GameLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal starts a fatal event. Finishing it panics with the formatted line.
func (x *GameLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

const _unknownCaller = "unknown:0"

// caller resolves "dir/file.go:line func" for the code that asked for the event.
// Both the level methods and the package-level helpers call log directly, so the
// depth is the same for either.
func (x *GameLogger) caller() string {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _unknownCaller
	}
	if cached, found := x.callerCache.Load(pc); found {
		return cached.(string)
	}

	fn := "?"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndexByte(fn, '.'); i != -1 {
			fn = fn[i+1:]
		}
	}
	if i := strings.LastIndexByte(file, '/'); i > 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}
	s := file + ":" + strconv.Itoa(line) + " " + fn
	x.callerCache.Store(pc, s)
	return s
}

func (x *GameLogger) log(level Level) *LogEvent {
	if !x.IgnoreCheckLevel() && !x.checkLevel(level) {
		return nil
	}

	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level
	e.Time("time", time.Now())
	e.Str("level", level.String())
	if x.enabledCallerInfo {
		e.Str("caller", x.caller())
	}
	return e
}
