package log

import (
	"fmt"
	"strings"
)

// Level is a log severity. Higher values are more severe.
type Level int8

// Severity levels, from the most verbose to the most severe. The zero Level is invalid.
const (
	TraceLevel Level = iota + 1 // Fine-grained tracing, e.g. every frame
	DebugLevel                  // Diagnostic detail
	InfoLevel                   // Normal lifecycle events
	WarnLevel                   // Recoverable problems such as dropped messages
	ErrorLevel                  // Failures that end an operation
	FatalLevel                  // Unrecoverable; the logger panics after writing
)

// String returns the upper-case level name used in log lines.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TraceLevel, nil
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// UnmarshalText lets config files spell levels by name.
func (l *Level) UnmarshalText(text []byte) error {
	lv, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
