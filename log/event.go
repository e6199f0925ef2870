package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// LogEvent represents a single structured logging event.
// It provides a fluent API for adding key-value pairs to a log line and handles the
// line from creation to output. Every method is safe on a nil receiver, which is what a
// disabled level returns, so call chains need no guards.
type LogEvent struct {
	buf    *bytes.Buffer // Buffer accumulating the formatted line
	logger Logger        // Parent logger that receives the finished line
	level  Level         // Severity level of the event
}

// newEvent creates a LogEvent with a pre-allocated buffer.
// The logger's pool calls it when no recycled event is available.
func newEvent(l Logger) *LogEvent {
	e := &LogEvent{logger: l, level: DebugLevel, buf: &bytes.Buffer{}}
	e.buf.Grow(1024) // Most lines fit in 1KB
	return e
}

// Reset prepares the LogEvent for reuse from the pool.
// It clears the buffer, restores the default level and writes the opening marker,
// so no data from a previous line leaks into the next one.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.level = DebugLevel
	appendBeginMarker(e.buf)
}

// Time appends the provided time under k in the format "YYYY-MM-DD HH:MM:SS.000".
// It returns the LogEvent to support method chaining.
func (e *LogEvent) Time(k string, v time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendTimestamp(e.buf, v.Year(), int(v.Month()), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond()/int(time.Millisecond))
	return e
}

// Str appends a string value under k, escaped as a JSON string.
func (e *LogEvent) Str(k, v string) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendString(e.buf, v)
	return e
}

// Stringer appends v.String(), or null for a nil v.
func (e *LogEvent) Stringer(k string, v fmt.Stringer) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	if v == nil {
		appendNil(e.buf)
		return e
	}
	appendString(e.buf, v.String())
	return e
}

// Int appends an integer value under k.
func (e *LogEvent) Int(k string, v int) *LogEvent {
	return e.Int64(k, int64(v))
}

// Int64 appends a 64-bit signed integer under k.
func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendInt64(e.buf, v)
	return e
}

// Uint32 appends a 32-bit unsigned integer under k.
func (e *LogEvent) Uint32(k string, v uint32) *LogEvent {
	return e.Uint64(k, uint64(v))
}

// Uint64 appends a 64-bit unsigned integer under k.
func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendUint64(e.buf, v)
	return e
}

// Float64 appends a floating point value under k.
// NaN and infinities are written as strings since JSON has no literal for them.
func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendFloat(e.buf, v)
	return e
}

// Bool appends a boolean value under k.
func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendBool(e.buf, v)
	return e
}

// Dur appends a duration in its String form, e.g. "1.5s".
func (e *LogEvent) Dur(k string, v time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	appendString(e.buf, v.String())
	return e
}

// Err appends err under "error". A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	appendKey(e.buf, "error")
	appendString(e.buf, err.Error())
	return e
}

// Any appends v as JSON, falling back to its %v form when it cannot be marshalled.
func (e *LogEvent) Any(k string, v any) *LogEvent {
	if e == nil {
		return nil
	}
	appendKey(e.buf, k)
	data, err := json.Marshal(v)
	if err != nil {
		appendString(e.buf, fmt.Sprintf("%v", v))
		return e
	}
	e.buf.Write(data)
	return e
}

// Msg appends the message under "msg" and emits the line.
// This is the usual terminal call of a chain; the event returns to the pool afterwards
// and must not be used again.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	appendKey(e.buf, "msg")
	appendString(e.buf, msg)
	e.End()
}

// Msgf is Msg with fmt.Sprintf formatting.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}

// End emits the line without a message. The event must not be used afterwards.
func (e *LogEvent) End() {
	if e == nil {
		return
	}
	appendEndMarker(e.buf)
	appendLineBreak(e.buf)
	e.logger.OnEventEnd(e)
}
