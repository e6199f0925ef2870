package log

import (
	"bytes"
	"math"
	"strconv"
	"unicode/utf8"
)

// Log lines are single JSON objects. The helpers below append JSON tokens to a buffer
// without going through encoding/json.

func appendBeginMarker(buf *bytes.Buffer) { buf.WriteByte('{') }
func appendEndMarker(buf *bytes.Buffer)   { buf.WriteByte('}') }
func appendLineBreak(buf *bytes.Buffer)   { buf.WriteByte('\n') }
func appendNil(buf *bytes.Buffer)         { buf.WriteString("null") }

// appendKey writes key and its colon, preceded by a comma unless it is the first field.
func appendKey(buf *bytes.Buffer, key string) {
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '{' {
		buf.WriteByte(',')
	}
	appendString(buf, key)
	buf.WriteByte(':')
}

func appendInt64(buf *bytes.Buffer, v int64) {
	var tmp [20]byte
	buf.Write(strconv.AppendInt(tmp[:0], v, 10))
}

func appendUint64(buf *bytes.Buffer, v uint64) {
	var tmp [20]byte
	buf.Write(strconv.AppendUint(tmp[:0], v, 10))
}

func appendBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}
}

// appendFloat writes NaN and infinities as strings, which JSON has no literal for.
func appendFloat(buf *bytes.Buffer, v float64) {
	switch {
	case math.IsNaN(v):
		buf.WriteString(`"NaN"`)
	case math.IsInf(v, 1):
		buf.WriteString(`"+Inf"`)
	case math.IsInf(v, -1):
		buf.WriteString(`"-Inf"`)
	default:
		var tmp [32]byte
		buf.Write(strconv.AppendFloat(tmp[:0], v, 'f', -1, 64))
	}
}

const _hex = "0123456789abcdef"

// _noEscape marks the ASCII bytes that can be copied into a JSON string as they are.
var _noEscape [utf8.RuneSelf]bool

func init() {
	for i := 0x20; i < utf8.RuneSelf; i++ {
		_noEscape[i] = i != '\\' && i != '"' && i != 0x7f
	}
}

// appendString writes s as a JSON string. Invalid UTF-8 becomes U+FFFD.
func appendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			// Runs of plain bytes are copied in one write at the next escape.
			if _noEscape[b] {
				i++
				continue
			}
			buf.WriteString(s[start:i])
			switch b {
			case '"', '\\':
				buf.WriteByte('\\')
				buf.WriteByte(b)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				buf.WriteString(`\u00`)
				buf.WriteByte(_hex[b>>4])
				buf.WriteByte(_hex[b&0xf])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString(s[start:i])
			buf.WriteString(`�`)
			i++
			start = i
			continue
		}
		i += size
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}

// appendTimestamp writes t as "YYYY-MM-DD HH:MM:SS.mmm" without allocating.
func appendTimestamp(buf *bytes.Buffer, year, month, day, hour, min, sec, ms int) {
	var b [25]byte
	b[0] = '"'
	put := func(at, width, v int) {
		for i := width - 1; i >= 0; i-- {
			b[at+i] = byte('0' + v%10)
			v /= 10
		}
	}
	put(1, 4, year)
	b[5] = '-'
	put(6, 2, month)
	b[8] = '-'
	put(9, 2, day)
	b[11] = ' '
	put(12, 2, hour)
	b[14] = ':'
	put(15, 2, min)
	b[17] = ':'
	put(18, 2, sec)
	b[20] = '.'
	put(21, 3, ms)
	b[24] = '"'
	buf.Write(b[:])
}
