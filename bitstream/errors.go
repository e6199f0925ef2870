// Package bitstream implements the bit-packed buffers used for every game payload on the wire.
// Bits are written least-significant first within each byte; a finished buffer is prefixed with
// the number of valid bits so the reader knows where data ends and padding begins.
package bitstream

import "errors"

var (
	// ErrTooShort is returned when a read needs more bits than the stream holds.
	ErrTooShort = errors.New("bitstream: not enough data")
	// ErrEncoding is returned for malformed content, such as an unknown enum value or invalid UTF-8.
	ErrEncoding = errors.New("bitstream: encoding error")
	// ErrOverflow is returned when a value does not fit the declared field width.
	ErrOverflow = errors.New("bitstream: value exceeds field width")
)
