package bitstream

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// HeaderSize is the size in bytes of the valid-bit-count prefix produced by PackData.
const HeaderSize = 4

// Writable is an append-only bit buffer. It is built fresh for each outbound message.
//
// The first failed append is recorded and every later append becomes a no-op; the error is
// reported by Err and by PackData, so callers can encode a whole payload and check once.
type Writable struct {
	bytes  []byte
	endBit int
	err    error
}

// NewWritable returns an empty writable stream.
func NewWritable() *Writable {
	return &Writable{bytes: make([]byte, 0, 64)}
}

// Err returns the first encoding error, if any.
func (w *Writable) Err() error {
	return w.err
}

// Fail records err as the stream's error unless one is already recorded.
// Payload encoders use it to report bounds checked outside of this package.
func (w *Writable) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// BitLen returns the number of valid bits written so far.
func (w *Writable) BitLen() int {
	return w.endBit
}

func (w *Writable) appendBit(set bool) {
	idx := w.endBit / 8
	if idx == len(w.bytes) {
		w.bytes = append(w.bytes, 0)
	}
	if set {
		w.bytes[idx] |= 1 << uint(w.endBit%8)
	}
	w.endBit++
}

// AppendBool writes a single bit.
func (w *Writable) AppendBool(v bool) {
	if w.err != nil {
		return
	}
	w.appendBit(v)
}

// AppendUInt32 writes the low bits of v using exactly bits bits.
// A value that needs more than bits bits is an ErrOverflow; it is never truncated.
func (w *Writable) AppendUInt32(v uint32, bits int) {
	if w.err != nil {
		return
	}
	if bits < 1 || bits > 32 {
		w.err = fmt.Errorf("%w: invalid width %d", ErrOverflow, bits)
		return
	}
	if bits < 32 && v>>uint(bits) != 0 {
		w.err = fmt.Errorf("%w: %d does not fit in %d bits", ErrOverflow, v, bits)
		return
	}
	for i := 0; i < bits; i++ {
		w.appendBit(v>>uint(i)&1 == 1)
	}
}

// AppendFloat writes the IEEE 754 bit pattern of v as 32 bits.
func (w *Writable) AppendFloat(v float32) {
	w.AppendUInt32(math.Float32bits(v), 32)
}

// align moves the cursor to the next byte boundary.
func (w *Writable) align() {
	w.endBit = len(w.bytes) * 8
}

// AppendData writes a byte-aligned blob: a 32-bit length followed by the raw bytes.
func (w *Writable) AppendData(data []byte) {
	if w.err != nil {
		return
	}
	if uint64(len(data)) > math.MaxUint32 {
		w.err = fmt.Errorf("%w: blob of %d bytes", ErrOverflow, len(data))
		return
	}
	w.align()
	w.AppendUInt32(uint32(len(data)), 32)
	w.bytes = append(w.bytes, data...)
	w.endBit += len(data) * 8
}

// AppendString writes s as a UTF-8 blob.
func (w *Writable) AppendString(s string) {
	if w.err != nil {
		return
	}
	if !utf8.ValidString(s) {
		w.err = fmt.Errorf("%w: string is not valid UTF-8", ErrEncoding)
		return
	}
	w.AppendData([]byte(s))
}

// PackData finalizes the stream as [4-byte little-endian valid bit count][packed bytes].
func (w *Writable) PackData() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if uint64(w.endBit) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bits", ErrOverflow, w.endBit)
	}
	out := make([]byte, HeaderSize+len(w.bytes))
	binary.LittleEndian.PutUint32(out, uint32(w.endBit))
	copy(out[HeaderSize:], w.bytes)
	return out, nil
}
