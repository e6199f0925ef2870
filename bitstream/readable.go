package bitstream

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Readable reads a buffer produced by Writable.PackData.
// Every read is bounds checked against the recorded bit count and fails with ErrTooShort
// instead of reading past the end.
type Readable struct {
	bytes  []byte
	endBit int
	cur    int
}

// NewReadable wraps a packed buffer. The buffer must hold the 4-byte header and at least as
// many bytes as the header's bit count requires.
func NewReadable(data []byte) (*Readable, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte buffer has no header", ErrTooShort, len(data))
	}
	endBit := uint64(binary.LittleEndian.Uint32(data))
	body := data[HeaderSize:]
	if endBit > uint64(len(body))*8 {
		return nil, fmt.Errorf("%w: header claims %d bits, buffer holds %d", ErrTooShort, endBit, len(body)*8)
	}
	return &Readable{bytes: body, endBit: int(endBit)}, nil
}

// IsAtEnd reports whether every valid bit has been consumed.
func (r *Readable) IsAtEnd() bool {
	return r.cur == r.endBit
}

// Remaining returns the number of unread valid bits.
func (r *Readable) Remaining() int {
	return r.endBit - r.cur
}

func (r *Readable) need(bits int) error {
	if r.cur+bits > r.endBit {
		return fmt.Errorf("%w: need %d bits, %d left", ErrTooShort, bits, r.endBit-r.cur)
	}
	return nil
}

func (r *Readable) readBit() bool {
	b := r.bytes[r.cur/8]>>uint(r.cur%8)&1 == 1
	r.cur++
	return b
}

// ReadBool reads a single bit.
func (r *Readable) ReadBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	return r.readBit(), nil
}

// ReadUInt32 reads an unsigned value stored in bits bits.
func (r *Readable) ReadUInt32(bits int) (uint32, error) {
	if bits < 1 || bits > 32 {
		return 0, fmt.Errorf("%w: invalid width %d", ErrEncoding, bits)
	}
	if err := r.need(bits); err != nil {
		return 0, err
	}
	var v uint32
	for i := 0; i < bits; i++ {
		if r.readBit() {
			v |= 1 << uint(i)
		}
	}
	return v, nil
}

// ReadFloat reads a 32-bit IEEE 754 value.
func (r *Readable) ReadFloat() (float32, error) {
	bits, err := r.ReadUInt32(32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadData reads a blob written by AppendData. The returned slice is a copy.
func (r *Readable) ReadData() ([]byte, error) {
	// Blobs start on a byte boundary.
	aligned := (r.cur + 7) &^ 7
	if aligned > r.endBit {
		return nil, fmt.Errorf("%w: no room for blob length", ErrTooShort)
	}
	r.cur = aligned
	n, err := r.ReadUInt32(32)
	if err != nil {
		return nil, err
	}
	if uint64(r.cur)+uint64(n)*8 > uint64(r.endBit) {
		return nil, fmt.Errorf("%w: blob of %d bytes exceeds stream", ErrTooShort, n)
	}
	start := r.cur / 8
	out := make([]byte, n)
	copy(out, r.bytes[start:start+int(n)])
	r.cur += int(n) * 8
	return out, nil
}

// ReadString reads a UTF-8 blob.
func (r *Readable) ReadString() (string, error) {
	data, err := r.ReadData()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrEncoding)
	}
	return string(data), nil
}
