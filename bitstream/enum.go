package bitstream

import (
	"fmt"
	"math/bits"
)

// Enum is implemented by small closed enumerations written with AppendEnum.
// CaseCount must not depend on the receiver's value.
type Enum interface {
	~uint8 | ~uint16 | ~uint32
	// CaseCount returns the number of cases, including any unused tail.
	CaseCount() uint32
}

// EnumBits returns the field width used for an enum with caseCount cases.
func EnumBits(caseCount uint32) int {
	return bits.Len32(caseCount)
}

// AppendEnum writes v using the width derived from its case count.
func AppendEnum[E Enum](w *Writable, v E) {
	count := v.CaseCount()
	if uint32(v) >= count {
		w.Fail(fmt.Errorf("%w: enum value %d outside %d cases", ErrEncoding, v, count))
		return
	}
	w.AppendUInt32(uint32(v), EnumBits(count))
}

// ReadEnum reads an enum written by AppendEnum. Unknown raw values fail with ErrEncoding.
func ReadEnum[E Enum](r *Readable) (E, error) {
	var zero E
	count := zero.CaseCount()
	raw, err := r.ReadUInt32(EnumBits(count))
	if err != nil {
		return zero, err
	}
	if raw >= count {
		return zero, fmt.Errorf("%w: enum value %d outside %d cases", ErrEncoding, raw, count)
	}
	return E(raw), nil
}
