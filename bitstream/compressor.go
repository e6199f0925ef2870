package bitstream

import "math"

// FloatCompressor quantises floats in a known range to a fixed number of bits.
// Values outside [Min, Max] are clamped.
type FloatCompressor struct {
	Min  float32 // Lowest representable value
	Max  float32 // Highest representable value
	Bits int     // Field width, at most 32

	maxBitValue float64
}

// NewFloatCompressor builds a compressor for [minValue, maxValue] using bits bits.
func NewFloatCompressor(minValue, maxValue float32, bits int) FloatCompressor {
	return FloatCompressor{
		Min:         minValue,
		Max:         maxValue,
		Bits:        bits,
		maxBitValue: math.Pow(2, float64(bits)) - 1,
	}
}

// Write quantises v and appends it to w.
func (c FloatCompressor) Write(w *Writable, v float32) {
	ratio := (float64(v) - float64(c.Min)) / (float64(c.Max) - float64(c.Min))
	switch {
	case math.IsNaN(ratio) || ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	w.AppendUInt32(uint32(ratio*c.maxBitValue), c.Bits)
}

// Read reads a quantised value and maps it back into the range.
func (c FloatCompressor) Read(r *Readable) (float32, error) {
	pattern, err := r.ReadUInt32(c.Bits)
	if err != nil {
		return 0, err
	}
	ratio := float32(float64(pattern) / c.maxBitValue)
	return ratio*(c.Max-c.Min) + c.Min, nil
}

// WriteVec writes each component in order.
func (c FloatCompressor) WriteVec(w *Writable, vs ...float32) {
	for _, v := range vs {
		c.Write(w, v)
	}
}

// ReadVec3 reads three components written by WriteVec.
func (c FloatCompressor) ReadVec3(r *Readable) (x, y, z float32, err error) {
	if x, err = c.Read(r); err != nil {
		return
	}
	if y, err = c.Read(r); err != nil {
		return
	}
	z, err = c.Read(r)
	return
}
