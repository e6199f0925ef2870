package bitstream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testShape uint8

const (
	shapeCircle testShape = iota
	shapeSquare
	shapeTriangle
)

func (testShape) CaseCount() uint32 { return 3 }

func TestWriteRead(t *testing.T) {
	compressor := NewFloatCompressor(-1, 1, 12)

	w := NewWritable()
	w.AppendBool(false)
	w.AppendUInt32(12345678, 32)
	w.AppendFloat(88.88)
	w.AppendUInt32(123, 10)
	compressor.Write(w, 0.88)
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.False(t, b)

	u, err := r.ReadUInt32(32)
	require.NoError(t, err)
	assert.Equal(t, uint32(12345678), u)

	f, err := r.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, float32(88.88), f)

	u, err = r.ReadUInt32(10)
	require.NoError(t, err)
	assert.Equal(t, uint32(123), u)

	f, err = compressor.Read(r)
	require.NoError(t, err)
	assert.InDelta(t, 0.88, f, 0.001)

	assert.True(t, r.IsAtEnd())
}

func TestLSBFirstLayout(t *testing.T) {
	w := NewWritable()
	w.AppendBool(true)
	w.AppendUInt32(2, 2)
	data, err := w.PackData()
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 0, 0, 0x05}, data)
}

func TestCompressedFloatSize(t *testing.T) {
	compressor := NewFloatCompressor(0, 1, 8)
	w := NewWritable()
	compressor.Write(w, 0)
	compressor.Write(w, 1)
	compressor.Write(w, 0.5)
	data, err := w.PackData()
	require.NoError(t, err)
	assert.Len(t, data, 7)

	r, err := NewReadable(data)
	require.NoError(t, err)
	for _, want := range []float32{0, 1, 0.5} {
		got, err := compressor.Read(r)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.01)
	}
	assert.True(t, r.IsAtEnd())
}

func TestCompressorClamps(t *testing.T) {
	compressor := NewFloatCompressor(-1, 1, 12)
	w := NewWritable()
	compressor.WriteVec(w, -5, 5)
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)
	lo, err := compressor.Read(r)
	require.NoError(t, err)
	hi, err := compressor.Read(r)
	require.NoError(t, err)
	assert.Equal(t, float32(-1), lo)
	assert.Equal(t, float32(1), hi)
}

func TestBoolsAndData(t *testing.T) {
	blob := bytes.Repeat([]byte{0xff}, 37)

	w := NewWritable()
	w.AppendBool(true)
	w.AppendBool(false)
	w.AppendBool(true)
	w.AppendData(blob)
	data, err := w.PackData()
	require.NoError(t, err)
	assert.Len(t, data, HeaderSize+1+4+37)

	r, err := NewReadable(data)
	require.NoError(t, err)
	for _, want := range []bool{true, false, true} {
		got, err := r.ReadBool()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := r.ReadData()
	require.NoError(t, err)
	assert.Equal(t, blob, got)
	assert.True(t, r.IsAtEnd())
}

func TestCodeAndCount(t *testing.T) {
	w := NewWritable()
	w.AppendUInt32(2, 2)
	w.AppendUInt32(154, 9)
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)
	code, err := r.ReadUInt32(2)
	require.NoError(t, err)
	count, err := r.ReadUInt32(9)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), code)
	assert.Equal(t, uint32(154), count)
	assert.True(t, r.IsAtEnd())
}

func TestUIntWidths(t *testing.T) {
	for k := 1; k <= 32; k++ {
		limit := uint32(1<<uint(k) - 1)
		values := []uint32{0, 1, limit, limit / 3}

		w := NewWritable()
		for _, v := range values {
			w.AppendUInt32(v, k)
		}
		data, err := w.PackData()
		require.NoError(t, err, "width %d", k)

		r, err := NewReadable(data)
		require.NoError(t, err)
		for _, v := range values {
			got, err := r.ReadUInt32(k)
			require.NoError(t, err, "width %d", k)
			assert.Equal(t, v, got, "width %d", k)
		}
		assert.True(t, r.IsAtEnd())
	}
}

func TestOverflowIsAnError(t *testing.T) {
	t.Run("value too wide", func(t *testing.T) {
		w := NewWritable()
		w.AppendUInt32(16, 4)
		w.AppendBool(true)
		assert.Equal(t, 0, w.BitLen())
		_, err := w.PackData()
		assert.ErrorIs(t, err, ErrOverflow)
	})
	t.Run("largest value fits", func(t *testing.T) {
		w := NewWritable()
		w.AppendUInt32(15, 4)
		w.AppendUInt32(^uint32(0), 32)
		_, err := w.PackData()
		assert.NoError(t, err)
	})
	t.Run("invalid width", func(t *testing.T) {
		w := NewWritable()
		w.AppendUInt32(0, 33)
		assert.ErrorIs(t, w.Err(), ErrOverflow)
	})
	t.Run("first error sticks", func(t *testing.T) {
		w := NewWritable()
		w.AppendString("\xff")
		w.AppendUInt32(99, 2)
		assert.ErrorIs(t, w.Err(), ErrEncoding)
	})
}

func TestStrings(t *testing.T) {
	w := NewWritable()
	w.AppendBool(true)
	w.AppendString("héllo")
	w.AppendString("")
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)
	_, err = r.ReadBool()
	require.NoError(t, err)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)
	s, err = r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "", s)
	assert.True(t, r.IsAtEnd())
}

func TestInvalidUTF8OnRead(t *testing.T) {
	w := NewWritable()
	w.AppendData([]byte{0xff, 0xfe})
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)
	_, err = r.ReadString()
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestEnums(t *testing.T) {
	assert.Equal(t, 2, EnumBits(3))
	assert.Equal(t, 2, EnumBits(2))
	assert.Equal(t, 3, EnumBits(4))
	assert.Equal(t, 4, EnumBits(12))

	w := NewWritable()
	AppendEnum(w, shapeTriangle)
	AppendEnum(w, shapeCircle)
	w.AppendUInt32(3, 2)
	data, err := w.PackData()
	require.NoError(t, err)

	r, err := NewReadable(data)
	require.NoError(t, err)
	s, err := ReadEnum[testShape](r)
	require.NoError(t, err)
	assert.Equal(t, shapeTriangle, s)
	s, err = ReadEnum[testShape](r)
	require.NoError(t, err)
	assert.Equal(t, shapeCircle, s)
	_, err = ReadEnum[testShape](r)
	assert.ErrorIs(t, err, ErrEncoding)

	w = NewWritable()
	AppendEnum(w, testShape(7))
	assert.ErrorIs(t, w.Err(), ErrEncoding)
}

func TestTruncatedInput(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		_, err := NewReadable([]byte{1, 2})
		assert.ErrorIs(t, err, ErrTooShort)
	})
	t.Run("header claims too much", func(t *testing.T) {
		_, err := NewReadable([]byte{0xff, 0, 0, 0, 1})
		assert.ErrorIs(t, err, ErrTooShort)
	})
	t.Run("blob length beyond stream", func(t *testing.T) {
		w := NewWritable()
		w.AppendUInt32(1000, 32)
		data, err := w.PackData()
		require.NoError(t, err)
		r, err := NewReadable(data)
		require.NoError(t, err)
		_, err = r.ReadData()
		assert.ErrorIs(t, err, ErrTooShort)
	})
	t.Run("every shorter bit count fails", func(t *testing.T) {
		w := NewWritable()
		w.AppendBool(true)
		w.AppendUInt32(77, 7)
		w.AppendFloat(1.5)
		w.AppendData([]byte("payload"))
		w.AppendUInt32(3, 3)
		data, err := w.PackData()
		require.NoError(t, err)
		total := int(binary.LittleEndian.Uint32(data))

		for n := 0; n < total; n++ {
			cut := append([]byte(nil), data...)
			binary.LittleEndian.PutUint32(cut, uint32(n))
			r, err := NewReadable(cut)
			require.NoError(t, err)
			assert.Error(t, readSequence(r), "bit count %d", n)
		}
	})
}

func readSequence(r *Readable) error {
	if _, err := r.ReadBool(); err != nil {
		return err
	}
	if _, err := r.ReadUInt32(7); err != nil {
		return err
	}
	if _, err := r.ReadFloat(); err != nil {
		return err
	}
	if _, err := r.ReadData(); err != nil {
		return err
	}
	_, err := r.ReadUInt32(3)
	return err
}
