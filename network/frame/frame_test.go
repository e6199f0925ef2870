package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/linchenxuan/slingshot/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	typ     MessageType
	payload []byte
}

func collect(out *[]delivered) Handler {
	return func(typ MessageType, payload []byte) error {
		*out = append(*out, delivered{typ, payload})
		return nil
	}
}

func testStream() ([]byte, []delivered) {
	frames := []delivered{
		{Action, []byte("first")},
		{Hello, []byte{}},
		{ResourceChunk, bytes.Repeat([]byte{0xab}, 300)},
		{Accept, []byte{1}},
		{Action, []byte("last frame in the stream")},
	}
	var stream []byte
	for _, f := range frames {
		stream = Append(stream, f.typ, f.payload)
	}
	return stream, frames
}

func feedChunks(t *testing.T, p *Parser, stream []byte, size int) {
	t.Helper()
	for len(stream) > 0 {
		n := size
		if n > len(stream) {
			n = len(stream)
		}
		_, err := p.Feed(stream[:n])
		require.NoError(t, err)
		stream = stream[n:]
	}
}

func TestHeaderLayout(t *testing.T) {
	var b [HeaderSize]byte
	PutHeader(b[:], ResourceEnd, 0x01020304)
	assert.Equal(t, []byte{8, 0, 0, 0, 4, 3, 2, 1}, b[:])

	h := DecodeHeader(b[:])
	assert.Equal(t, ResourceEnd, h.Type)
	assert.Equal(t, uint32(0x01020304), h.Length)
}

func TestParseMessageType(t *testing.T) {
	assert.Equal(t, Action, ParseMessageType(1))
	assert.Equal(t, ResourceEnd, ParseMessageType(8))
	assert.Equal(t, Heartbeat, ParseMessageType(9))
	assert.Equal(t, Invalid, ParseMessageType(10))
	assert.Equal(t, Invalid, ParseMessageType(0xffffffff))
	assert.Equal(t, "resourceChunk", ResourceChunk.String())
	assert.Equal(t, "MessageType(42)", MessageType(42).String())
}

func TestDemultiplexChunkSizes(t *testing.T) {
	stream, want := testStream()
	for _, size := range []int{1, 2, 3, 7, HeaderSize, 64, len(stream)} {
		var got []delivered
		p := NewParser(collect(&got))
		feedChunks(t, p, stream, size)
		require.Len(t, got, len(want), "chunk size %d", size)
		for i := range want {
			assert.Equal(t, want[i].typ, got[i].typ)
			assert.Equal(t, len(want[i].payload), len(got[i].payload))
			assert.True(t, bytes.Equal(want[i].payload, got[i].payload))
		}
	}
}

func TestFeedReportsNeed(t *testing.T) {
	var got []delivered
	p := NewParser(collect(&got))

	need, err := p.Feed(nil)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, need)

	frame := Append(nil, Action, []byte("hello"))
	need, err = p.Feed(frame[:3])
	require.NoError(t, err)
	assert.Equal(t, HeaderSize-3, need)

	need, err = p.Feed(frame[3:HeaderSize+2])
	require.NoError(t, err)
	assert.Equal(t, 3, need)

	need, err = p.Feed(frame[HeaderSize+2:])
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, need)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("hello"), got[0].payload)
}

func TestUnknownTypeIsInvalid(t *testing.T) {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], 77)
	binary.LittleEndian.PutUint32(b[4:8], 2)
	stream := append(b[:], 'h', 'i')
	stream = Append(stream, Action, []byte("ok"))

	var got []delivered
	p := NewParser(collect(&got))
	_, err := p.Feed(stream)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Invalid, got[0].typ)
	assert.Equal(t, []byte("hi"), got[0].payload)
	assert.Equal(t, Action, got[1].typ)
}

func TestHandlerErrorIsTerminal(t *testing.T) {
	stop := errors.New("stream no longer viable")
	calls := 0
	p := NewParser(func(MessageType, []byte) error {
		calls++
		return stop
	})
	stream, _ := testStream()
	_, err := p.Feed(stream)
	assert.ErrorIs(t, err, ErrParserClosed)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	_, err = p.Feed(stream)
	assert.ErrorIs(t, err, ErrParserClosed)
	assert.Equal(t, 1, calls)
}

func TestPayloadLimit(t *testing.T) {
	var got []delivered
	p := NewParser(collect(&got), WithMaxPayload(4))
	_, err := p.Feed(Append(nil, Action, []byte("12345")))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, err, ErrParserClosed)
	assert.Empty(t, got)
}

func TestClose(t *testing.T) {
	p := NewParser(func(MessageType, []byte) error { return nil })
	p.Close()
	p.Close()
	_, err := p.Feed([]byte{1})
	assert.ErrorIs(t, err, ErrParserClosed)
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, Hello, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+3), n)
	assert.Equal(t, Append(nil, Hello, []byte("abc")), buf.Bytes())

	buf.Reset()
	n, err = WriteFrame(&buf, Accept, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), n)
}

func TestCatapultReleaseThroughParser(t *testing.T) {
	sent := action.Game{Action: action.CatapultRelease{Sling: action.SlingData{
		CatapultID: 3,
		Velocity: action.GameVelocity{
			Origin: action.Vec3{X: 0, Y: 0, Z: 0},
			Vector: action.Vec3{X: 1, Y: 2, Z: 3},
		},
	}}}
	payload, err := action.Encode(sent)
	require.NoError(t, err)

	var wire bytes.Buffer
	_, err = WriteFrame(&wire, Action, payload)
	require.NoError(t, err)

	var got []delivered
	p := NewParser(collect(&got))
	feedChunks(t, p, wire.Bytes(), 3)
	require.Len(t, got, 1)
	assert.Equal(t, Action, got[0].typ)
	assert.Equal(t, payload, got[0].payload)

	decoded, err := action.Decode(got[0].payload)
	require.NoError(t, err)
	assert.Equal(t, sent, decoded)
	release := decoded.(action.Game).Action.(action.CatapultRelease)
	assert.Equal(t, uint32(3), release.Sling.CatapultID)
	assert.Equal(t, action.Vec3{X: 1, Y: 2, Z: 3}, release.Sling.Velocity.Vector)
}
