package transport

import (
	"testing"

	"github.com/linchenxuan/slingshot/network/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	in := hello{Player: peer.New("alice"), AppID: "com.example.game", Secured: true}
	for i := range in.Nonce {
		in.Nonce[i] = byte(i * 7)
	}
	data, err := in.marshal()
	require.NoError(t, err)

	var out hello
	require.NoError(t, out.unmarshal(data))
	assert.True(t, in.Player.Equal(out.Player))
	assert.Equal(t, in.Player.Username, out.Player.Username)
	assert.Equal(t, in.AppID, out.AppID)
	assert.Equal(t, in.Nonce, out.Nonce)
	assert.True(t, out.Secured)
}

func TestHelloRejectsTruncatedPayload(t *testing.T) {
	in := hello{Player: peer.New("bob"), AppID: "app"}
	data, err := in.marshal()
	require.NoError(t, err)

	var out hello
	assert.Error(t, out.unmarshal(data[:len(data)-6]))
	assert.Error(t, out.unmarshal(nil))
}

func TestRejectReason(t *testing.T) {
	data, err := marshalReject("session full")
	require.NoError(t, err)
	reason, err := unmarshalReject(data)
	require.NoError(t, err)
	assert.Equal(t, "session full", reason)
}

func TestResourceStartRoundTrip(t *testing.T) {
	in := resourceStart{ID: 42, Name: "Action", Size: 5<<32 + 17}
	data, err := in.marshal()
	require.NoError(t, err)

	var out resourceStart
	require.NoError(t, out.unmarshal(data))
	assert.Equal(t, in, out)
}

func TestChunkAndEndFrames(t *testing.T) {
	payload := make([]byte, _chunkIDSize+3)
	putChunkID(payload, 9)
	copy(payload[_chunkIDSize:], "abc")
	id, data, err := splitChunk(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), id)
	assert.Equal(t, []byte("abc"), data)

	_, _, err = splitChunk([]byte{1, 2})
	assert.ErrorIs(t, err, ErrProtocol)

	id, status, err := unmarshalEnd(marshalEnd(7, endAborted))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id)
	assert.Equal(t, endAborted, status)

	_, _, err = unmarshalEnd(payload)
	assert.ErrorIs(t, err, ErrProtocol)
}
