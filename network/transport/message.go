package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/linchenxuan/slingshot/bitstream"
	"github.com/linchenxuan/slingshot/network/peer"
	uuid "github.com/satori/go.uuid"
)

// Handshake and resource framing sizes.
const (
	_nonceSize   = 16
	_chunkIDSize = 4
)

// hello opens the handshake in both directions.
type hello struct {
	Player  peer.Player      // Sender identity; the nil ID is refused
	AppID   string           // Must match the receiver
	Nonce   [_nonceSize]byte // Random; feeds the session key
	Secured bool             // Sender has a passcode set
}

// marshal packs the hello as [id][username][app id][nonce][secured].
func (h *hello) marshal() ([]byte, error) {
	w := bitstream.NewWritable()
	w.AppendData(h.Player.ID.Bytes())
	w.AppendString(h.Player.Username)
	w.AppendString(h.AppID)
	w.AppendData(h.Nonce[:])
	w.AppendBool(h.Secured)
	return w.PackData()
}

// unmarshal rejects ids that are not UUIDs and nonces of the wrong size.
func (h *hello) unmarshal(data []byte) error {
	r, err := bitstream.NewReadable(data)
	if err != nil {
		return err
	}
	raw, err := r.ReadData()
	if err != nil {
		return err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("%w: hello peer id: %v", ErrProtocol, err)
	}
	if h.Player.Username, err = r.ReadString(); err != nil {
		return err
	}
	if h.AppID, err = r.ReadString(); err != nil {
		return err
	}
	nonce, err := r.ReadData()
	if err != nil {
		return err
	}
	if len(nonce) != _nonceSize {
		return fmt.Errorf("%w: hello nonce of %d bytes", ErrProtocol, len(nonce))
	}
	if h.Secured, err = r.ReadBool(); err != nil {
		return err
	}
	h.Player.ID = id
	copy(h.Nonce[:], nonce)
	return nil
}

// marshalReject packs the reason a handshake was refused. The reason is shown to the remote user.
func marshalReject(reason string) ([]byte, error) {
	w := bitstream.NewWritable()
	w.AppendString(reason)
	return w.PackData()
}

func unmarshalReject(data []byte) (string, error) {
	r, err := bitstream.NewReadable(data)
	if err != nil {
		return "", err
	}
	return r.ReadString()
}

// resourceStart announces a transfer. Size is the exact byte count that follows in chunks.
type resourceStart struct {
	ID   uint32 // Per-connection transfer id
	Name string // Opaque to the transport
	Size int64  // Checked against MaxResource by the receiver
}

// marshal writes Size as two 32-bit halves, high first.
func (s *resourceStart) marshal() ([]byte, error) {
	w := bitstream.NewWritable()
	w.AppendUInt32(s.ID, 32)
	w.AppendString(s.Name)
	w.AppendUInt32(uint32(uint64(s.Size)>>32), 32)
	w.AppendUInt32(uint32(s.Size), 32)
	return w.PackData()
}

func (s *resourceStart) unmarshal(data []byte) error {
	r, err := bitstream.NewReadable(data)
	if err != nil {
		return err
	}
	if s.ID, err = r.ReadUInt32(32); err != nil {
		return err
	}
	if s.Name, err = r.ReadString(); err != nil {
		return err
	}
	hi, err := r.ReadUInt32(32)
	if err != nil {
		return err
	}
	lo, err := r.ReadUInt32(32)
	if err != nil {
		return err
	}
	size := uint64(hi)<<32 | uint64(lo)
	if size > 1<<62 {
		return fmt.Errorf("%w: resource size %d", ErrProtocol, size)
	}
	s.Size = int64(size)
	return nil
}

// Chunks and ends are raw so chunk data is not re-packed: [4-byte LE id][data].
func putChunkID(b []byte, id uint32) {
	binary.LittleEndian.PutUint32(b, id)
}

// splitChunk separates the transfer id from the chunk data. The data aliases payload.
func splitChunk(payload []byte) (uint32, []byte, error) {
	if len(payload) < _chunkIDSize {
		return 0, nil, fmt.Errorf("%w: resource frame of %d bytes", ErrProtocol, len(payload))
	}
	return binary.LittleEndian.Uint32(payload), payload[_chunkIDSize:], nil
}

// Status byte of a resource end frame.
const (
	endOK      byte = 0
	endAborted byte = 1
)

// marshalEnd builds the end frame payload: [4-byte LE id][status].
func marshalEnd(id uint32, status byte) []byte {
	b := make([]byte, _chunkIDSize+1)
	putChunkID(b, id)
	b[_chunkIDSize] = status
	return b
}

func unmarshalEnd(payload []byte) (uint32, byte, error) {
	id, rest, err := splitChunk(payload)
	if err != nil {
		return 0, 0, err
	}
	if len(rest) != 1 {
		return 0, 0, fmt.Errorf("%w: resource end of %d bytes", ErrProtocol, len(payload))
	}
	return id, rest[0], nil
}
