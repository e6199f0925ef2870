package frame

import (
	"fmt"
	"io"
	"math"
	"net"
)

// WriteFrame writes a header followed by payload. The payload is handed to the writer as a
// separate buffer, so connections that support vectored writes send both without a copy.
// It returns the total bytes written.
func WriteFrame(w io.Writer, typ MessageType, payload []byte) (int64, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], typ, uint32(len(payload)))
	bufs := net.Buffers{hdr[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	n, err := bufs.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write %s frame: %w", typ, err)
	}
	return n, nil
}

// Append appends an encoded frame to dst and returns the extended buffer.
func Append(dst []byte, typ MessageType, payload []byte) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], typ, uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}
