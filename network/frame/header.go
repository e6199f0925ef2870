// Package frame splits a continuous byte stream into typed, length-delimited messages.
//
// Every frame is an 8-byte header, a little-endian uint32 message type followed by a
// little-endian uint32 payload length, and then exactly that many payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = 8

// DefaultMaxPayload bounds a single frame payload unless the parser is configured otherwise.
const DefaultMaxPayload = 16 << 20

var (
	// ErrFrameTooLarge is returned when a header announces a payload above the parser limit.
	// The stream cannot be resynchronized afterwards.
	ErrFrameTooLarge = errors.New("frame: payload exceeds limit")
	// ErrParserClosed is returned by Feed once the parser has stopped.
	ErrParserClosed = errors.New("frame: parser closed")
)

// MessageType tags the payload of a frame.
type MessageType uint32

// Message types. The numeric values are part of the wire format.
const (
	Invalid       MessageType = iota // Unknown tags decode to Invalid and are skipped
	Action                           // Encoded action payload
	Hello                            // First handshake message of each side
	Auth                             // Passcode proof
	Accept                           // Server admitted the client
	Reject                           // Server refused the client; payload is the reason
	ResourceStart                    // Opens a resource transfer
	ResourceChunk                    // Bytes of an open transfer
	ResourceEnd                      // Closes a transfer
	Heartbeat                        // Empty; keeps an idle link alive
	messageTypeCount
)

var messageTypeNames = [...]string{
	Invalid:       "invalid",
	Action:        "action",
	Hello:         "hello",
	Auth:          "auth",
	Accept:        "accept",
	Reject:        "reject",
	ResourceStart: "resourceStart",
	ResourceChunk: "resourceChunk",
	ResourceEnd:   "resourceEnd",
	Heartbeat:     "heartbeat",
}

// ParseMessageType maps a raw tag to a known type. Unrecognized tags become Invalid.
func ParseMessageType(raw uint32) MessageType {
	if raw >= uint32(messageTypeCount) {
		return Invalid
	}
	return MessageType(raw)
}

// String returns the lower camel-case name used in logs and metric labels.
func (t MessageType) String() string {
	if t < messageTypeCount {
		return messageTypeNames[t]
	}
	return "MessageType(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// Header is a decoded frame header. Tag keeps the raw value so callers can log unknown types.
type Header struct {
	Type   MessageType // Invalid for unknown tags
	Tag    uint32      // Raw type field
	Length uint32      // Payload bytes following the header
}

// PutHeader writes a header for typ and length into b, which must hold HeaderSize bytes.
func PutHeader(b []byte, typ MessageType, length uint32) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(typ))
	binary.LittleEndian.PutUint32(b[4:8], length)
}

// DecodeHeader reads a header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	tag := binary.LittleEndian.Uint32(b[0:4])
	return Header{
		Type:   ParseMessageType(tag),
		Tag:    tag,
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}
}
