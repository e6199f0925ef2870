package frame

import (
	"fmt"
)

// Handler receives each complete frame. The payload is owned by the handler.
// Returning an error stops the parser; the error is reported by the Feed call that delivered the frame.
type Handler func(typ MessageType, payload []byte) error

type parseState uint8

const (
	stateHeader parseState = iota
	statePayload
	stateClosed
)

// Parser demultiplexes frames from bytes that arrive in arbitrary chunks.
//
// Feed never blocks: it consumes everything it is given, delivers every frame completed by the
// new bytes in order, and keeps any partial header or payload for the next call. A Parser is not
// safe for concurrent use.
type Parser struct {
	handler    Handler
	maxPayload uint32

	state   parseState
	hdr     [HeaderSize]byte
	hdrLen  int
	cur     Header
	payload []byte
	err     error
}

// ParserOption configures a Parser.
type ParserOption func(p *Parser)

// WithMaxPayload overrides DefaultMaxPayload.
func WithMaxPayload(n uint32) ParserOption {
	return func(p *Parser) {
		p.maxPayload = n
	}
}

// NewParser returns a parser delivering frames to h.
func NewParser(h Handler, opts ...ParserOption) *Parser {
	p := &Parser{
		handler:    h,
		maxPayload: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed consumes data. need is the number of bytes still missing before the next frame (or the
// remainder of the current header) can be delivered. After a terminal error every call returns
// ErrParserClosed wrapping the original cause.
func (p *Parser) Feed(data []byte) (need int, err error) {
	if p.state == stateClosed {
		return 0, p.err
	}
	for {
		switch p.state {
		case stateHeader:
			n := copy(p.hdr[p.hdrLen:], data)
			p.hdrLen += n
			data = data[n:]
			if p.hdrLen < HeaderSize {
				return HeaderSize - p.hdrLen, nil
			}
			p.hdrLen = 0
			p.cur = DecodeHeader(p.hdr[:])
			if p.cur.Length > p.maxPayload {
				return 0, p.close(fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, p.cur.Length, p.maxPayload))
			}
			p.payload = make([]byte, 0, p.cur.Length)
			p.state = statePayload

		case statePayload:
			missing := int(p.cur.Length) - len(p.payload)
			if missing > len(data) {
				p.payload = append(p.payload, data...)
				return missing - len(data), nil
			}
			p.payload = append(p.payload, data[:missing]...)
			data = data[missing:]

			payload := p.payload
			p.payload = nil
			p.state = stateHeader
			if herr := p.handler(p.cur.Type, payload); herr != nil {
				return 0, p.close(herr)
			}
			if len(data) == 0 {
				return HeaderSize, nil
			}

		default:
			return 0, p.err
		}
	}
}

// Close stops the parser. Subsequent Feed calls return ErrParserClosed.
func (p *Parser) Close() {
	if p.state != stateClosed {
		p.close(nil)
	}
}

func (p *Parser) close(cause error) error {
	p.state = stateClosed
	p.payload = nil
	if cause == nil {
		p.err = ErrParserClosed
	} else {
		p.err = fmt.Errorf("%w: %w", ErrParserClosed, cause)
	}
	return p.err
}
