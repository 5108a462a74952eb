package websocket

import (
	"encoding/binary"
	"errors"
	"io"
)

// OpCode represents WebSocket operation codes
type OpCode byte

const (
	OpContinuation OpCode = 0x0
	OpText         OpCode = 0x1
	OpBinary       OpCode = 0x2
	OpClose        OpCode = 0x8
	OpPing         OpCode = 0x9
	OpPong         OpCode = 0xA
)

// IsControl reports whether op is a control opcode.
func (op OpCode) IsControl() bool { return op&0x8 != 0 }

// Close status codes
const (
	CloseNormalClosure   uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseMessageTooLarge uint16 = 1009
)

// Frame errors
var (
	ErrMessageTooLarge = errors.New("websocket: frame payload exceeds limit")
	ErrReservedBits    = errors.New("websocket: reserved bits set without extension")
	ErrControlFrame    = errors.New("websocket: fragmented or oversized control frame")
	ErrUnknownOpCode   = errors.New("websocket: unknown opcode")
)

// Frame is one decoded frame. Payload is unmasked and aliases the reader's
// buffer until the next ReadFrame.
type Frame struct {
	Fin     bool
	OpCode  OpCode
	Masked  bool
	Payload []byte
}

// FrameReader decodes frames from a stream, reusing one payload buffer.
type FrameReader struct {
	r       io.Reader
	maxSize uint64
	header  [8]byte
	payload []byte
}

// NewFrameReader creates a reader rejecting payloads above maxSize bytes.
func NewFrameReader(r io.Reader, maxSize int64) *FrameReader {
	return &FrameReader{r: r, maxSize: uint64(maxSize)}
}

// ReadFrame reads the next frame into f.
func (fr *FrameReader) ReadFrame(f *Frame) error {
	hdr := fr.header[:2]
	if _, err := io.ReadFull(fr.r, hdr); err != nil {
		return err
	}

	f.Fin = hdr[0]&0x80 != 0
	f.OpCode = OpCode(hdr[0] & 0x0F)
	f.Masked = hdr[1]&0x80 != 0
	if hdr[0]&0x70 != 0 {
		return ErrReservedBits
	}

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		ext := fr.header[:2]
		if _, err := io.ReadFull(fr.r, ext); err != nil {
			return noEOF(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext))
	case 127:
		ext := fr.header[:8]
		if _, err := io.ReadFull(fr.r, ext); err != nil {
			return noEOF(err)
		}
		length = binary.BigEndian.Uint64(ext)
	}

	if f.OpCode.IsControl() && (length > 125 || !f.Fin) {
		return ErrControlFrame
	}
	if length > fr.maxSize {
		return ErrMessageTooLarge
	}

	var mask [4]byte
	if f.Masked {
		if _, err := io.ReadFull(fr.r, mask[:]); err != nil {
			return noEOF(err)
		}
	}

	if uint64(cap(fr.payload)) < length {
		fr.payload = make([]byte, length)
	}
	f.Payload = fr.payload[:length]
	if _, err := io.ReadFull(fr.r, f.Payload); err != nil {
		return noEOF(err)
	}
	if f.Masked {
		maskBytes(mask, f.Payload)
	}

	return nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func maskBytes(mask [4]byte, b []byte) {
	for i := range b {
		b[i] ^= mask[i&3]
	}
}

// AppendFrame appends an unmasked frame to dst.
func AppendFrame(dst []byte, fin bool, op OpCode, payload []byte) []byte {
	first := byte(op)
	if fin {
		first |= 0x80
	}

	n := len(payload)
	switch {
	case n < 126:
		dst = append(dst, first, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, first, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, first, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	return append(dst, payload...)
}

// AppendCloseFrame appends a Close frame carrying status code.
func AppendCloseFrame(dst []byte, code uint16) []byte {
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], code)
	return AppendFrame(dst, true, OpClose, body[:])
}

// CloseCode returns the status code of a Close payload, or 0 if absent.
func CloseCode(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload)
}
