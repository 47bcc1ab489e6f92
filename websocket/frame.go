// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// IsControl reports whether o is close, ping or pong.
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

const (
	finBit      = 0x80
	reservedBit = 0x70
	opcodeMask  = 0x0F
	maskBit     = 0x80
	lengthMask  = 0x7F

	length16 = 126
	length64 = 127

	// maxControlPayload is the RFC 6455 §5.5 limit.
	maxControlPayload = 125
)

var (
	// ErrProtocol is wrapped by every framing violation.
	ErrProtocol = errors.New("websocket protocol error")

	// ErrTextFrame rejects text data messages.
	ErrTextFrame = fmt.Errorf("%w: text frames are not supported", ErrProtocol)

	// ErrFrameTooLarge is returned when a payload exceeds the reader's
	// limit.
	ErrFrameTooLarge = fmt.Errorf("%w: payload exceeds maximum length", ErrProtocol)
)

// Frame is one decoded frame. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// ReadFrame decodes one frame from r. maxPayload bounds the declared
// payload length before any allocation.
func ReadFrame(r io.Reader, maxPayload int) (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	if header[0]&reservedBit != 0 {
		return Frame{}, fmt.Errorf("%w: reserved bits set (0x%02x)", ErrProtocol, header[0])
	}
	frame := Frame{
		Fin:    header[0]&finBit != 0,
		Opcode: Opcode(header[0] & opcodeMask),
		Masked: header[1]&maskBit != 0,
	}

	length := uint64(header[1] & lengthMask)
	switch length {
	case length16:
		var extended [2]byte
		if _, err := io.ReadFull(r, extended[:]); err != nil {
			return Frame{}, fmt.Errorf("read 16-bit length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint16(extended[:]))
	case length64:
		var extended [8]byte
		if _, err := io.ReadFull(r, extended[:]); err != nil {
			return Frame{}, fmt.Errorf("read 64-bit length: %w", err)
		}
		length = binary.BigEndian.Uint64(extended[:])
		if length&(1<<63) != 0 {
			return Frame{}, fmt.Errorf("%w: 64-bit length has its high bit set", ErrProtocol)
		}
	}

	if frame.Opcode.IsControl() {
		if !frame.Fin {
			return Frame{}, fmt.Errorf("%w: fragmented %s frame", ErrProtocol, frame.Opcode)
		}
		if length > maxControlPayload {
			return Frame{}, fmt.Errorf("%w: %s payload of %d bytes", ErrProtocol, frame.Opcode, length)
		}
	}
	if length > uint64(maxPayload) {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxPayload)
	}

	var mask [4]byte
	if frame.Masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return Frame{}, fmt.Errorf("read mask key: %w", err)
		}
	}

	frame.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		return Frame{}, fmt.Errorf("read frame payload: %w", err)
	}
	if frame.Masked {
		applyMask(frame.Payload, mask)
	}
	return frame, nil
}

func applyMask(payload []byte, mask [4]byte) {
	for index := range payload {
		payload[index] ^= mask[index%4]
	}
}

// AppendFrame appends an unmasked final frame with the shortest length
// encoding to dst.
func AppendFrame(dst []byte, opcode Opcode, payload []byte) []byte {
	dst = append(dst, finBit|byte(opcode))
	length := len(payload)
	switch {
	case length < length16:
		dst = append(dst, byte(length))
	case length <= 0xFFFF:
		dst = append(dst, length16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, length64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(length))
	}
	return append(dst, payload...)
}

// FrameSize is the encoded size AppendFrame produces for a payload of
// the given length.
func FrameSize(payloadLength int) int {
	switch {
	case payloadLength < length16:
		return 2 + payloadLength
	case payloadLength <= 0xFFFF:
		return 4 + payloadLength
	default:
		return 10 + payloadLength
	}
}
