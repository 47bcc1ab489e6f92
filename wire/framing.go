// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/visionkit/streamd/lib/codec"
)

// HeaderLength is the size of the big-endian length prefix.
const HeaderLength = 4

// ErrMessageTooLarge is returned when a length prefix exceeds the
// reader's limit. The stream cannot be resynchronized after it.
var ErrMessageTooLarge = errors.New("message exceeds maximum length")

// ErrEmptyMessage is returned for a zero-length body. Every valid
// message encodes to at least a CBOR map header.
var ErrEmptyMessage = errors.New("empty message body")

// AppendFrame appends the length prefix and body to dst.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

// ReadFrame reads one length-prefixed body. A clean EOF before the
// prefix is returned unwrapped as io.EOF so callers can tell an orderly
// disconnect from a truncated message.
func ReadFrame(r io.Reader, maxLength int) ([]byte, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read message header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if uint64(length) > uint64(maxLength) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return body, nil
}

// Encode serializes a message body without framing.
func Encode(message any) ([]byte, error) {
	body, err := codec.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return body, nil
}

// EncodeFrame serializes a message with its length prefix, ready for a
// single socket write.
func EncodeFrame(message any) ([]byte, error) {
	body, err := Encode(message)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, HeaderLength+len(body)), body), nil
}

// WriteMessage writes one framed message.
func WriteMessage(w io.Writer, message any) error {
	frame, err := EncodeFrame(message)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// DecodeServerBound parses and validates a viewer message body.
func DecodeServerBound(body []byte) (*ServerBound, error) {
	if len(body) == 0 {
		return nil, ErrEmptyMessage
	}
	var message ServerBound
	if err := codec.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("decode server-bound message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	return &message, nil
}

// DecodeClientBound parses and validates a server message body.
func DecodeClientBound(body []byte) (*ClientBound, error) {
	if len(body) == 0 {
		return nil, ErrEmptyMessage
	}
	var message ClientBound
	if err := codec.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("decode client-bound message: %w", err)
	}
	if _, err := message.Kind(); err != nil {
		return nil, err
	}
	return &message, nil
}

// ReadServerBound reads and decodes one framed viewer message.
func ReadServerBound(r io.Reader, maxLength int) (*ServerBound, error) {
	body, err := ReadFrame(r, maxLength)
	if err != nil {
		return nil, err
	}
	return DecodeServerBound(body)
}

// ReadClientBound reads and decodes one framed server message.
func ReadClientBound(r io.Reader, maxLength int) (*ClientBound, error) {
	body, err := ReadFrame(r, maxLength)
	if err != nil {
		return nil, err
	}
	return DecodeClientBound(body)
}
