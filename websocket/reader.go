// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"fmt"
	"io"
)

// MessageReader reassembles fragmented binary messages from a frame
// stream. Control frames may arrive between fragments and are returned
// as soon as they are read; the partial message is kept until its final
// fragment.
type MessageReader struct {
	r          io.Reader
	maxPayload int

	partial     []byte
	fragmenting bool
}

// NewMessageReader reads frames from r. maxPayload bounds both a single
// frame and a reassembled message.
func NewMessageReader(r io.Reader, maxPayload int) *MessageReader {
	return &MessageReader{r: r, maxPayload: maxPayload}
}

// Next returns the next complete binary message as (OpBinary, payload),
// or the next control frame as (OpPing|OpPong|OpClose, payload). A
// clean EOF between messages is returned as io.EOF.
func (m *MessageReader) Next() (Opcode, []byte, error) {
	for {
		frame, err := ReadFrame(m.r, m.maxPayload)
		if err != nil {
			if err == io.EOF && m.fragmenting {
				return 0, nil, fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF)
			}
			return 0, nil, err
		}

		switch frame.Opcode {
		case OpPing, OpPong, OpClose:
			return frame.Opcode, frame.Payload, nil

		case OpText:
			return 0, nil, ErrTextFrame

		case OpBinary:
			if m.fragmenting {
				return 0, nil, fmt.Errorf("%w: new data frame before the previous message finished", ErrProtocol)
			}
			if frame.Fin {
				return OpBinary, frame.Payload, nil
			}
			m.fragmenting = true
			m.partial = frame.Payload

		case OpContinuation:
			if !m.fragmenting {
				return 0, nil, fmt.Errorf("%w: continuation frame without a message to continue", ErrProtocol)
			}
			if len(m.partial)+len(frame.Payload) > m.maxPayload {
				return 0, nil, fmt.Errorf("%w: reassembled message exceeds %d bytes", ErrFrameTooLarge, m.maxPayload)
			}
			m.partial = append(m.partial, frame.Payload...)
			if frame.Fin {
				message := m.partial
				m.partial = nil
				m.fragmenting = false
				return OpBinary, message, nil
			}

		default:
			return 0, nil, fmt.Errorf("%w: unsupported %s", ErrProtocol, frame.Opcode)
		}
	}
}
