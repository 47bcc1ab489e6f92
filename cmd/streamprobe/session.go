// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visionkit/streamd/transport"
	"github.com/visionkit/streamd/wire"
)

// maxMessageBytes bounds one received message. Key frames at high
// bitrates run to a few hundred kilobytes.
const maxMessageBytes = 4 << 20

// session is one viewer connection: it sends control messages and
// yields raw CBOR bodies.
type session interface {
	Send(message *wire.ServerBound) error
	Receive() ([]byte, error)
	// SetDeadline bounds the next Receive.
	SetDeadline(deadline time.Time) error
	Close() error
}

func dial(ctx context.Context, protocol, address string) (session, error) {
	switch protocol {
	case "framed":
		dialer := transport.TCPDialer{Timeout: 10 * time.Second}
		conn, err := dialer.DialContext(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", address, err)
		}
		return &framedSession{conn: conn}, nil
	case "websocket":
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, "ws://"+address+"/", nil)
		if err != nil {
			return nil, fmt.Errorf("connecting to ws://%s/: %w", address, err)
		}
		conn.SetReadLimit(maxMessageBytes)
		return &webSocketSession{conn: conn}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q (want framed or websocket)", protocol)
	}
}

type framedSession struct {
	conn net.Conn
}

func (s *framedSession) Send(message *wire.ServerBound) error {
	return wire.WriteMessage(s.conn, message)
}

func (s *framedSession) Receive() ([]byte, error) {
	return wire.ReadFrame(s.conn, maxMessageBytes)
}

func (s *framedSession) SetDeadline(deadline time.Time) error {
	return s.conn.SetReadDeadline(deadline)
}

func (s *framedSession) Close() error { return s.conn.Close() }

type webSocketSession struct {
	conn *websocket.Conn
}

func (s *webSocketSession) Send(message *wire.ServerBound) error {
	body, err := wire.Encode(message)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (s *webSocketSession) Receive() ([]byte, error) {
	for {
		messageType, body, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return body, nil
		}
	}
}

func (s *webSocketSession) SetDeadline(deadline time.Time) error {
	return s.conn.SetReadDeadline(deadline)
}

func (s *webSocketSession) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
