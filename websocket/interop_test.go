// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
)

// echoServer accepts one connection, completes the handshake with this
// package and echoes binary messages back until the client closes.
func echoServer(t *testing.T, listener net.Listener) {
	t.Helper()
	conn, err := listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	request, err := http.ReadRequest(reader)
	if err != nil {
		t.Errorf("server: ReadRequest: %v", err)
		return
	}
	response, err := HandshakeResponse(request)
	if err != nil {
		t.Errorf("server: HandshakeResponse: %v", err)
		return
	}
	if _, err := conn.Write(response); err != nil {
		t.Errorf("server: write handshake: %v", err)
		return
	}

	messages := NewMessageReader(reader, 1<<20)
	for {
		opcode, payload, err := messages.Next()
		if err != nil {
			return
		}
		switch opcode {
		case OpBinary:
			conn.Write(AppendFrame(nil, OpBinary, payload))
		case OpPing:
			conn.Write(AppendFrame(nil, OpPong, payload))
		case OpClose:
			return
		}
	}
}

func TestInteropWithGorillaClient(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()
	go echoServer(t, listener)

	dialer := gorilla.Dialer{HandshakeTimeout: 5 * time.Second, WriteBufferSize: 1024}
	client, _, err := dialer.Dial("ws://"+listener.Addr().String()+"/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The 1 KiB write buffer makes gorilla fragment this message into
	// masked continuation frames.
	large := bytes.Repeat([]byte("0123456789abcdef"), 1000)
	writer, err := client.NextWriter(gorilla.BinaryMessage)
	if err != nil {
		t.Fatalf("NextWriter: %v", err)
	}
	for offset := 0; offset < len(large); offset += 700 {
		end := min(offset+700, len(large))
		if _, err := writer.Write(large[offset:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	messageType, echoed, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if messageType != gorilla.BinaryMessage {
		t.Errorf("message type = %d, want binary", messageType)
	}
	if !bytes.Equal(echoed, large) {
		t.Errorf("echoed %d bytes, want %d identical bytes", len(echoed), len(large))
	}

	pong := make(chan string, 1)
	client.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := client.WriteControl(gorilla.PingMessage, []byte("alive"), time.Now().Add(5*time.Second)); err != nil {
		t.Fatalf("WriteControl ping: %v", err)
	}
	if err := client.WriteMessage(gorilla.BinaryMessage, []byte("after ping")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	// ReadMessage runs the pong handler for the control frame that
	// precedes the echoed data.
	if _, echoed, err = client.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage after ping: %v", err)
	}
	if string(echoed) != "after ping" {
		t.Errorf("echoed %q, want %q", echoed, "after ping")
	}
	select {
	case data := <-pong:
		if data != "alive" {
			t.Errorf("pong payload = %q, want %q", data, "alive")
		}
	default:
		t.Error("no pong received before the echoed message")
	}
}
