// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// acceptGUID is the fixed suffix from RFC 6455 §1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes Sec-WebSocket-Accept for a client's
// Sec-WebSocket-Key.
func AcceptKey(key string) string {
	digest := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// IsUpgradeRequest reports whether request asks to switch to the
// WebSocket protocol. Browsers send "Connection: keep-alive, Upgrade",
// so the Connection header is matched as a token list.
func IsUpgradeRequest(request *http.Request) bool {
	return headerContainsToken(request.Header, "Connection", "upgrade") &&
		headerContainsToken(request.Header, "Upgrade", "websocket")
}

// HandshakeResponse validates an upgrade request and returns the raw
// HTTP 101 response to write before the first frame.
func HandshakeResponse(request *http.Request) ([]byte, error) {
	if request.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: upgrade with method %s", ErrProtocol, request.Method)
	}
	if !IsUpgradeRequest(request) {
		return nil, fmt.Errorf("%w: missing Upgrade: websocket", ErrProtocol)
	}
	key := request.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrProtocol)
	}
	if decoded, err := base64.StdEncoding.DecodeString(key); err != nil || len(decoded) != 16 {
		return nil, fmt.Errorf("%w: malformed Sec-WebSocket-Key %q", ErrProtocol, key)
	}
	if version := request.Header.Get("Sec-WebSocket-Version"); version != "" && version != "13" {
		return nil, fmt.Errorf("%w: unsupported version %s", ErrProtocol, version)
	}

	var response strings.Builder
	response.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	response.WriteString("Upgrade: websocket\r\n")
	response.WriteString("Connection: Upgrade\r\n")
	response.WriteString("Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n")
	response.WriteString("\r\n")
	return []byte(response.String()), nil
}

func headerContainsToken(header http.Header, name, token string) bool {
	for _, value := range header.Values(name) {
		for _, element := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(element), token) {
				return true
			}
		}
	}
	return false
}
