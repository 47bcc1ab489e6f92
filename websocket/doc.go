// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package websocket implements the subset of RFC 6455 the stream server
// speaks: the opening handshake on an already parsed HTTP request,
// frame encoding and decoding, and reassembly of fragmented binary
// messages.
//
// The server owns the socket and its two goroutines, so this package
// never reads or writes a net.Conn itself. [MessageReader] decodes from
// any io.Reader (normally the bufio.Reader that parsed the HTTP
// request); [AppendFrame] produces bytes the caller queues for its
// transmit loop.
//
// Only binary data messages are supported. Text frames are a protocol
// error; ping is surfaced to the caller to answer with pong; close ends
// the session. Server frames are never masked and are never
// fragmented.
package websocket
