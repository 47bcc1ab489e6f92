// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream distributes live camera video to network viewers.
//
// A [Server] listens on three ports, one per [Protocol]:
//
//   - ProtocolFramed (4665): length-prefixed CBOR messages, see package
//     wire.
//   - ProtocolWebSocket (4664): the same CBOR bodies carried in binary
//     WebSocket messages. Plain HTTP GET requests on this port serve
//     the browser viewer's static assets.
//   - ProtocolRaw (4666): the bare Annex-B H.264 elementary stream,
//     suitable for piping into a player.
//
// Every accepted connection becomes a [Viewer]. Framed and WebSocket
// viewers start idle and send a StreamControl message to enable
// delivery; raw viewers stream from the moment they connect. The
// camera encoder runs only while at least one viewer is streaming.
//
// Each viewer has a bounded transmit queue. When a slow viewer falls
// behind, the oldest queued messages are dropped and the viewer is
// resynchronized: nothing more is sent to it until fresh codec data
// and a key frame arrive, and the dispatcher asks the encoder for one.
// A slow viewer therefore never delays the encoder or other viewers.
package stream
