// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the messages exchanged with structured viewers
// and their framing on a byte stream.
//
// Viewers send [ServerBound] messages; the only one is a
// [StreamControl] toggling delivery. The server sends [ClientBound]
// messages: a [StreamData] envelope holding exactly one of
// [CodecData], [FrameData] or [InferenceData], or a [StreamStop]
// acknowledging that delivery was disabled.
//
// Bodies are CBOR (see lib/codec). On the framed-binary port every body
// is preceded by its length as a 4-byte big-endian integer:
//
//	+----------------+----------------------+
//	| length (4, BE) | CBOR body (length)   |
//	+----------------+----------------------+
//
// Inside WebSocket binary messages the WebSocket payload length takes
// the place of the prefix and the payload is the bare CBOR body.
package wire
