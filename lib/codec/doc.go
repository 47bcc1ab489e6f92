// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration shared by every
// streamd wire message.
//
// Message bodies on the framed-binary port and inside WebSocket binary
// messages are CBOR. Encoding uses Core Deterministic Encoding (RFC 8949
// §4.2), so a message built once by the dispatcher encodes to the same
// bytes for every client that sends it.
//
//	data, err := codec.Marshal(message)
//	err = codec.Unmarshal(data, &message)
//
// Wire structs carry `cbor` tags only. Decoding ignores unknown fields
// so older viewers keep working when a message grows a field.
package codec
