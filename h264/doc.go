// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package h264 splits an H.264 Annex-B byte stream into NAL units and
// groups them into the units the stream server forwards: parameter sets
// (SPS and PPS, sent to viewers as codec data), key frames (IDR
// pictures) and delta frames.
//
// Every unit keeps its start codes, so concatenating units in order
// reproduces a valid Annex-B stream for the raw port.
//
// Grouping assumes one slice per picture, which is what the camera
// encoders produce. Access unit delimiters and SEI messages are
// attached to the picture that follows them.
package h264
