// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package h264

import "bytes"

// NALType is nal_unit_type from the NAL header.
type NALType uint8

const (
	NALSlice NALType = 1
	NALIDR   NALType = 5
	NALSEI   NALType = 6
	NALSPS   NALType = 7
	NALPPS   NALType = 8
	NALAUD   NALType = 9
)

var startCode = []byte{0, 0, 1}

// findStartCode returns the offset of the first start code in buf at or
// after from, including the leading zero of a 4-byte start code, and
// the start code's length. It returns -1 when none is found.
func findStartCode(buf []byte, from int) (offset, length int) {
	if from >= len(buf) {
		return -1, 0
	}
	index := bytes.Index(buf[from:], startCode)
	if index < 0 {
		return -1, 0
	}
	offset = from + index
	if offset > from && buf[offset-1] == 0 {
		return offset - 1, 4
	}
	return offset, 3
}

// TypeOf returns the type of a NAL unit given with or without its start
// code. It returns 0 for an empty unit.
func TypeOf(nal []byte) NALType {
	if offset, length := findStartCode(nal, 0); offset == 0 {
		nal = nal[length:]
	}
	if len(nal) == 0 {
		return 0
	}
	return NALType(nal[0] & 0x1F)
}

// Split returns the NAL units of an Annex-B buffer, each including its
// start code. Bytes before the first start code are discarded.
func Split(stream []byte) [][]byte {
	var units [][]byte
	start, length := findStartCode(stream, 0)
	for start >= 0 {
		next, nextLength := findStartCode(stream, start+length)
		if next < 0 {
			units = append(units, stream[start:])
			break
		}
		units = append(units, stream[start:next])
		start, length = next, nextLength
	}
	return units
}
