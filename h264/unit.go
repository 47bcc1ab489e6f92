// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package h264

import (
	"fmt"
	"io"
)

// UnitKind classifies a grouped unit.
type UnitKind uint8

const (
	// UnitParameterSets holds consecutive SPS and PPS NAL units.
	UnitParameterSets UnitKind = iota + 1
	// UnitKeyFrame holds an IDR picture and any AUD/SEI before it.
	UnitKeyFrame
	// UnitDeltaFrame holds a non-IDR picture and any AUD/SEI before it.
	UnitDeltaFrame
)

func (k UnitKind) String() string {
	switch k {
	case UnitParameterSets:
		return "parameter-sets"
	case UnitKeyFrame:
		return "key"
	case UnitDeltaFrame:
		return "delta"
	default:
		return fmt.Sprintf("UnitKind(%d)", uint8(k))
	}
}

// Unit is a group of NAL units in Annex-B form.
type Unit struct {
	Kind UnitKind
	Data []byte
}

// Grouper turns a sequence of NAL units into Units.
type Grouper struct {
	parameters []byte
	prefix     []byte
}

// Push adds one NAL unit (with start code) and returns any units it
// completes: parameter sets are flushed when the first non-parameter
// NAL follows them, and a picture is complete at its slice.
func (g *Grouper) Push(nal []byte) []Unit {
	var units []Unit
	kind := TypeOf(nal)
	if kind == NALSPS || kind == NALPPS {
		g.parameters = append(g.parameters, nal...)
		return nil
	}
	if len(g.parameters) > 0 {
		units = append(units, Unit{Kind: UnitParameterSets, Data: g.parameters})
		g.parameters = nil
	}

	switch kind {
	case NALIDR, NALSlice:
		data := append(g.prefix, nal...)
		g.prefix = nil
		unitKind := UnitDeltaFrame
		if kind == NALIDR {
			unitKind = UnitKeyFrame
		}
		units = append(units, Unit{Kind: unitKind, Data: data})
	default:
		g.prefix = append(g.prefix, nal...)
	}
	return units
}

// Group applies a Grouper to a whole buffer. Trailing parameter sets or
// prefix NALs without a picture are dropped.
func Group(stream []byte) []Unit {
	var grouper Grouper
	var units []Unit
	for _, nal := range Split(stream) {
		units = append(units, grouper.Push(cloneBytes(nal))...)
	}
	return units
}

func cloneBytes(data []byte) []byte {
	return append([]byte(nil), data...)
}

// readChunkSize is the read size from the camera pipe. A 1080p key
// frame at 1 Mbit/s fits in a few reads.
const readChunkSize = 64 * 1024

// Scanner reads Units from a live Annex-B stream, such as a camera
// command's stdout.
type Scanner struct {
	r       io.Reader
	buf     []byte
	chunk   []byte
	eof     bool
	grouper Grouper
	ready   []Unit
}

// NewScanner reads Annex-B from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r, chunk: make([]byte, readChunkSize)}
}

// Next returns the next unit. It returns io.EOF once the stream ends
// and every complete unit has been returned.
func (s *Scanner) Next() (Unit, error) {
	for len(s.ready) == 0 {
		nal, err := s.nextNAL()
		if err != nil {
			return Unit{}, err
		}
		s.ready = s.grouper.Push(nal)
	}
	unit := s.ready[0]
	s.ready = s.ready[1:]
	return unit, nil
}

// nextNAL returns the next complete NAL unit. A unit is complete when
// the following start code has been read, or at end of stream.
func (s *Scanner) nextNAL() ([]byte, error) {
	for {
		start, length := findStartCode(s.buf, 0)
		if start > 0 {
			s.buf = s.buf[start:]
			start = 0
		}
		if start == 0 {
			if next, _ := findStartCode(s.buf, length); next > 0 {
				nal := cloneBytes(s.buf[:next])
				s.buf = s.buf[next:]
				return nal, nil
			}
		} else if len(s.buf) > 3 {
			// No start code yet: keep only a tail that might begin one.
			s.buf = s.buf[len(s.buf)-3:]
		}

		if s.eof {
			if start == 0 && len(s.buf) > length {
				nal := cloneBytes(s.buf)
				s.buf = nil
				return nal, nil
			}
			return nil, io.EOF
		}

		n, err := s.r.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return nil, fmt.Errorf("read annex-b stream: %w", err)
		}
	}
}
