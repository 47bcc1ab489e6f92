// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package camera

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/visionkit/streamd/h264"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func unit(kind h264.UnitKind, marker byte) h264.Unit {
	return h264.Unit{Kind: kind, Data: []byte{0, 0, 0, 1, marker}}
}

// recording is two groups of pictures: units 0-3 and 4-6.
func recording() []h264.Unit {
	return []h264.Unit{
		unit(h264.UnitParameterSets, 0x67),
		unit(h264.UnitKeyFrame, 0x65),
		unit(h264.UnitDeltaFrame, 0x41),
		unit(h264.UnitDeltaFrame, 0x42),
		unit(h264.UnitParameterSets, 0x68),
		unit(h264.UnitKeyFrame, 0x66),
		unit(h264.UnitDeltaFrame, 0x43),
	}
}

func marker(t *testing.T, units <-chan h264.Unit) byte {
	t.Helper()
	received := testutil.RequireReceive(t, units, 5*time.Second, "waiting for replayed unit")
	return received.Data[4]
}

func TestReplayEncoder(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	encoder, err := NewReplayEncoder(recording(), ReplayOptions{Clock: fake})
	if err != nil {
		t.Fatalf("NewReplayEncoder: %v", err)
	}

	units := make(chan h264.Unit)
	params := StreamingParams(640, 480, 10, 1000000)
	if err := encoder.Start(params, units); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := encoder.Start(params, units); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start = %v, want ErrRunning", err)
	}

	// Parameter sets and the first key frame go out immediately.
	if got := []byte{marker(t, units), marker(t, units)}; !bytes.Equal(got, []byte{0x67, 0x65}) {
		t.Fatalf("first tick = % x, want 67 65", got)
	}

	fake.WaitForTimers(1)
	fake.Advance(100 * time.Millisecond)
	if got := marker(t, units); got != 0x41 {
		t.Errorf("second tick = %x, want delta 41", got)
	}

	// A key frame request skips the remaining delta.
	encoder.RequestKeyFrame()
	fake.Advance(100 * time.Millisecond)
	if got := []byte{marker(t, units), marker(t, units)}; !bytes.Equal(got, []byte{0x68, 0x66}) {
		t.Errorf("after key frame request = % x, want 68 66", got)
	}

	if err := encoder.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := encoder.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
	select {
	case extra := <-units:
		t.Errorf("unit %x delivered after Stop", extra.Data)
	default:
	}
}

func TestReplayEncoderKeyRequestWraps(t *testing.T) {
	t.Parallel()

	encoder, err := NewReplayEncoder(recording(), ReplayOptions{Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("NewReplayEncoder: %v", err)
	}
	tests := []struct{ position, want int }{
		{0, 0}, {2, 4}, {4, 4}, {6, 0},
	}
	for _, test := range tests {
		if got := encoder.nextKeyStart(test.position); got != test.want {
			t.Errorf("nextKeyStart(%d) = %d, want %d", test.position, got, test.want)
		}
	}
}

func TestReplayEncoderStopWhileBlocked(t *testing.T) {
	t.Parallel()

	encoder, err := NewReplayEncoder(recording(), ReplayOptions{Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("NewReplayEncoder: %v", err)
	}
	// Nobody reads this channel: Stop must still return.
	if err := encoder.Start(StreamingParams(640, 480, 30, 1000000), make(chan h264.Unit)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := make(chan error, 1)
	go func() { stopped <- encoder.Stop() }()
	if err := testutil.RequireReceive(t, stopped, 5*time.Second, "Stop blocked on an unread channel"); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestReplayRequiresKeyFrame(t *testing.T) {
	t.Parallel()

	_, err := NewReplayEncoder([]h264.Unit{unit(h264.UnitDeltaFrame, 0x41)}, ReplayOptions{})
	if err == nil {
		t.Fatal("NewReplayEncoder accepted a recording without key frames")
	}
}

func TestLoadReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.h264")
	stream := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce, 0, 0, 0, 1, 0x65, 0x88, 0, 0, 0, 1, 0x41, 0x9a}
	if err := os.WriteFile(path, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	units, err := LoadReplay(path)
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	var kinds []h264.UnitKind
	for _, loaded := range units {
		kinds = append(kinds, loaded.Kind)
	}
	want := []h264.UnitKind{h264.UnitParameterSets, h264.UnitKeyFrame, h264.UnitDeltaFrame}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestCommandEncoderArguments(t *testing.T) {
	t.Parallel()

	encoder := NewCommandEncoder(CommandOptions{Path: "rpicam-vid", IntraPeriod: 30})
	arguments := encoder.Arguments(StreamingParams(1640, 1232, 30, 1000000))
	want := []string{
		"--timeout", "0",
		"--nopreview",
		"--codec", "h264",
		"--profile", "baseline",
		"--bitrate", "1000000",
		"--width", "1640",
		"--height", "1232",
		"--framerate", "30",
		"--intra", "30",
		"--inline",
		"--output", "-",
	}
	if !slices.Equal(arguments, want) {
		t.Errorf("Arguments =\n%v\nwant\n%v", arguments, want)
	}
}

func TestCommandEncoderForwardsStdout(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	source := filepath.Join(directory, "clip.h264")
	stream := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce, 0, 0, 0, 1, 0x65, 0x88, 0, 0, 0, 1, 0x41, 0x9a}
	if err := os.WriteFile(source, stream, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	script := filepath.Join(directory, "fake-camera")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec cat '"+source+"'\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	encoder := NewCommandEncoder(CommandOptions{Path: script})
	units := make(chan h264.Unit, 8)
	if err := encoder.Start(StreamingParams(640, 480, 30, 1000000), units); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, want := range []h264.UnitKind{h264.UnitParameterSets, h264.UnitKeyFrame, h264.UnitDeltaFrame} {
		got := testutil.RequireReceive(t, units, 5*time.Second, "waiting for %s unit", want)
		if got.Kind != want {
			t.Errorf("unit kind = %s, want %s", got.Kind, want)
		}
	}
	encoder.RequestKeyFrame()
	if err := encoder.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "fake-camera")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return script
}

func TestCommandEncoderReportsUnexpectedExit(t *testing.T) {
	t.Parallel()

	exits := make(chan error, 1)
	encoder := NewCommandEncoder(CommandOptions{
		Path:   writeScript(t, "exit 3"),
		OnExit: func(err error) { exits <- err },
	})
	if err := encoder.Start(StreamingParams(640, 480, 30, 1000000), make(chan h264.Unit, 8)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := testutil.RequireReceive(t, exits, 5*time.Second, "waiting for exit report")
	if !errors.Is(err, ErrCommandExited) {
		t.Errorf("exit error = %v, want ErrCommandExited", err)
	}
	if err := encoder.Stop(); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}

func TestCommandEncoderStopIsNotReportedAsExit(t *testing.T) {
	t.Parallel()

	exits := make(chan error, 1)
	encoder := NewCommandEncoder(CommandOptions{
		Path:   writeScript(t, "exec sleep 60"),
		OnExit: func(err error) { exits <- err },
	})
	if err := encoder.Start(StreamingParams(640, 480, 30, 1000000), make(chan h264.Unit, 8)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := encoder.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-exits:
		t.Errorf("Stop reported as unexpected exit: %v", err)
	default:
	}
}
