// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/lib/testutil"
	"github.com/visionkit/streamd/wire"
)

type testServer struct {
	*Server
	encoder *fakeEncoder
	clock   *clock.FakeClock
	done    chan error
	cancel  context.CancelFunc
}

func startTestServer(t *testing.T, configure ...func(*Config)) *testServer {
	t.Helper()
	encoder := newFakeEncoder()
	fakeClock := clock.Fake(testEpoch)
	config := Config{
		Address:       "127.0.0.1",
		Encoder:       encoder,
		EncoderParams: camera.StreamingParams(640, 480, 30, 1_000_000),
		Clock:         fakeClock,
		Logger:        discardLogger(),
	}
	for _, apply := range configure {
		apply(&config)
	}
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), testTimeout, "server did not become ready")

	ts := &testServer{Server: server, encoder: encoder, clock: fakeClock, done: done, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("Serve did not return after cancellation")
		}
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, protocol Protocol) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.Addr(protocol).String())
	if err != nil {
		t.Fatalf("dial %s: %v", protocol, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendStreamControl(t *testing.T, conn net.Conn, enabled bool) {
	t.Helper()
	message := &wire.ServerBound{StreamControl: &wire.StreamControl{Enabled: enabled}}
	if err := wire.WriteMessage(conn, message); err != nil {
		t.Fatalf("sending stream control: %v", err)
	}
}

func readClientBound(t *testing.T, conn net.Conn) *wire.ClientBound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	message, err := wire.ReadClientBound(conn, 1<<20)
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return message
}

func TestFramedViewerReceivesCodecThenKeyFrame(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dial(t, ProtocolFramed)
	sendStreamControl(t, conn, true)
	testutil.RequireReceive(t, ts.encoder.started, testTimeout, "encoder not started")

	// The viewer has no codec data yet, so this delta is withheld and
	// a key frame is requested.
	ts.encoder.emit(t, deltaFrame())
	testutil.RequireReceive(t, ts.encoder.keyRequested, testTimeout, "no key frame request")

	ts.encoder.emit(t, parameterSets())
	ts.encoder.emit(t, keyFrame())

	codec := readClientBound(t, conn)
	if kind, _ := codec.Kind(); kind != "codec" {
		t.Fatalf("first message kind = %q, want codec", kind)
	}
	if got := codec.Stream.Codec; got.Width != 640 || got.Height != 480 || !bytes.Equal(got.Data, testParameterSets) {
		t.Errorf("codec = %dx%d %x", got.Width, got.Height, got.Data)
	}

	key := readClientBound(t, conn).Stream.Frame
	if key.Type != wire.FrameKey || !bytes.Equal(key.Data, testKeyFrame) {
		t.Errorf("second message = %s frame %x, want key frame", key.Type, key.Data)
	}

	ts.clock.Advance(40 * time.Millisecond)
	ts.encoder.emit(t, deltaFrame())
	delta := readClientBound(t, conn).Stream.Frame
	if delta.Type != wire.FrameDelta {
		t.Errorf("third message type = %s, want delta", delta.Type)
	}
	if delta.Seq <= key.Seq {
		t.Errorf("seq did not increase: key %d, delta %d", key.Seq, delta.Seq)
	}
	if got := delta.PTS - key.PTS; got != 40_000 {
		t.Errorf("pts delta = %dµs, want 40000", got)
	}
}

func TestDisableSendsStopAndStopsEncoder(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dial(t, ProtocolFramed)
	sendStreamControl(t, conn, true)
	testutil.RequireReceive(t, ts.encoder.started, testTimeout, "encoder not started")

	sendStreamControl(t, conn, false)
	testutil.RequireReceive(t, ts.encoder.stopped, testTimeout, "encoder not stopped")
	if kind, _ := readClientBound(t, conn).Kind(); kind != "stop" {
		t.Errorf("message after disable = %q, want stop", kind)
	}
	if stats := ts.Stats(); stats.Viewers != 1 || stats.Streaming != 0 {
		t.Errorf("stats = viewers %d streaming %d, want 1 0", stats.Viewers, stats.Streaming)
	}
}

func TestEncoderRunsWhileAnyViewerStreams(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	first := ts.dial(t, ProtocolFramed)
	second := ts.dial(t, ProtocolFramed)

	sendStreamControl(t, first, true)
	testutil.RequireReceive(t, ts.encoder.started, testTimeout, "encoder not started")
	sendStreamControl(t, second, true)
	testutil.Eventually(t, testTimeout, func() bool { return ts.Stats().Streaming == 2 }, "second viewer not streaming")

	first.Close()
	testutil.Eventually(t, testTimeout, func() bool { return ts.Stats().Viewers == 1 }, "first viewer not unregistered")
	if _, stops, _, running := ts.encoder.counts(); stops != 0 || !running {
		t.Fatalf("encoder stopped with a viewer still streaming (stops %d)", stops)
	}

	second.Close()
	testutil.RequireReceive(t, ts.encoder.stopped, testTimeout, "encoder not stopped after last viewer left")
	if starts, stops, _, _ := ts.encoder.counts(); starts != 1 || stops != 1 {
		t.Errorf("encoder starts = %d stops = %d, want 1 1", starts, stops)
	}
}

func TestRawViewerStreamsOnConnect(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dial(t, ProtocolRaw)
	testutil.RequireReceive(t, ts.encoder.started, testTimeout, "encoder not started for raw viewer")

	if err := ts.PublishInference(wire.InferenceData{}); err != nil {
		t.Fatalf("PublishInference: %v", err)
	}
	ts.encoder.emit(t, parameterSets())
	ts.encoder.emit(t, keyFrame())
	ts.encoder.emit(t, deltaFrame())

	var want []byte
	want = append(want, testParameterSets...)
	want = append(want, testKeyFrame...)
	want = append(want, testDeltaFrame...)
	got := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("reading raw stream: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("raw stream = %x, want %x", got, want)
	}

	// Inbound bytes are ignored.
	if _, err := conn.Write([]byte("anything")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.Close()
	testutil.RequireReceive(t, ts.encoder.stopped, testTimeout, "encoder not stopped after raw viewer left")
}

func TestMalformedFramedMessageClosesViewer(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dial(t, ProtocolFramed)
	if _, err := conn.Write(wire.AppendFrame(nil, []byte{0xff, 0x00})); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("read after malformed message = %v, want EOF", err)
	}
	testutil.Eventually(t, testTimeout, func() bool { return ts.Stats().Viewers == 0 }, "viewer not unregistered")
}

func TestOversizedFramedMessageClosesViewer(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, func(c *Config) { c.MaxMessageBytes = 16 })
	conn := ts.dial(t, ProtocolFramed)
	if _, err := conn.Write([]byte{0, 0, 1, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("read after oversized prefix = %v, want EOF", err)
	}
}

func TestEncoderStartFailureStopsServer(t *testing.T) {
	t.Parallel()

	startErr := errors.New("camera busy")
	ts := startTestServer(t)
	ts.encoder.mu.Lock()
	ts.encoder.startErr = startErr
	ts.encoder.mu.Unlock()

	conn := ts.dial(t, ProtocolFramed)
	sendStreamControl(t, conn, true)

	err := testutil.RequireReceive(t, ts.done, testTimeout, "Serve did not return after encoder failure")
	if !errors.Is(err, startErr) {
		t.Errorf("Serve error = %v, want %v", err, startErr)
	}
	ts.done <- err
}

func TestShutdownDisconnectsViewers(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dial(t, ProtocolFramed)
	sendStreamControl(t, conn, true)
	testutil.RequireReceive(t, ts.encoder.started, testTimeout, "encoder not started")

	ts.cancel()
	if err := testutil.RequireReceive(t, ts.done, testTimeout, "Serve did not return"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
	ts.done <- nil
	if _, stops, _, running := ts.encoder.counts(); stops != 1 || running {
		t.Errorf("encoder stops = %d running = %v after shutdown", stops, running)
	}
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("read after shutdown = %v, want EOF", err)
	}
}

func TestPublishInferenceValidates(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	err := ts.PublishInference(wire.InferenceData{Elements: []wire.Element{{}}})
	if !errors.Is(err, wire.ErrMalformedMessage) {
		t.Errorf("PublishInference(empty element) = %v, want ErrMalformedMessage", err)
	}
}
