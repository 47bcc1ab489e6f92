// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/visionkit/streamd/lib/codec"
	"github.com/visionkit/streamd/lib/netutil"
	"github.com/visionkit/streamd/wire"
)

// stopTimeout bounds the wait for the server's stop acknowledgement.
const stopTimeout = 2 * time.Second

// summary counts what a recorder received.
type summary struct {
	Codec       int
	KeyFrames   int
	DeltaFrames int
	Inference   int
	// SeqGaps counts frames whose seq did not follow the previous one.
	SeqGaps int
	Bytes   int
	// Stopped is set when the server acknowledged the disable.
	Stopped bool
}

type recorder struct {
	session   session
	maxFrames int
	output    io.Writer
	// dump receives each message in CBOR diagnostic notation when set.
	dump   io.Writer
	logger *slog.Logger

	summary summary
	lastSeq uint32
	haveSeq bool
}

// run enables streaming, receives until maxFrames frames arrived or
// ctx is done, then disables streaming and waits for the stop
// acknowledgement.
func (r *recorder) run(ctx context.Context) (summary, error) {
	enable := &wire.ServerBound{StreamControl: &wire.StreamControl{Enabled: true}}
	if err := r.session.Send(enable); err != nil {
		return r.summary, fmt.Errorf("enabling stream: %w", err)
	}

	interrupted := make(chan struct{})
	stopInterrupt := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		r.session.SetDeadline(time.Now())
	})

	for r.maxFrames == 0 || r.frames() < r.maxFrames {
		body, err := r.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if netutil.IsExpectedCloseError(err) {
				return r.summary, fmt.Errorf("server closed the connection")
			}
			return r.summary, fmt.Errorf("receiving: %w", err)
		}
		if _, err := r.handle(body); err != nil {
			return r.summary, err
		}
	}

	if !stopInterrupt() {
		<-interrupted
	}
	return r.summary, r.disable()
}

// disable asks the server to stop and drains until the stop message.
func (r *recorder) disable() error {
	disable := &wire.ServerBound{StreamControl: &wire.StreamControl{Enabled: false}}
	if err := r.session.Send(disable); err != nil {
		return fmt.Errorf("disabling stream: %w", err)
	}
	if err := r.session.SetDeadline(time.Now().Add(stopTimeout)); err != nil {
		return err
	}
	for {
		body, err := r.session.Receive()
		if err != nil {
			if netutil.IsTimeout(err) {
				r.logger.Warn("no stop acknowledgement", "timeout", stopTimeout)
				return nil
			}
			return fmt.Errorf("waiting for stop: %w", err)
		}
		kind, err := r.handle(body)
		if err != nil {
			return err
		}
		if kind == "stop" {
			return nil
		}
	}
}

func (r *recorder) frames() int {
	return r.summary.KeyFrames + r.summary.DeltaFrames
}

// handle decodes one message body and records it. Returns the message
// kind.
func (r *recorder) handle(body []byte) (string, error) {
	if r.dump != nil {
		if text, err := codec.Diagnose(body); err == nil {
			fmt.Fprintln(r.dump, text)
		}
	}
	message, err := wire.DecodeClientBound(body)
	if err != nil {
		return "", err
	}
	kind, err := message.Kind()
	if err != nil {
		return "", err
	}

	switch kind {
	case "codec":
		data := message.Stream.Codec
		r.summary.Codec++
		r.logger.Info("codec data", "width", data.Width, "height", data.Height, "bytes", len(data.Data))
		return kind, r.write(data.Data)

	case "frame":
		frame := message.Stream.Frame
		if frame.Type == wire.FrameKey {
			r.summary.KeyFrames++
			r.logger.Info("key frame", "seq", frame.Seq, "pts", time.Duration(frame.PTS)*time.Microsecond, "bytes", len(frame.Data))
		} else {
			r.summary.DeltaFrames++
		}
		if r.haveSeq && frame.Seq != r.lastSeq+1 {
			r.summary.SeqGaps++
			r.logger.Debug("sequence gap", "previous", r.lastSeq, "seq", frame.Seq)
		}
		r.lastSeq, r.haveSeq = frame.Seq, true
		return kind, r.write(frame.Data)

	case "inference":
		r.summary.Inference++
		r.logger.Info("inference", "elements", len(message.Stream.Inference.Elements))

	case "stop":
		r.summary.Stopped = true
		r.logger.Info("stream stopped by server acknowledgement")
	}
	return kind, nil
}

func (r *recorder) write(data []byte) error {
	r.summary.Bytes += len(data)
	if r.output == nil {
		return nil
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
