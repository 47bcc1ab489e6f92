// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// streamprobe connects to a streamd server as a viewer, enables
// streaming and reports what arrives. It can save the received video
// as an Annex-B file playable with ffplay or mpv.
//
// Usage:
//
//	streamprobe [--protocol framed|websocket] [--frames N] [--output clip.h264] host[:port]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/visionkit/streamd/lib/process"
	"github.com/visionkit/streamd/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		protocol    string
		frames      int
		duration    time.Duration
		outputPath  string
		dump        bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("streamprobe", pflag.ContinueOnError)
	flagSet.StringVar(&protocol, "protocol", "framed", "viewer protocol: framed or websocket")
	flagSet.IntVar(&frames, "frames", 0, "stop after this many frames (0: until interrupted)")
	flagSet.DurationVar(&duration, "duration", 0, "stop after this long (0: until interrupted)")
	flagSet.StringVarP(&outputPath, "output", "o", "", "write the received Annex-B stream to this file")
	flagSet.BoolVar(&dump, "dump", false, "print every message in CBOR diagnostic notation")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("streamprobe %s\n", version.Info())
		return nil
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: streamprobe [flags] host[:port]")
	}

	address, err := withDefaultPort(flagSet.Arg(0), protocol)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var output io.Writer
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer file.Close()
		output = file
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	session, err := dial(ctx, protocol, address)
	if err != nil {
		return err
	}
	defer session.Close()

	rec := &recorder{
		session:   session,
		maxFrames: frames,
		output:    output,
		logger:    logger,
	}
	if dump {
		rec.dump = os.Stdout
	}
	summary, err := rec.run(ctx)
	logger.Info("recording finished",
		"codec_messages", summary.Codec,
		"key_frames", summary.KeyFrames,
		"delta_frames", summary.DeltaFrames,
		"inference", summary.Inference,
		"seq_gaps", summary.SeqGaps,
		"bytes", summary.Bytes,
		"stopped", summary.Stopped,
	)
	return err
}

// withDefaultPort appends the protocol's standard port when address
// has none.
func withDefaultPort(address, protocol string) (string, error) {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address, nil
	}
	switch protocol {
	case "framed":
		return net.JoinHostPort(address, strconv.Itoa(4665)), nil
	case "websocket":
		return net.JoinHostPort(address, strconv.Itoa(4664)), nil
	default:
		return "", fmt.Errorf("unknown protocol %q (want framed or websocket)", protocol)
	}
}
