// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/lib/config"
	"github.com/visionkit/streamd/stream"
	"github.com/visionkit/streamd/transport"
)

// newLogger builds the process logger. Format "auto" picks text when
// output is a terminal and JSON otherwise.
func newLogger(output io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := cfg.Format
	if format == "" || format == "auto" {
		format = "json"
		if file, ok := output.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(output, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, text or json)", cfg.Format)
	}
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// newEncoder builds the camera adapter selected by cfg. onExit is
// told when a camera command dies on its own.
func newEncoder(cfg config.EncoderConfig, systemClock clock.Clock, logger *slog.Logger, onExit func(error)) (camera.Encoder, error) {
	switch cfg.Kind {
	case config.EncoderReplay:
		units, err := camera.LoadReplay(cfg.SourceFile)
		if err != nil {
			return nil, err
		}
		encoder, err := camera.NewReplayEncoder(units, camera.ReplayOptions{Clock: systemClock, Logger: logger})
		if err != nil {
			return nil, err
		}
		return encoder, nil
	case config.EncoderCommand:
		return camera.NewCommandEncoder(camera.CommandOptions{
			Path:        cfg.Command,
			IntraPeriod: cfg.IntraPeriod,
			OnExit:      onExit,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown encoder kind %q", cfg.Kind)
	}
}

// serverConfig maps the file configuration onto the stream server.
func serverConfig(cfg *config.Config, encoder camera.Encoder, assetStore stream.AssetStore, systemClock clock.Clock, logger *slog.Logger) stream.Config {
	return stream.Config{
		Address:         cfg.Listen.Address,
		FramedPort:      cfg.Listen.FramedPort,
		WebSocketPort:   cfg.Listen.WebSocketPort,
		RawPort:         cfg.Listen.RawPort,
		QueueSize:       cfg.Stream.QueueSize,
		MaxConnections:  cfg.Stream.MaxConnections,
		MaxMessageBytes: cfg.Stream.MaxMessageBytes,
		WriteTimeout:    cfg.Stream.WriteTimeout,
		KeyFrameRetry:   cfg.Stream.KeyFrameRetry,
		NotSentLowWater: transport.DefaultNotSentLowWater,
		Encoder:         encoder,
		EncoderParams: camera.StreamingParams(
			cfg.Encoder.Width,
			cfg.Encoder.Height,
			cfg.Encoder.Framerate,
			cfg.Encoder.Bitrate,
		),
		Assets: assetStore,
		Clock:  systemClock,
		Logger: logger.With("component", "stream"),
	}
}
