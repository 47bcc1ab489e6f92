// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/lib/config"
)

func TestLoadConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamd.yaml")
	yaml := "listen:\n  framed_port: 5665\nstream:\n  queue_size: 20\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, _, err := parseFlags([]string{
		"--config", path,
		"--address", "127.0.0.1",
		"--source", "/tmp/clip.h264",
		"--no-presence",
		"--log-level", "warn",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Listen.FramedPort != 5665 || cfg.Listen.WebSocketPort != 4664 {
		t.Errorf("ports = %d/%d, want 5665/4664", cfg.Listen.FramedPort, cfg.Listen.WebSocketPort)
	}
	if cfg.Listen.Address != "127.0.0.1" {
		t.Errorf("address = %q", cfg.Listen.Address)
	}
	if cfg.Stream.QueueSize != 20 {
		t.Errorf("queue size = %d, want 20", cfg.Stream.QueueSize)
	}
	if cfg.Encoder.Kind != config.EncoderReplay || cfg.Encoder.SourceFile != "/tmp/clip.h264" {
		t.Errorf("encoder = %s %q, want replay of /tmp/clip.h264", cfg.Encoder.Kind, cfg.Encoder.SourceFile)
	}
	if cfg.Presence.Enabled {
		t.Error("presence still enabled")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want flag to win over file", cfg.Log.Level)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamd.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  raw_port: 7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvironmentVariable, path)

	opts, _, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen.RawPort != 7000 {
		t.Errorf("raw port = %d, want 7000", cfg.Listen.RawPort)
	}
}

func TestLoadConfigDefaultsExpandHome(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	t.Setenv("HOME", "/home/camera")

	opts, _, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if want := "/home/camera/.config/aiy/device_name"; cfg.Presence.DeviceNameFile != want {
		t.Errorf("device name file = %q, want %q", cfg.Presence.DeviceNameFile, want)
	}
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	opts, _, err := parseFlags([]string{"--encoder", "webcam"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if _, err := loadConfig(opts); err == nil || !strings.Contains(err.Error(), "encoder.kind") {
		t.Errorf("loadConfig = %v, want encoder.kind error", err)
	}
}

func TestParseFlagsRejectsArguments(t *testing.T) {
	t.Parallel()

	if _, _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("parseFlags accepted a positional argument")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	logger, err := newLogger(&buffer, config.LogConfig{Level: "warn", Format: "auto"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "port", 4665)

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("auto format on a non-terminal is not JSON: %v", err)
	}
	if record["msg"] != "shown" || record["port"] != float64(4665) {
		t.Errorf("record = %v", record)
	}

	buffer.Reset()
	logger, err = newLogger(&buffer, config.LogConfig{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("newLogger(text): %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(buffer.String(), "msg=visible") {
		t.Errorf("text output = %q", buffer.String())
	}

	if _, err := newLogger(&buffer, config.LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("newLogger accepted format xml")
	}
	if _, err := newLogger(&buffer, config.LogConfig{Level: "loud"}); err == nil {
		t.Error("newLogger accepted level loud")
	}
}

func TestServerConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Listen.Address = "0.0.0.0"
	cfg.Stream.KeyFrameRetry = 3 * time.Second
	encoder := camera.NewCommandEncoder(camera.CommandOptions{Path: "rpicam-vid"})
	logger := slog.New(slog.DiscardHandler)

	got := serverConfig(cfg, encoder, nil, clock.Real(), logger, nil)
	if got.Address != "0.0.0.0" || got.FramedPort != 4665 || got.WebSocketPort != 4664 || got.RawPort != 4666 {
		t.Errorf("listen = %s %d/%d/%d", got.Address, got.FramedPort, got.WebSocketPort, got.RawPort)
	}
	if got.QueueSize != 15 || got.KeyFrameRetry != 3*time.Second {
		t.Errorf("stream = queue %d retry %s", got.QueueSize, got.KeyFrameRetry)
	}
	params := got.EncoderParams
	if params.Width != 1640 || params.Height != 1232 || params.Framerate != 30 || params.Bitrate != 1_000_000 {
		t.Errorf("encoder params = %+v", params)
	}
	if params.Profile != "baseline" || !params.InlineHeaders || params.IntraPeriod != 0 {
		t.Errorf("streaming params not applied: %+v", params)
	}
}

func TestNewEncoderKinds(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	encoder, err := newEncoder(config.EncoderConfig{Kind: config.EncoderCommand, Command: "rpicam-vid"}, clock.Real(), logger, nil)
	if err != nil {
		t.Fatalf("command encoder: %v", err)
	}
	if _, ok := encoder.(*camera.CommandEncoder); !ok {
		t.Errorf("command encoder has type %T", encoder)
	}

	if _, err := newEncoder(config.EncoderConfig{Kind: config.EncoderReplay, SourceFile: filepath.Join(t.TempDir(), "missing.h264")}, clock.Real(), logger, nil); err == nil {
		t.Error("replay encoder with a missing file succeeded")
	}
	if _, err := newEncoder(config.EncoderConfig{Kind: "webcam"}, clock.Real(), logger, nil); err == nil {
		t.Error("unknown encoder kind succeeded")
	}
}
