// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Listen.FramedPort != 4665 || cfg.Listen.WebSocketPort != 4664 || cfg.Listen.RawPort != 4666 {
		t.Errorf("ports = %d/%d/%d, want 4665/4664/4666",
			cfg.Listen.FramedPort, cfg.Listen.WebSocketPort, cfg.Listen.RawPort)
	}
	if cfg.Stream.QueueSize != 15 {
		t.Errorf("queue_size = %d, want 15", cfg.Stream.QueueSize)
	}
	if cfg.Encoder.Bitrate != 1000000 {
		t.Errorf("bitrate = %d, want 1000000", cfg.Encoder.Bitrate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when STREAMD_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), "STREAMD_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("STREAMD_TEST_ROOT", "/srv/camera")

	path := filepath.Join(t.TempDir(), "streamd.yaml")
	content := `
listen:
  framed_port: 5665
stream:
  queue_size: 30
  key_frame_retry: 500ms
encoder:
  kind: replay
  source_file: ${STREAMD_TEST_ROOT}/clip.h264
assets:
  directory: ${STREAMD_MISSING_VAR:-/opt/assets}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.FramedPort != 5665 {
		t.Errorf("framed_port = %d, want 5665", cfg.Listen.FramedPort)
	}
	if cfg.Listen.WebSocketPort != 4664 {
		t.Errorf("websocket_port = %d, want default 4664", cfg.Listen.WebSocketPort)
	}
	if cfg.Stream.QueueSize != 30 {
		t.Errorf("queue_size = %d, want 30", cfg.Stream.QueueSize)
	}
	if cfg.Stream.KeyFrameRetry != 500*time.Millisecond {
		t.Errorf("key_frame_retry = %v, want 500ms", cfg.Stream.KeyFrameRetry)
	}
	if cfg.Encoder.SourceFile != "/srv/camera/clip.h264" {
		t.Errorf("source_file = %q, want expanded path", cfg.Encoder.SourceFile)
	}
	if cfg.Assets.Directory != "/opt/assets" {
		t.Errorf("assets.directory = %q, want default from pattern", cfg.Assets.Directory)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"duplicate port", func(c *Config) { c.Listen.RawPort = c.Listen.FramedPort }, "duplicates"},
		{"port range", func(c *Config) { c.Listen.WebSocketPort = 70000 }, "out of range"},
		{"queue size", func(c *Config) { c.Stream.QueueSize = 0 }, "queue_size"},
		{"replay without file", func(c *Config) { c.Encoder.Kind = EncoderReplay }, "source_file"},
		{"unknown encoder", func(c *Config) { c.Encoder.Kind = "gstreamer" }, "encoder.kind"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"presence without type", func(c *Config) { c.Presence.ServiceType = "" }, "service_type"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate error %q does not mention %q", err, test.want)
			}
		})
	}

	// Several port-0 listeners are allowed together.
	cfg := Default()
	cfg.Listen.FramedPort, cfg.Listen.WebSocketPort, cfg.Listen.RawPort = 0, 0, 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("port 0 listeners: %v", err)
	}
}
