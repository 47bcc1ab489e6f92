// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file for [Load].
const EnvironmentVariable = "STREAMD_CONFIG"

// Config is the complete streamd configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Stream   StreamConfig   `yaml:"stream"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Assets   AssetsConfig   `yaml:"assets"`
	Presence PresenceConfig `yaml:"presence"`
	Log      LogConfig      `yaml:"log"`
}

// ListenConfig configures the three viewer listeners. Port 0 picks a
// free port.
type ListenConfig struct {
	// Address is the host part shared by all listeners. Empty binds
	// every interface.
	Address string `yaml:"address"`

	// FramedPort carries length-prefixed CBOR messages.
	FramedPort int `yaml:"framed_port"`

	// WebSocketPort carries the browser viewer and its static assets.
	WebSocketPort int `yaml:"websocket_port"`

	// RawPort carries the bare Annex-B elementary stream.
	RawPort int `yaml:"raw_port"`
}

// StreamConfig tunes per-viewer queueing and the dispatcher.
type StreamConfig struct {
	// QueueSize bounds each viewer's transmit queue. Overflow drops
	// the oldest message and forces the viewer to resynchronize.
	QueueSize int `yaml:"queue_size"`

	// MaxConnections caps accepted connections per listener. Zero
	// means unlimited.
	MaxConnections int `yaml:"max_connections"`

	// MaxMessageBytes bounds a single inbound message or WebSocket
	// payload.
	MaxMessageBytes int `yaml:"max_message_bytes"`

	// WriteTimeout bounds one socket write to a viewer.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// KeyFrameRetry re-arms a key frame request that the encoder has
	// not answered.
	KeyFrameRetry time.Duration `yaml:"key_frame_retry"`

	// StatsInterval is how often streamd logs server statistics. Zero
	// disables the log line.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// EncoderKind selects the camera adapter.
type EncoderKind string

const (
	// EncoderReplay loops an H.264 Annex-B file.
	EncoderReplay EncoderKind = "replay"
	// EncoderCommand reads Annex-B from a camera command's stdout.
	EncoderCommand EncoderKind = "command"
)

// EncoderConfig configures the camera adapter.
type EncoderConfig struct {
	Kind      EncoderKind `yaml:"kind"`
	Width     int         `yaml:"width"`
	Height    int         `yaml:"height"`
	Framerate int         `yaml:"framerate"`

	// Bitrate in bits per second.
	Bitrate int `yaml:"bitrate"`

	// SourceFile is the Annex-B file looped by the replay encoder.
	SourceFile string `yaml:"source_file"`

	// Command is the camera binary for the command encoder, looked up
	// in PATH when not absolute.
	Command string `yaml:"command"`

	// IntraPeriod is the key frame interval passed to the camera
	// command, which cannot produce key frames on request.
	IntraPeriod int `yaml:"intra_period"`
}

// AssetsConfig configures the static files served on the WebSocket
// port.
type AssetsConfig struct {
	// Directory is the asset root. Empty serves nothing (every GET is
	// answered 404).
	Directory string `yaml:"directory"`
}

// PresenceConfig configures local network advertisement.
type PresenceConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceType string `yaml:"service_type"`

	// DeviceNameFile holds the advertised name. The file is watched
	// and the service re-published when it changes; an empty or
	// missing file withdraws the advertisement.
	DeviceNameFile string `yaml:"device_name_file"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or
	// json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			FramedPort:    4665,
			WebSocketPort: 4664,
			RawPort:       4666,
		},
		Stream: StreamConfig{
			QueueSize:       15,
			MaxConnections:  32,
			MaxMessageBytes: 64 * 1024,
			WriteTimeout:    5 * time.Second,
			KeyFrameRetry:   2 * time.Second,
			StatsInterval:   time.Minute,
		},
		Encoder: EncoderConfig{
			Kind:        EncoderCommand,
			Width:       1640,
			Height:      1232,
			Framerate:   30,
			Bitrate:     1000000,
			Command:     "rpicam-vid",
			IntraPeriod: 30,
		},
		Assets: AssetsConfig{
			Directory: "/usr/share/streamd/assets",
		},
		Presence: PresenceConfig{
			Enabled:        true,
			ServiceType:    "_aiy_vision_video._tcp",
			DeviceNameFile: "${HOME}/.config/aiy/device_name",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the file named by STREAMD_CONFIG. It fails when the
// variable is unset; callers that accept defaults check the variable
// first.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to the path of a streamd.yaml file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile decodes path over [Default] and expands path variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in path fields.
// LoadFile calls it; callers starting from Default call it themselves.
func (c *Config) ExpandVariables() {
	c.Encoder.SourceFile = expandVars(c.Encoder.SourceFile)
	c.Encoder.Command = expandVars(c.Encoder.Command)
	c.Assets.Directory = expandVars(c.Assets.Directory)
	c.Presence.DeviceNameFile = expandVars(c.Presence.DeviceNameFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	ports := map[string]int{
		"listen.framed_port":    c.Listen.FramedPort,
		"listen.websocket_port": c.Listen.WebSocketPort,
		"listen.raw_port":       c.Listen.RawPort,
	}
	used := make(map[int]string)
	for _, name := range []string{"listen.framed_port", "listen.websocket_port", "listen.raw_port"} {
		port := ports[name]
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
			continue
		}
		if other, ok := used[port]; ok && port != 0 {
			errs = append(errs, fmt.Errorf("%s duplicates %s (%d)", name, other, port))
		}
		used[port] = name
	}

	if c.Stream.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("stream.queue_size must be at least 1, got %d", c.Stream.QueueSize))
	}
	if c.Stream.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("stream.max_connections must not be negative"))
	}
	if c.Stream.MaxMessageBytes < 1024 {
		errs = append(errs, fmt.Errorf("stream.max_message_bytes must be at least 1024, got %d", c.Stream.MaxMessageBytes))
	}
	if c.Stream.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.write_timeout must be positive"))
	}
	if c.Stream.KeyFrameRetry <= 0 {
		errs = append(errs, fmt.Errorf("stream.key_frame_retry must be positive"))
	}

	switch c.Encoder.Kind {
	case EncoderReplay:
		if c.Encoder.SourceFile == "" {
			errs = append(errs, fmt.Errorf("encoder.source_file is required for the replay encoder"))
		}
	case EncoderCommand:
		if c.Encoder.Command == "" {
			errs = append(errs, fmt.Errorf("encoder.command is required for the command encoder"))
		}
	default:
		errs = append(errs, fmt.Errorf("encoder.kind must be %q or %q, got %q", EncoderReplay, EncoderCommand, c.Encoder.Kind))
	}
	if c.Encoder.Width <= 0 || c.Encoder.Height <= 0 {
		errs = append(errs, fmt.Errorf("encoder resolution must be positive, got %dx%d", c.Encoder.Width, c.Encoder.Height))
	}
	if c.Encoder.Framerate <= 0 {
		errs = append(errs, fmt.Errorf("encoder.framerate must be positive"))
	}
	if c.Encoder.Bitrate <= 0 {
		errs = append(errs, fmt.Errorf("encoder.bitrate must be positive"))
	}

	if c.Presence.Enabled {
		if c.Presence.ServiceType == "" {
			errs = append(errs, fmt.Errorf("presence.service_type is required when presence is enabled"))
		}
		if c.Presence.DeviceNameFile == "" {
			errs = append(errs, fmt.Errorf("presence.device_name_file is required when presence is enabled"))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of auto, text, json; got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
