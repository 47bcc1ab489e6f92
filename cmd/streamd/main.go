// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// streamd serves live H.264 video from the camera to network viewers.
//
// Viewers connect on three ports: length-prefixed CBOR (4665),
// WebSocket with the browser viewer's static files (4664) and the raw
// Annex-B elementary stream (4666). The camera runs only while at
// least one viewer is streaming. The framed port is advertised on the
// local network under the device name.
//
// Configuration is a YAML file named by --config or STREAMD_CONFIG;
// without either the built-in defaults are used. Flags override
// individual fields.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/visionkit/streamd/assets"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/lib/config"
	"github.com/visionkit/streamd/lib/process"
	"github.com/visionkit/streamd/lib/version"
	"github.com/visionkit/streamd/presence"
	"github.com/visionkit/streamd/stream"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options are the command-line overrides.
type options struct {
	configPath  string
	showVersion bool

	address    string
	encoder    string
	source     string
	assetsDir  string
	logLevel   string
	noPresence bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("streamd", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML configuration (default: $"+config.EnvironmentVariable+" or built-in defaults)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.StringVar(&opts.address, "address", "", "host to bind all listeners to")
	flagSet.StringVar(&opts.encoder, "encoder", "", "camera adapter: replay or command")
	flagSet.StringVar(&opts.source, "source", "", "Annex-B file looped by the replay encoder (implies --encoder=replay)")
	flagSet.StringVar(&opts.assetsDir, "assets", "", "directory of static files served on the WebSocket port")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&opts.noPresence, "no-presence", false, "do not advertise on the local network")
	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if flagSet.NArg() > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return &opts, flagSet, nil
}

// loadConfig reads the file from --config, then STREAMD_CONFIG, then
// falls back to defaults, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.ExpandVariables()
	}
	if err != nil {
		return nil, err
	}

	if opts.address != "" {
		cfg.Listen.Address = opts.address
	}
	if opts.encoder != "" {
		cfg.Encoder.Kind = config.EncoderKind(opts.encoder)
	}
	if opts.source != "" {
		cfg.Encoder.Kind = config.EncoderReplay
		cfg.Encoder.SourceFile = opts.source
	}
	if opts.assetsDir != "" {
		cfg.Assets.Directory = opts.assetsDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.noPresence {
		cfg.Presence.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run() error {
	opts, _, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("streamd %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	systemClock := clock.Real()
	// A camera that dies stops the server; the service manager
	// restarts the process.
	encoderExits := make(chan error, 1)
	onExit := func(err error) {
		select {
		case encoderExits <- err:
		default:
		}
	}
	encoder, err := newEncoder(cfg.Encoder, systemClock, logger.With("component", "camera"), onExit)
	if err != nil {
		return err
	}

	var assetStore stream.AssetStore
	if cfg.Assets.Directory != "" {
		store, err := assets.Open(cfg.Assets.Directory, logger.With("component", "assets"))
		if err != nil {
			return err
		}
		defer store.Close()
		assetStore = store
	}

	server, err := stream.NewServer(serverConfig(cfg, encoder, assetStore, systemClock, logger))
	if err != nil {
		return err
	}
	if err := server.Listen(ctx); err != nil {
		return err
	}

	logger.Info("streamd starting",
		"version", version.Info(),
		"encoder", string(cfg.Encoder.Kind),
		"resolution", fmt.Sprintf("%dx%d", cfg.Encoder.Width, cfg.Encoder.Height),
		"framerate", cfg.Encoder.Framerate,
		"bitrate", cfg.Encoder.Bitrate,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(groupCtx); err != nil {
			return fmt.Errorf("stream server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case err := <-encoderExits:
			return err
		}
	})
	if cfg.Presence.Enabled {
		port := cfg.Listen.FramedPort
		if address, ok := server.Addr(stream.ProtocolFramed).(*net.TCPAddr); ok {
			port = address.Port
		}
		group.Go(func() error {
			runPresence(groupCtx, cfg.Presence, port, systemClock, logger.With("component", "presence"))
			return nil
		})
	}
	if cfg.Stream.StatsInterval > 0 {
		group.Go(func() error {
			logStats(groupCtx, server, systemClock, cfg.Stream.StatsInterval, logger)
			return nil
		})
	}

	err = group.Wait()
	logger.Info("streamd stopped", "stats", server.Stats())
	return err
}

// runPresence advertises until ctx is done. Failing to reach Avahi is
// logged and leaves the server running unadvertised.
func runPresence(ctx context.Context, cfg config.PresenceConfig, port int, systemClock clock.Clock, logger *slog.Logger) {
	publisher, err := presence.NewAvahiPublisher(cfg.ServiceType, logger)
	if err != nil {
		logger.Warn("presence disabled", "error", err)
		return
	}
	announcer, err := presence.NewAnnouncer(presence.AnnouncerOptions{
		Publisher: publisher,
		NameFile:  cfg.DeviceNameFile,
		Port:      port,
		Clock:     systemClock,
		Logger:    logger,
	})
	if err != nil {
		publisher.Close()
		logger.Warn("presence disabled", "error", err)
		return
	}
	if err := announcer.Run(ctx); err != nil {
		logger.Warn("presence stopped", "error", err)
	}
}

func logStats(ctx context.Context, server *stream.Server, systemClock clock.Clock, interval time.Duration, logger *slog.Logger) {
	ticker := systemClock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("stream stats", "stats", server.Stats())
		}
	}
}
