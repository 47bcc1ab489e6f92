// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/visionkit/streamd/lib/clock"
)

// DefaultPollInterval is how often the name file is re-read when no
// change notification arrives.
const DefaultPollInterval = time.Second

// AnnouncerOptions configures an Announcer.
type AnnouncerOptions struct {
	Publisher Publisher
	// NameFile holds the device name. A missing file means no name.
	NameFile string
	// Port is the advertised framed-protocol port.
	Port int

	// PollInterval re-reads NameFile even without a change
	// notification. Defaults to DefaultPollInterval.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Announcer keeps the advertisement in line with the device name.
type Announcer struct {
	options AnnouncerOptions
	logger  *slog.Logger

	// published is the last name the publisher accepted; valid is
	// false until the first success.
	published string
	valid     bool
}

// NewAnnouncer validates options.
func NewAnnouncer(options AnnouncerOptions) (*Announcer, error) {
	if options.Publisher == nil {
		return nil, errors.New("presence: publisher is required")
	}
	if options.NameFile == "" {
		return nil, errors.New("presence: name file is required")
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Announcer{
		options: options,
		logger:  options.Logger.With("name_file", options.NameFile, "port", options.Port),
	}, nil
}

// ReadName returns the trimmed contents of path, or "" if the file
// does not exist.
func ReadName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading device name: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Run publishes the current name and follows changes until ctx is
// cancelled, then withdraws the advertisement and closes the
// publisher. Publish failures are logged and retried on the next
// change or poll.
func (a *Announcer) Run(ctx context.Context) error {
	defer func() {
		if err := a.options.Publisher.Close(); err != nil {
			a.logger.Warn("closing presence publisher", "error", err)
		}
	}()

	notifications := a.watch(ctx)
	ticker := a.options.Clock.NewTicker(a.options.PollInterval)
	defer ticker.Stop()

	a.refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notifications:
			a.refresh()
		case <-ticker.C:
			a.refresh()
		}
	}
}

// refresh re-reads the name and republishes if it changed or the last
// attempt failed.
func (a *Announcer) refresh() {
	name, err := ReadName(a.options.NameFile)
	if err != nil {
		a.logger.Warn("device name unreadable", "error", err)
		return
	}
	if a.valid && name == a.published {
		return
	}
	if err := a.options.Publisher.Publish(name, a.options.Port); err != nil {
		a.logger.Warn("publishing presence", "name", name, "error", err)
		return
	}
	a.published, a.valid = name, true
	if name == "" {
		a.logger.Info("device name not set, not advertising")
	} else {
		a.logger.Info("advertising", "name", name)
	}
}

// watch delivers a value whenever the name file's directory reports a
// change to the file. If the directory cannot be watched the returned
// channel never fires and polling alone keeps the name current.
func (a *Announcer) watch(ctx context.Context) <-chan struct{} {
	notifications := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logger.Debug("name file watcher unavailable, polling only", "error", err)
		return notifications
	}
	directory := filepath.Dir(a.options.NameFile)
	if err := watcher.Add(directory); err != nil {
		watcher.Close()
		a.logger.Debug("cannot watch name file directory, polling only", "directory", directory, "error", err)
		return notifications
	}

	target := filepath.Clean(a.options.NameFile)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				select {
				case notifications <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Debug("name file watcher error", "error", err)
			}
		}
	}()
	return notifications
}
