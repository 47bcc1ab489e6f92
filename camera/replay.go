// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionkit/streamd/h264"
	"github.com/visionkit/streamd/lib/clock"
)

// ReplayOptions configures a ReplayEncoder.
type ReplayOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// ReplayEncoder loops a recorded stream at the session framerate. Key
// frame requests skip ahead to the next key frame of the recording.
type ReplayEncoder struct {
	clock  clock.Clock
	logger *slog.Logger

	units []h264.Unit
	// keyStarts holds the index of every unit that begins a key frame
	// group: the parameter sets before an IDR, or the IDR itself.
	keyStarts []int

	keyRequested atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// LoadReplay reads an Annex-B file for a ReplayEncoder.
func LoadReplay(path string) ([]h264.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading replay source: %w", err)
	}
	return h264.Group(data), nil
}

// NewReplayEncoder replays units, which must contain a key frame.
func NewReplayEncoder(units []h264.Unit, options ReplayOptions) (*ReplayEncoder, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	encoder := &ReplayEncoder{
		clock:  options.Clock,
		logger: options.Logger,
		units:  units,
	}
	for index, unit := range units {
		if unit.Kind != h264.UnitKeyFrame {
			continue
		}
		start := index
		if index > 0 && units[index-1].Kind == h264.UnitParameterSets {
			start = index - 1
		}
		encoder.keyStarts = append(encoder.keyStarts, start)
	}
	if len(encoder.keyStarts) == 0 {
		return nil, errors.New("replay source contains no key frame")
	}
	return encoder, nil
}

// Start begins replaying from the first key frame.
func (e *ReplayEncoder) Start(params Params, out chan<- h264.Unit) error {
	if params.Framerate <= 0 {
		return fmt.Errorf("invalid framerate %d", params.Framerate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return ErrRunning
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.keyRequested.Store(false)

	interval := time.Second / time.Duration(params.Framerate)
	e.logger.Info("replay encoder started",
		"units", len(e.units),
		"key_frames", len(e.keyStarts),
		"interval", interval,
	)
	go e.run(interval, out, e.stop, e.done)
	return nil
}

// Stop halts replay and waits for the producer goroutine to exit.
func (e *ReplayEncoder) Stop() error {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.mu.Unlock()

	if stop == nil {
		return ErrNotRunning
	}
	close(stop)
	<-done
	e.logger.Info("replay encoder stopped")
	return nil
}

// RequestKeyFrame makes the next tick jump to a key frame.
func (e *ReplayEncoder) RequestKeyFrame() {
	e.keyRequested.Store(true)
}

func (e *ReplayEncoder) run(interval time.Duration, out chan<- h264.Unit, stop, done chan struct{}) {
	defer close(done)

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	position := e.keyStarts[0]
	for {
		if e.keyRequested.Swap(false) {
			position = e.nextKeyStart(position)
		}
		// Emit up to and including one picture per tick.
		for {
			unit := e.units[position]
			position = (position + 1) % len(e.units)
			select {
			case out <- unit:
			case <-stop:
				return
			}
			if unit.Kind != h264.UnitParameterSets {
				break
			}
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

// nextKeyStart returns the first key frame group at or after position,
// wrapping to the start of the recording.
func (e *ReplayEncoder) nextKeyStart(position int) int {
	for _, start := range e.keyStarts {
		if start >= position {
			return start
		}
	}
	return e.keyStarts[0]
}
