// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/visionkit/streamd/h264"
)

// CommandOptions configures a CommandEncoder.
type CommandOptions struct {
	// Path is the camera binary, rpicam-vid or a compatible tool.
	Path string

	// IntraPeriod replaces a zero Params.IntraPeriod. The command has
	// no way to force a key frame, so a periodic one is the only way a
	// viewer joining mid-stream can resynchronize.
	IntraPeriod int

	// OnExit is called from the reader goroutine when the command ends
	// without Stop being called. The error wraps ErrCommandExited.
	// Stop must still be called before the encoder can be restarted.
	OnExit func(error)

	Logger *slog.Logger
}

// ErrCommandExited reports a camera command that ended on its own.
var ErrCommandExited = errors.New("camera command exited")

// CommandEncoder runs a camera command writing Annex-B H.264 to stdout.
type CommandEncoder struct {
	options CommandOptions
	logger  *slog.Logger

	warnedKeyFrame atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}
}

// NewCommandEncoder returns an encoder for options.Path.
func NewCommandEncoder(options CommandOptions) *CommandEncoder {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &CommandEncoder{options: options, logger: options.Logger}
}

// Arguments returns the command line for params.
func (e *CommandEncoder) Arguments(params Params) []string {
	intra := params.IntraPeriod
	if intra == 0 {
		intra = e.options.IntraPeriod
	}
	arguments := []string{
		"--timeout", "0",
		"--nopreview",
		"--codec", "h264",
		"--profile", params.Profile,
		"--bitrate", strconv.Itoa(params.Bitrate),
		"--width", strconv.Itoa(params.Width),
		"--height", strconv.Itoa(params.Height),
		"--framerate", strconv.Itoa(params.Framerate),
	}
	if intra > 0 {
		arguments = append(arguments, "--intra", strconv.Itoa(intra))
	}
	if params.InlineHeaders {
		arguments = append(arguments, "--inline")
	}
	return append(arguments, "--output", "-")
}

// Start launches the command and begins forwarding its output.
func (e *CommandEncoder) Start(params Params, out chan<- h264.Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	command := exec.CommandContext(ctx, e.options.Path, e.Arguments(params)...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("camera stdout pipe: %w", err)
	}
	logger := e.logger.With("command", e.options.Path)
	command.Stderr = &lineLogger{logger: logger}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting %s: %w", e.options.Path, err)
	}

	logger = logger.With("pid", command.Process.Pid)
	logger.Info("camera command started", "arguments", command.Args[1:])

	e.cancel = cancel
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(command, stdout, out, logger, e.stop, e.done)
	return nil
}

// Stop kills the command and waits for it to exit.
func (e *CommandEncoder) Stop() error {
	e.mu.Lock()
	cancel, stop, done := e.cancel, e.stop, e.done
	e.cancel, e.stop, e.done = nil, nil, nil
	e.mu.Unlock()

	if stop == nil {
		return ErrNotRunning
	}
	close(stop)
	cancel()
	<-done
	return nil
}

// RequestKeyFrame is not supported by camera commands; the periodic
// intra refresh resynchronizes viewers instead.
func (e *CommandEncoder) RequestKeyFrame() {
	if !e.warnedKeyFrame.Swap(true) {
		e.logger.Debug("camera command cannot force key frames; waiting for intra refresh",
			"intra_period", e.options.IntraPeriod)
	}
}

func (e *CommandEncoder) run(command *exec.Cmd, stdout io.Reader, out chan<- h264.Unit, logger *slog.Logger, stop, done chan struct{}) {
	defer close(done)

	scanner := h264.NewScanner(stdout)
	var readErr error
	for {
		unit, err := scanner.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		select {
		case out <- unit:
		case <-stop:
		}
		select {
		case <-stop:
			// Drain so the process is not blocked writing while it is
			// being killed.
			if _, err := io.Copy(io.Discard, stdout); err != nil {
				logger.Debug("draining camera output", "error", err)
			}
			if err := command.Wait(); err != nil {
				logger.Debug("camera command killed", "error", err)
			}
			logger.Info("camera command stopped")
			return
		default:
		}
	}

	waitErr := command.Wait()
	select {
	case <-stop:
		logger.Info("camera command stopped")
		return
	default:
	}

	exitErr := ErrCommandExited
	if cause := errors.Join(readErr, waitErr); cause != nil {
		exitErr = fmt.Errorf("%w: %w", ErrCommandExited, cause)
	}
	logger.Error("camera command exited while viewers were streaming", "error", exitErr)
	if e.options.OnExit != nil {
		e.options.OnExit(exitErr)
	}
}

// lineLogger forwards the command's diagnostic output to the logger,
// one record per line.
type lineLogger struct {
	logger *slog.Logger
}

func (l *lineLogger) Write(data []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		if len(line) > 0 {
			l.logger.Debug("camera command output", "line", string(line))
		}
	}
	return len(data), nil
}
