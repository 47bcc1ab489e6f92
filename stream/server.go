// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/h264"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/transport"
	"github.com/visionkit/streamd/wire"
)

// Default listener ports.
const (
	DefaultFramedPort    = 4665
	DefaultWebSocketPort = 4664
	DefaultRawPort       = 4666
)

// Config configures a Server. Zero values take the defaults noted on
// each field.
type Config struct {
	// Address is the host to bind. Empty binds all interfaces.
	Address string

	// Ports per protocol. Zero binds an ephemeral port, which tests
	// use; production configs set them explicitly.
	FramedPort    int
	WebSocketPort int
	RawPort       int

	// QueueSize is the per-viewer transmit queue bound (15).
	QueueSize int

	// MaxConnections caps open connections per listener. Zero means
	// unlimited.
	MaxConnections int

	// MaxMessageBytes bounds inbound messages and WebSocket frames
	// (64 KiB).
	MaxMessageBytes int

	// WriteTimeout bounds a single socket write (5s). A viewer that
	// cannot take one entry in that time is disconnected.
	WriteTimeout time.Duration

	// KeyFrameRetry repeats an unanswered key-frame request after this
	// long (2s). Negative disables the retry.
	KeyFrameRetry time.Duration

	// NotSentLowWater is passed to the listeners, see
	// transport.ListenOptions.
	NotSentLowWater int

	// Encoder is the camera. Required.
	Encoder camera.Encoder

	// EncoderParams are used on every encoder start.
	EncoderParams camera.Params

	// Assets answers plain HTTP GETs on the WebSocket port. Nil
	// answers 404 to everything.
	Assets AssetStore

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.KeyFrameRetry == 0 {
		c.KeyFrameRetry = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) port(protocol Protocol) int {
	switch protocol {
	case ProtocolFramed:
		return c.FramedPort
	case ProtocolWebSocket:
		return c.WebSocketPort
	default:
		return c.RawPort
	}
}

// Stats is a point-in-time view of the server.
type Stats struct {
	// Viewers is the number of open connections.
	Viewers int
	// Streaming is the number of viewers receiving stream data, which
	// is also the encoder reference count.
	Streaming      int
	EncoderRunning bool
	EncoderStarts  int

	FramesDispatched  uint64
	KeyFrameRequests  uint64
	DroppedMessages   uint64
	DroppedInferences uint64
}

// Server accepts viewers on the three protocol ports and distributes
// the encoder's output to them.
//
// Lock order: encoder controller, then a viewer's lock, then the
// server's client set.
type Server struct {
	config Config
	logger *slog.Logger

	encoder    *encoderController
	dispatcher *dispatcher

	listeners map[Protocol]*transport.TCPListener
	ready     chan struct{}
	fatal     chan error

	mu      sync.Mutex
	clients map[*client]Viewer
	closing bool

	acceptGroup sync.WaitGroup
	clientGroup sync.WaitGroup

	droppedMessages atomic.Uint64
}

// NewServer validates config and builds a server. Call Listen then
// Serve.
func NewServer(config Config) (*Server, error) {
	if config.Encoder == nil {
		return nil, errors.New("stream: encoder is required")
	}
	config.applyDefaults()

	frames := make(chan h264.Unit, 8)
	s := &Server{
		config:  config,
		logger:  config.Logger,
		ready:   make(chan struct{}),
		fatal:   make(chan error, 1),
		clients: make(map[*client]Viewer),
	}
	s.dispatcher = &dispatcher{
		viewers:       s.viewers,
		clock:         config.Clock,
		start:         config.Clock.Now(),
		resolution:    Resolution{Width: config.EncoderParams.Width, Height: config.EncoderParams.Height},
		keyFrameRetry: config.KeyFrameRetry,
		logger:        config.Logger.With("component", "dispatcher"),
		frames:        frames,
		inference:     make(chan wire.InferenceData, config.QueueSize),
	}
	s.encoder = &encoderController{
		encoder: config.Encoder,
		params:  config.EncoderParams,
		frames:  frames,
		logger:  config.Logger.With("component", "encoder"),
		onStart: func() { s.dispatcher.restarted.Store(true) },
	}
	s.dispatcher.encoder = s.encoder
	return s, nil
}

// Listen binds the three listeners. On error nothing stays bound.
func (s *Server) Listen(ctx context.Context) error {
	if s.listeners != nil {
		return errors.New("stream: already listening")
	}
	listeners := make(map[Protocol]*transport.TCPListener, len(Protocols))
	for _, protocol := range Protocols {
		address := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.port(protocol)))
		listener, err := transport.NewTCPListener(ctx, address, transport.ListenOptions{
			MaxConnections:  s.config.MaxConnections,
			NotSentLowWater: s.config.NotSentLowWater,
			Logger:          s.logger,
		})
		if err != nil {
			for _, bound := range listeners {
				bound.Close()
			}
			return fmt.Errorf("listening for %s viewers on %s: %w", protocol, address, err)
		}
		listeners[protocol] = listener
		s.logger.Info("listening", "protocol", protocol.String(), "address", listener.Address())
	}
	s.listeners = listeners
	return nil
}

// Addr returns the bound address for protocol, or nil before Listen.
func (s *Server) Addr(protocol Protocol) net.Addr {
	listener, ok := s.listeners[protocol]
	if !ok {
		return nil
	}
	return listener.Addr()
}

// Ready is closed once Serve is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts viewers until ctx is cancelled or the encoder fails.
// It returns nil on cancellation and the encoder error otherwise. All
// viewers are disconnected and the encoder is stopped before Serve
// returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.listeners == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	var dispatchDone sync.WaitGroup
	dispatchDone.Go(func() { s.dispatcher.run(dispatchCtx) })

	accepted := make(chan acceptedConn)
	for protocol, listener := range s.listeners {
		s.acceptGroup.Go(func() { s.acceptLoop(acceptCtx, protocol, listener, accepted) })
	}
	close(s.ready)

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-s.fatal:
			s.logger.Error("stopping after fatal error", "error", err)
			break loop
		case conn := <-accepted:
			s.spawn(conn)
		}
	}

	cancelAccept()
	s.shutdown()
	cancelDispatch()
	dispatchDone.Wait()
	if stopErr := s.encoder.shutdown(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// shutdown closes the listeners and every viewer, then waits for their
// goroutines.
func (s *Server) shutdown() {
	for _, listener := range s.listeners {
		listener.Close()
	}
	s.acceptGroup.Wait()

	s.mu.Lock()
	s.closing = true
	viewers := make([]Viewer, 0, len(s.clients))
	for _, viewer := range s.clients {
		viewers = append(viewers, viewer)
	}
	s.mu.Unlock()

	for _, viewer := range viewers {
		viewer.Close()
	}
	s.clientGroup.Wait()
}

// spawn wraps an accepted connection in the viewer type for its
// protocol and starts it.
func (s *Server) spawn(accepted acceptedConn) {
	c := newClient(s, accepted.conn, accepted.protocol)
	var viewer Viewer
	switch accepted.protocol {
	case ProtocolFramed:
		viewer = newFramedClient(c)
	case ProtocolWebSocket:
		viewer = newWebSocketClient(c)
	case ProtocolRaw:
		viewer = newRawClient(c)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		accepted.conn.Close()
		return
	}
	s.clients[c] = viewer
	s.mu.Unlock()

	c.logger.Info("viewer connected")
	c.start(viewer)
	if accepted.protocol == ProtocolRaw {
		if err := c.setStreaming(true); err != nil {
			s.fail(err)
		}
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// viewers returns a snapshot of the connected viewers.
func (s *Server) viewers() []Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	viewers := make([]Viewer, 0, len(s.clients))
	for _, viewer := range s.clients {
		viewers = append(viewers, viewer)
	}
	return viewers
}

// fail reports an error that stops the server. Only the first is kept.
func (s *Server) fail(err error) {
	select {
	case s.fatal <- err:
	default:
		s.logger.Error("additional fatal error", "error", err)
	}
}

// PublishInference queues an overlay for every streaming viewer. It
// never blocks; if the dispatcher is behind the overlay is dropped and
// counted.
func (s *Server) PublishInference(data wire.InferenceData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if !s.dispatcher.publish(data) {
		s.logger.Debug("dropping inference overlay, dispatcher behind")
	}
	return nil
}

// Stats returns current counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	viewers := len(s.clients)
	s.mu.Unlock()

	refs, running, starts := s.encoder.snapshot()

	return Stats{
		Viewers:           viewers,
		Streaming:         refs,
		EncoderRunning:    running,
		EncoderStarts:     starts,
		FramesDispatched:  s.dispatcher.framesDispatched.Load(),
		KeyFrameRequests:  s.dispatcher.keyFrameRequests.Load(),
		DroppedMessages:   s.droppedMessages.Load(),
		DroppedInferences: s.dispatcher.inferenceDropped.Load(),
	}
}

// LogValue renders stats for slog.
func (st Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("viewers", st.Viewers),
		slog.Int("streaming", st.Streaming),
		slog.Bool("encoder_running", st.EncoderRunning),
		slog.Int("encoder_starts", st.EncoderStarts),
		slog.Uint64("frames_dispatched", st.FramesDispatched),
		slog.Uint64("key_frame_requests", st.KeyFrameRequests),
		slog.Uint64("dropped_messages", st.DroppedMessages),
		slog.Uint64("dropped_inferences", st.DroppedInferences),
	)
}
