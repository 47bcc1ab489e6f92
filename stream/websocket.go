// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/visionkit/streamd/websocket"
	"github.com/visionkit/streamd/wire"
)

// maxRequestHeaderBytes bounds one HTTP request head on the WebSocket
// port.
const maxRequestHeaderBytes = 8 << 10

// maxRequestBodyBytes bounds what is discarded from a GET body before
// the next request is read.
const maxRequestBodyBytes = 64 << 10

// AssetStore answers plain HTTP requests on the WebSocket port. The
// server adds the connection headers and writes the response.
type AssetStore interface {
	Respond(request *http.Request) *http.Response
}

// webSocketClient serves HTTP until the peer upgrades, then carries
// CBOR bodies in binary WebSocket messages.
type webSocketClient struct {
	*client
	limit    *headerLimitReader
	reader   *bufio.Reader
	messages *websocket.MessageReader
}

func newWebSocketClient(c *client) *webSocketClient {
	limit := &headerLimitReader{r: c.conn}
	return &webSocketClient{
		client: c,
		limit:  limit,
		reader: bufio.NewReader(limit),
	}
}

func (w *webSocketClient) QueueCodecData(resolution Resolution, data []byte) bool {
	return w.offerCodecData(outbound{message: wire.NewCodecMessage(resolution.Width, resolution.Height, data)})
}

func (w *webSocketClient) QueueFrameData(key bool, seq uint32, pts int64, data []byte) bool {
	return w.offerFrameData(key, outbound{message: wire.NewFrameMessage(frameType(key), seq, pts, data)})
}

func (w *webSocketClient) QueueInferenceData(data wire.InferenceData) bool {
	return w.offerInferenceData(outbound{message: wire.NewInferenceMessage(data)})
}

// SendMessage wraps a message body in one unfragmented binary frame.
// Raw entries are already complete HTTP responses or frames.
func (w *webSocketClient) SendMessage(entry outbound) error {
	if entry.message == nil {
		return w.write(entry.raw)
	}
	body, err := wire.Encode(entry.message)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return w.write(websocket.AppendFrame(make([]byte, 0, websocket.FrameSize(len(body))), websocket.OpBinary, body))
}

func (w *webSocketClient) ReceiveMessage() (*wire.ServerBound, error) {
	for {
		if w.messages == nil {
			if err := w.serveRequest(); err != nil {
				return nil, err
			}
			continue
		}

		opcode, payload, err := w.messages.Next()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case websocket.OpBinary:
			return wire.DecodeServerBound(payload)
		case websocket.OpPing:
			w.sendControl(websocket.AppendFrame(nil, websocket.OpPong, payload), false)
		case websocket.OpPong:
		case websocket.OpClose:
			return nil, errPeerClosed
		default:
			return nil, fmt.Errorf("%w: unexpected opcode %s", websocket.ErrProtocol, opcode)
		}
	}
}

func (w *webSocketClient) HandleMessage(message *wire.ServerBound) {
	w.handleStreamControl(message)
}

// serveRequest reads one HTTP request and returns once its response
// is written, so pipelined requests are answered in order. An upgrade
// switches the connection to WebSocket framing; a GET is answered from
// the asset store and the connection stays open for the next request
// unless the request asked to close it.
func (w *webSocketClient) serveRequest() error {
	w.limit.reset(maxRequestHeaderBytes)
	request, err := http.ReadRequest(w.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("reading http request: %w", err)
	}
	w.limit.reset(maxRequestBodyBytes)
	if _, err := io.Copy(io.Discard, io.LimitReader(request.Body, maxRequestBodyBytes)); err != nil {
		return fmt.Errorf("discarding request body: %w", err)
	}
	request.Body.Close()

	if websocket.IsUpgradeRequest(request) {
		response, err := websocket.HandshakeResponse(request)
		if err != nil {
			return err
		}
		w.limit.disable()
		w.messages = websocket.NewMessageReader(w.reader, w.server.config.MaxMessageBytes)
		w.logger.Debug("websocket upgrade", "path", request.URL.Path)
		w.sendControl(response, false)
		return nil
	}

	if request.Method != http.MethodGet {
		return fmt.Errorf("%w: unsupported method %s", websocket.ErrProtocol, request.Method)
	}
	response := w.assetResponse(request)
	w.logger.Debug("http request", "path", request.URL.Path, "status", response.StatusCode)
	data, err := encodeResponse(response, request.Close)
	if err != nil {
		return err
	}
	w.sendControl(data, request.Close)
	if request.Close {
		return io.EOF
	}
	return nil
}

func (w *webSocketClient) assetResponse(request *http.Request) *http.Response {
	if strings.Contains(request.URL.Path, "..") {
		return emptyResponse(http.StatusForbidden)
	}
	if w.server.config.Assets == nil {
		return emptyResponse(http.StatusNotFound)
	}
	return w.server.config.Assets.Respond(request)
}

func emptyResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       http.NoBody,
	}
}

// encodeResponse serializes response as HTTP/1.1 with an explicit
// Content-Length and connection header.
func encodeResponse(response *http.Response, closeAfter bool) ([]byte, error) {
	response.ProtoMajor, response.ProtoMinor = 1, 1
	response.Request = nil
	if response.Header == nil {
		response.Header = make(http.Header)
	}
	if response.Body == nil {
		response.Body = http.NoBody
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading asset response: %w", err)
	}
	response.Body.Close()
	response.Body = io.NopCloser(bytes.NewReader(body))
	response.ContentLength = int64(len(body))
	response.Close = closeAfter
	if closeAfter {
		response.Header.Set("Connection", "close")
	} else {
		response.Header.Set("Connection", "Keep-Alive")
	}

	var buffer bytes.Buffer
	if err := response.Write(&buffer); err != nil {
		return nil, fmt.Errorf("encoding http response: %w", err)
	}
	return buffer.Bytes(), nil
}

// headerLimitReader caps the bytes read per HTTP request head so a
// peer cannot grow a request without bound. The cap is lifted after
// the WebSocket upgrade.
type headerLimitReader struct {
	r         io.Reader
	remaining int
	unlimited bool
}

var errRequestTooLarge = errors.New("http request head too large")

func (l *headerLimitReader) reset(limit int) { l.remaining = limit }

func (l *headerLimitReader) disable() { l.unlimited = true }

func (l *headerLimitReader) Read(p []byte) (int, error) {
	if l.unlimited {
		return l.r.Read(p)
	}
	if l.remaining <= 0 {
		return 0, errRequestTooLarge
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= n
	return n, err
}
