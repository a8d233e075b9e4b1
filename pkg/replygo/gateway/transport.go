// Package gateway – transport.go wraps the platform websocket behind a
// small interface so the supervisor can be driven by fakes in tests.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one raw inbound websocket message.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Transport is an established connection.
type Transport interface {
	// Send writes a text frame.
	Send(ctx context.Context, text string) error
	// Frames returns the inbound frame stream. The channel closes when
	// the connection dies.
	Frames() <-chan Frame
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes transports.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

// WSDialer dials the platform websocket endpoint. The channel token is the
// last path segment of the dial URL.
type WSDialer struct {
	url              string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           *slog.Logger
}

// NewWSDialer creates a dialer for cfg.URL.
func NewWSDialer(cfg Config, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WSDialer{
		url:              strings.TrimRight(cfg.URL, "/"),
		handshakeTimeout: cfg.HandshakeTimeout,
		writeTimeout:     cfg.WriteTimeout,
		logger:           logger.With("component", "transport"),
	}
}

// Dial connects and starts the read pump. An HTTP 401/403 handshake
// response surfaces as ErrAuthRejected so the supervisor can refresh the
// credential. The token is itself a credential and is never logged.
func (d *WSDialer) Dial(ctx context.Context, token string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, d.url+"/"+token, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("handshake rejected with status %d: %w",
					resp.StatusCode, ErrAuthRejected)
			}
		}
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	t := &wsTransport{
		conn:         conn,
		writeTimeout: d.writeTimeout,
		frames:       make(chan Frame, 256),
		done:         make(chan struct{}),
		logger:       d.logger,
	}
	go t.readPump()
	return t, nil
}

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	frames chan Frame
	done   chan struct{}

	// writeMu serializes writes; gorilla allows a single writer.
	writeMu sync.Mutex

	closeOnce sync.Once
}

// Send writes one text frame, bounded by the write timeout or the context
// deadline, whichever comes first.
func (t *wsTransport) Send(ctx context.Context, text string) error {
	select {
	case <-t.done:
		return fmt.Errorf("connection closed")
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Frames returns the inbound frame stream.
func (t *wsTransport) Frames() <-chan Frame {
	return t.frames
}

// Close sends a best-effort close frame and drops the socket.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
	})
	return err
}

// readPump feeds inbound messages into the frame channel until the
// connection dies, then closes the channel.
func (t *wsTransport) readPump() {
	defer close(t.frames)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Closed locally, nothing to report.
			default:
				t.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		select {
		case t.frames <- Frame{Data: data, ReceivedAt: time.Now()}:
		case <-t.done:
			return
		}
	}
}
