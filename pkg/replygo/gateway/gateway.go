// Package gateway supervises the platform websocket connection: it dials
// with the channel token, keeps the link alive with heartbeats and health
// probes, reconnects with a bounded retry budget, and refreshes the
// credential when the platform rejects it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Errors.
var (
	ErrAuthRejected      = fmt.Errorf("credential rejected by platform")
	ErrRetriesExhausted  = fmt.Errorf("reconnect attempts exhausted")
	ErrCredentialRefresh = fmt.Errorf("credential refresh failed")
)

// Config controls connection supervision timing.
type Config struct {
	// URL is the websocket endpoint without the trailing token segment.
	URL string `yaml:"url"`

	// HeartbeatInterval is how often an application-level "ping" text frame
	// is written. The platform ignores the content; the write itself is the
	// send-side liveness signal.
	// Default: 5s
	HeartbeatInterval time.Duration `yaml:"-"`

	// MaxMissedHeartbeats is the number of consecutive failed heartbeat
	// writes before the connection is torn down. Any inbound frame resets
	// the counter.
	// Default: 2
	MaxMissedHeartbeats int `yaml:"max_missed_heartbeats"`

	// HealthCheckInterval is how often a probe is sent to verify the
	// connection still produces traffic.
	// Default: 15s
	HealthCheckInterval time.Duration `yaml:"-"`

	// HealthCheckWindow is how long after a probe any inbound frame must
	// arrive before the connection is considered dead.
	// Default: 3s
	HealthCheckWindow time.Duration `yaml:"-"`

	// ReconnectDelay is the fixed pause between reconnect attempts.
	// Default: 5s
	ReconnectDelay time.Duration `yaml:"-"`

	// MaxReconnectAttempts is the number of consecutive failed dials before
	// the supervisor gives up. The counter resets on every successful
	// connect.
	// Default: 3
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// WriteTimeout bounds every websocket write.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"-"`

	// HandshakeTimeout bounds the websocket dial handshake.
	// Default: 20s
	HandshakeTimeout time.Duration `yaml:"-"`

	// Raw duration strings from YAML ("5s", "1m"). yaml.v3 does not decode
	// into time.Duration, so the loader parses these into the fields above.
	HeartbeatIntervalRaw   string `yaml:"heartbeat_interval"`
	HealthCheckIntervalRaw string `yaml:"health_check_interval"`
	HealthCheckWindowRaw   string `yaml:"health_check_window"`
	ReconnectDelayRaw      string `yaml:"reconnect_delay"`
	WriteTimeoutRaw        string `yaml:"write_timeout"`
	HandshakeTimeoutRaw    string `yaml:"handshake_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    5 * time.Second,
		MaxMissedHeartbeats:  2,
		HealthCheckInterval:  15 * time.Second,
		HealthCheckWindow:    3 * time.Second,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 3,
		WriteTimeout:         10 * time.Second,
		HandshakeTimeout:     20 * time.Second,
	}
}

// FrameHandler consumes inbound frames. Implementations must not block:
// slow work (AI completions, outbound sends) belongs on its own goroutine
// so frame delivery keeps feeding the heartbeat and health counters.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame Frame)
}

// FrameHandlerFunc adapts a function to the FrameHandler interface.
type FrameHandlerFunc func(ctx context.Context, frame Frame)

// HandleFrame calls f.
func (f FrameHandlerFunc) HandleFrame(ctx context.Context, frame Frame) { f(ctx, frame) }

// RefreshFunc obtains a fresh channel token after the platform rejects the
// current one. The supervisor calls it at most once per connection episode;
// a second rejection with the refreshed token is fatal.
type RefreshFunc func(ctx context.Context) (string, error)

// Gateway owns one websocket lifecycle: dial, supervise, reconnect. After
// Stop it cannot be reused; session recycling builds a fresh Gateway.
type Gateway struct {
	cfg     Config
	dialer  Dialer
	handler FrameHandler
	refresh RefreshFunc
	logger  *slog.Logger

	// state tracks the connection state for observers and status commands.
	state atomic.Value // ConnectionState

	// missedHeartbeats counts consecutive heartbeat write failures.
	missedHeartbeats atomic.Int32

	// lastFrame tracks inbound traffic for the health check window.
	lastFrame atomic.Value // time.Time

	// running guards against overlapping Run calls.
	running atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}

	connObservers   []ConnectionObserver
	connObserversMu sync.Mutex
}

// New creates a Gateway supervising the endpoint described by cfg. The
// handler receives every inbound frame; refresh may be nil when credential
// refresh is not available (auth rejections are then fatal).
func New(cfg Config, dialer Dialer, handler FrameHandler, refresh RefreshFunc, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	// Apply defaults.
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = 2
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 15 * time.Second
	}
	if cfg.HealthCheckWindow <= 0 {
		cfg.HealthCheckWindow = 3 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 3
	}

	g := &Gateway{
		cfg:     cfg,
		dialer:  dialer,
		handler: handler,
		refresh: refresh,
		logger:  logger.With("component", "gateway"),
		stopCh:  make(chan struct{}),
	}
	g.setState(StateDisconnected)
	return g
}

// Run dials with the given token and supervises the connection until Stop,
// context cancellation, or an unrecoverable failure. It returns nil after a
// clean stop, ErrRetriesExhausted when the reconnect budget runs out, and an
// error wrapping ErrAuthRejected or ErrCredentialRefresh when the credential
// cannot be recovered.
func (g *Gateway) Run(ctx context.Context, token string) error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("gateway already running")
	}
	defer g.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempts := 0
	refreshed := false

	for {
		if ctx.Err() != nil {
			g.transition(StateStopped, "stopped", 0)
			return nil
		}

		g.transition(StateConnecting, "", attempts)
		transport, err := g.dialer.Dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				g.transition(StateStopped, "stopped", 0)
				return nil
			}

			if errors.Is(err, ErrAuthRejected) {
				if refreshed || g.refresh == nil {
					g.logger.Error("credential rejected",
						"refreshed", refreshed, "error", err)
					g.transition(StateStopped, "auth_rejected", 0)
					return fmt.Errorf("dialing: %w", err)
				}
				g.logger.Warn("credential rejected, refreshing", "error", err)
				newToken, rerr := g.refresh(ctx)
				if rerr != nil {
					g.logger.Error("credential refresh failed", "error", rerr)
					g.transition(StateStopped, "refresh_failed", 0)
					return fmt.Errorf("%w: %v", ErrCredentialRefresh, rerr)
				}
				token = newToken
				refreshed = true
				g.logger.Info("credential refreshed, retrying dial")
				continue
			}

			attempts++
			g.logger.Warn("dial failed",
				"attempt", attempts,
				"max_attempts", g.cfg.MaxReconnectAttempts,
				"error", err)
			if attempts >= g.cfg.MaxReconnectAttempts {
				g.logger.Error("reconnect attempts exhausted", "attempts", attempts)
				g.transition(StateStopped, "retries_exhausted", attempts)
				return fmt.Errorf("connecting after %d attempts: %w", attempts, ErrRetriesExhausted)
			}
			g.transition(StateReconnecting, "dial_failed", attempts)
			g.pause(ctx)
			continue
		}

		attempts = 0
		refreshed = false
		connID := uuid.NewString()
		g.transition(StateConnected, "", 0)
		g.logger.Info("connected", "conn_id", connID)

		reason := g.supervise(ctx, transport, connID)
		if cerr := transport.Close(); cerr != nil {
			g.logger.Debug("transport close", "conn_id", connID, "error", cerr)
		}

		if ctx.Err() != nil {
			g.transition(StateStopped, "stopped", 0)
			g.logger.Info("gateway stopped", "conn_id", connID)
			return nil
		}

		g.logger.Warn("connection lost, reconnecting",
			"conn_id", connID,
			"reason", reason,
			"delay", g.cfg.ReconnectDelay)
		g.transition(StateReconnecting, reason, 0)
		g.pause(ctx)
	}
}

// Stop shuts the supervisor down. Safe to call more than once and before
// Run; a running Run returns nil after the teardown completes.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

// pause waits the reconnect delay, cut short by cancellation.
func (g *Gateway) pause(ctx context.Context) {
	select {
	case <-time.After(g.cfg.ReconnectDelay):
	case <-ctx.Done():
	}
}

// supervise runs the heartbeat, health check, and listen duties until one
// of them declares the connection dead or the context is cancelled. It
// returns the failure reason.
func (g *Gateway) supervise(ctx context.Context, transport Transport, connID string) string {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.missedHeartbeats.Store(0)
	g.markActivity()

	// First failure wins; the other duties exit together via cancel.
	failed := make(chan string, 1)

	var wg sync.WaitGroup
	wg.Add(3)
	go g.heartbeatLoop(connCtx, transport, failed, &wg)
	go g.healthLoop(connCtx, transport, failed, &wg)
	go g.listenLoop(connCtx, ctx, transport, failed, &wg)

	reason := "stopped"
	select {
	case reason = <-failed:
	case <-connCtx.Done():
	}
	cancel()
	wg.Wait()
	return reason
}

// listenLoop delivers inbound frames to the handler. Any frame counts as
// connection activity and clears the missed-heartbeat counter. The handler
// runs with the outer context so in-flight replies survive a reconnect.
func (g *Gateway) listenLoop(ctx, handlerCtx context.Context, transport Transport, failed chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-transport.Frames():
			if !ok {
				g.fail(failed, "connection closed")
				return
			}
			g.markActivity()
			g.missedHeartbeats.Store(0)
			g.handler.HandleFrame(handlerCtx, frame)
		}
	}
}

// fail reports a connection failure; only the first report is kept.
func (g *Gateway) fail(failed chan<- string, reason string) {
	select {
	case failed <- reason:
	default:
	}
}

// markActivity records inbound traffic for the health check.
func (g *Gateway) markActivity() {
	g.lastFrame.Store(time.Now())
}

// lastActivity returns the time of the last inbound frame.
func (g *Gateway) lastActivity() time.Time {
	if v := g.lastFrame.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}
