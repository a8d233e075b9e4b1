// Package monitor re-engages conversations that have gone quiet: a cron
// sweep finds stale records, asks the AI for a follow-up turn, and sends it
// proactively. The AI can end the engagement with its sentinel reply, which
// suppresses the conversation instead of messaging the counterpart.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/replygo/pkg/replygo/dify"
	"github.com/jholhewres/replygo/pkg/replygo/platform"
	"github.com/jholhewres/replygo/pkg/replygo/store"
)

// maxSeenEntries bounds the in-process dedup set before it is cleared.
const maxSeenEntries = 1000

// Config controls the re-engagement sweep.
type Config struct {
	// Enabled turns the monitor on.
	Enabled bool `yaml:"enabled"`

	// PollInterval is how often stale conversations are scanned.
	// Default: 30s
	PollInterval time.Duration `yaml:"-"`

	// StaleAfter is how long a conversation must be quiet before a
	// re-engagement turn.
	// Default: 3h
	StaleAfter time.Duration `yaml:"-"`

	// MaxActivations caps how many times one conversation is re-engaged.
	// Default: 3
	MaxActivations int `yaml:"max_activations"`

	// Prompt is the query sent to the AI for a re-engagement turn. The
	// prompt template recognizes it and produces the follow-up message.
	// Default: "system_return_visit"
	Prompt string `yaml:"prompt"`

	// Raw duration strings from YAML, parsed by the config loader.
	PollIntervalRaw string `yaml:"poll_interval"`
	StaleAfterRaw   string `yaml:"stale_after"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		PollInterval:   30 * time.Second,
		StaleAfter:     3 * time.Hour,
		MaxActivations: 3,
		Prompt:         "system_return_visit",
	}
}

// StaleStore is the slice of the conversation store the monitor uses.
type StaleStore interface {
	Stale(ctx context.Context, olderThan time.Duration, maxActivations int) ([]*store.ConversationRecord, error)
	IncrementActivation(ctx context.Context, sessionKey string, by int) error
}

// Completer runs one session completion.
type Completer interface {
	Complete(ctx context.Context, req dify.Request) (dify.Reply, error)
}

// Dispatcher delivers one reply text to a platform conversation.
type Dispatcher interface {
	Dispatch(ctx context.Context, sctx platform.SendContext, text string) error
}

// AuthSource exposes the current platform auth state. Proactive sends route
// with the channel token, which changes when the session is recycled.
type AuthSource interface {
	Auth() platform.AuthContext
}

// Monitor owns the sweep schedule and the per-record re-engagement flow.
type Monitor struct {
	cfg        Config
	store      StaleStore
	completer  Completer
	dispatcher Dispatcher
	auth       AuthSource
	logger     *slog.Logger

	cron    *cron.Cron
	running atomic.Bool

	// seen dedups re-engagements within the set's lifetime; the sweep is
	// single-flight, so no lock is needed.
	seen map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Monitor. Defaults are applied for zero config values.
func New(cfg Config, st StaleStore, completer Completer, dispatcher Dispatcher, auth AuthSource, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	// Apply defaults.
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * time.Hour
	}
	if cfg.MaxActivations <= 0 {
		cfg.MaxActivations = 3
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "system_return_visit"
	}

	return &Monitor{
		cfg:        cfg,
		store:      st,
		completer:  completer,
		dispatcher: dispatcher,
		auth:       auth,
		logger:     logger.With("component", "monitor"),
		seen:       make(map[string]struct{}),
	}
}

// Start registers the sweep with the cron runner and begins ticking. A slow
// sweep is never overlapped: the next fire is skipped instead.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{m.logger}),
	))
	schedule := fmt.Sprintf("@every %s", m.cfg.PollInterval)
	if _, err := m.cron.AddFunc(schedule, func() { m.runTick(m.ctx) }); err != nil {
		m.cancel()
		m.running.Store(false)
		return fmt.Errorf("scheduling re-engagement sweep: %w", err)
	}
	m.cron.Start()

	m.logger.Info("conversation monitor started",
		"poll_interval", m.cfg.PollInterval,
		"stale_after", m.cfg.StaleAfter,
		"max_activations", m.cfg.MaxActivations)
	return nil
}

// Stop halts ticking and waits for a running sweep to finish. Safe to call
// more than once.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	// Cancel first so an in-flight completion aborts instead of running to
	// its own timeout.
	if m.cancel != nil {
		m.cancel()
	}
	if m.cron != nil {
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			m.logger.Warn("monitor stop timed out")
		}
	}
	m.logger.Info("conversation monitor stopped")
}

// runTick scans for stale conversations and re-engages each one.
func (m *Monitor) runTick(ctx context.Context) {
	if len(m.seen) > maxSeenEntries {
		m.logger.Debug("clearing re-engagement dedup set", "entries", len(m.seen))
		m.seen = make(map[string]struct{})
	}

	records, err := m.store.Stale(ctx, m.cfg.StaleAfter, m.cfg.MaxActivations)
	if err != nil {
		m.logger.Error("stale scan failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	m.logger.Info("stale conversations found", "count", len(records))

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if _, dup := m.seen[rec.SessionKey]; dup {
			continue
		}
		m.seen[rec.SessionKey] = struct{}{}
		m.revisit(ctx, rec)
	}
}

// revisit runs one re-engagement turn. Failures are isolated so a broken
// record never aborts the whole sweep.
func (m *Monitor) revisit(ctx context.Context, rec *store.ConversationRecord) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("re-engagement panic",
				"session", rec.SessionKey, "panic", r)
		}
	}()

	reply, err := m.completer.Complete(ctx, dify.Request{
		Session: dify.Session{
			SessionKey:    rec.SessionKey,
			AccountID:     rec.AccountID,
			CounterpartID: rec.CounterpartID,
		},
		Query:          m.cfg.Prompt,
		InputOverrides: map[string]any{"is_return_visit": 1},
	})
	if err != nil {
		m.logger.Error("re-engagement completion failed",
			"session", rec.SessionKey, "error", err)
		return
	}

	switch {
	case reply.End():
		// Push the activation count past any ceiling so later sweeps leave
		// this conversation alone.
		if err := m.store.IncrementActivation(ctx, rec.SessionKey, store.SuppressionDelta); err != nil {
			m.logger.Error("suppression failed",
				"session", rec.SessionKey, "error", err)
			return
		}
		m.logger.Info("re-engagement ended by AI", "session", rec.SessionKey)

	case reply.Text == "":
		m.logger.Debug("empty re-engagement reply, skipping",
			"session", rec.SessionKey)

	default:
		if err := m.store.IncrementActivation(ctx, rec.SessionKey, 1); err != nil {
			m.logger.Error("activation increment failed",
				"session", rec.SessionKey, "error", err)
			return
		}
		sctx := platform.SendContext{
			SessionRef:    platform.RawID(rec.SessionKey),
			AccountID:     rec.AccountID,
			CounterpartID: rec.CounterpartID,
			ChatType:      1,
			OperatorID:    platform.RawID(m.auth.Auth().ChannelToken),
		}
		if err := m.dispatcher.Dispatch(ctx, sctx, reply.Text); err != nil {
			m.logger.Error("re-engagement dispatch failed",
				"session", rec.SessionKey, "error", err)
			return
		}
		m.logger.Info("re-engagement sent",
			"session", rec.SessionKey,
			"counterpart", rec.CounterpartID,
			"activations", rec.ActivationCount+1)
	}
}

// cronLogger adapts slog to the cron runner's logger contract. Routine
// scheduling chatter goes to Debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
