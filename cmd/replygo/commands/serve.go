package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replygo/pkg/replygo/config"
	"github.com/jholhewres/replygo/pkg/replygo/dify"
	"github.com/jholhewres/replygo/pkg/replygo/gateway"
	"github.com/jholhewres/replygo/pkg/replygo/monitor"
	"github.com/jholhewres/replygo/pkg/replygo/pipeline"
	"github.com/jholhewres/replygo/pkg/replygo/platform"
	"github.com/jholhewres/replygo/pkg/replygo/reply"
	"github.com/jholhewres/replygo/pkg/replygo/store"
)

// newServeCmd creates the `replygo serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		Long: `Start replygo as a daemon: log in to the platform, supervise the
websocket, answer inbound messages through the AI, and sweep stale
conversations.

Examples:
  replygo serve
  replygo serve --config ./config.yaml
  replygo serve --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config in %s: %w", configPath, err)
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := buildLogger(cfg.Logging, verbose)

	// ── Resolve secrets ──
	// Audit BEFORE resolving — checks the raw config values for hardcoded keys.
	config.AuditSecrets(cfg, logger)
	// Resolve from vault → keyring → env → config.
	config.ResolveSecrets(cfg, logger)
	if cfg.Platform.Password == "" {
		return fmt.Errorf("no platform password configured")
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("no Dify API key configured")
	}

	// ── Open the conversation store ──
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	// ── Build the reply chain ──
	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Username, cfg.Platform.Password, logger)
	adapter := dify.NewSessionAdapter(
		dify.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Inputs, logger),
		st, logger)
	dispatcher := reply.NewDispatcher(client, logger)
	pipe := pipeline.New(client, adapter, dispatcher, st, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Start the stale-conversation monitor ──
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(cfg.Monitor, st, adapter, dispatcher, client, logger)
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("starting conversation monitor: %w", err)
		}
	}

	// ── Run platform sessions ──
	sessionsDone := make(chan struct{})
	go func() {
		defer close(sessionsDone)
		runSessions(ctx, cfg, client, pipe, logger)
	}()

	// ── Wait for shutdown ──
	logger.Info("replygo running. Press Ctrl+C to stop.",
		"account", cfg.Platform.Username,
		"monitor", cfg.Monitor.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		cancel()
		<-sessionsDone
		if mon != nil {
			mon.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// runSessions owns the login → supervise → recycle cycle. Each cycle
// authenticates from scratch and builds a fresh gateway; the cycle ends when
// the recycle timer fires, the supervisor gives up, or the context is
// canceled. Supervisor failures never kill the daemon — the next cycle
// starts with a fresh login.
func runSessions(ctx context.Context, cfg *config.Config, client *platform.Client, handler gateway.FrameHandler, logger *slog.Logger) {
	cycle := 0
	for ctx.Err() == nil {
		cycle++

		auth, err := client.Authenticate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("platform login failed", "cycle", cycle, "error", err)
			if !pause(ctx, 5*time.Second) {
				return
			}
			continue
		}
		logger.Info("platform session established", "cycle", cycle, "account", auth.UserID)

		gw := gateway.New(cfg.Gateway, gateway.NewWSDialer(cfg.Gateway, logger), handler, refreshFunc(client), logger)

		var recycleC <-chan time.Time
		if d := recycleAfter(cfg.Session); d > 0 {
			recycleC = time.After(d)
			logger.Info("session recycle scheduled", "cycle", cycle, "after", d)
		}

		runErr := make(chan error, 1)
		go func() { runErr <- gw.Run(ctx, auth.ChannelToken) }()

		select {
		case err := <-runErr:
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil:
				logger.Info("connection supervisor stopped", "cycle", cycle)
			case errors.Is(err, gateway.ErrRetriesExhausted),
				errors.Is(err, gateway.ErrAuthRejected),
				errors.Is(err, gateway.ErrCredentialRefresh):
				logger.Error("connection supervisor gave up, starting a fresh session",
					"cycle", cycle, "error", err)
			default:
				logger.Error("connection supervisor failed", "cycle", cycle, "error", err)
			}
		case <-recycleC:
			logger.Info("recycling platform session", "cycle", cycle)
			gw.Stop()
			<-runErr
		case <-ctx.Done():
			gw.Stop()
			<-runErr
			return
		}

		if !pause(ctx, 5*time.Second) {
			return
		}
	}
}

// refreshFunc re-authenticates to obtain a fresh channel token after the
// platform rejects the current one mid-session.
func refreshFunc(client *platform.Client) gateway.RefreshFunc {
	return func(ctx context.Context) (string, error) {
		auth, err := client.Authenticate(ctx)
		if err != nil {
			return "", err
		}
		return auth.ChannelToken, nil
	}
}

// recycleAfter picks a uniformly random session lifetime from the configured
// window. Zero means recycling is disabled.
func recycleAfter(s config.SessionConfig) time.Duration {
	if s.RecycleAfterMin <= 0 && s.RecycleAfterMax <= 0 {
		return 0
	}
	if s.RecycleAfterMax <= s.RecycleAfterMin {
		return s.RecycleAfterMin
	}
	return s.RecycleAfterMin + rand.N(s.RecycleAfterMax-s.RecycleAfterMin)
}

func pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// buildLogger creates the root logger from the logging config. The verbose
// flag forces debug level.
func buildLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// resolveConfig loads config from the --config flag or from discovery.
// Returns (config, path, error).
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return nil, "", fmt.Errorf("no configuration file found (run 'replygo config init')")
}
