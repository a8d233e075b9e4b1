// Package config defines the gateway's configuration surface: YAML-mapped
// structs with defaults, an env-expanding loader, and the secret resolution
// chain (vault → OS keyring → environment → config value).
package config

import (
	"fmt"
	"time"

	"github.com/jholhewres/replygo/pkg/replygo/gateway"
	"github.com/jholhewres/replygo/pkg/replygo/monitor"
)

// Config holds all gateway configuration.
type Config struct {
	// Platform configures the customer-service platform HTTP API.
	Platform PlatformConfig `yaml:"platform"`

	// Gateway configures the websocket connection supervisor.
	Gateway gateway.Config `yaml:"gateway"`

	// AI configures the Dify completion backend.
	AI AIConfig `yaml:"ai"`

	// Store configures the durable conversation store.
	Store StoreConfig `yaml:"store"`

	// Monitor configures the stale-conversation sweep.
	Monitor monitor.Config `yaml:"monitor"`

	// Session configures periodic session recycling.
	Session SessionConfig `yaml:"session"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// PlatformConfig holds the platform endpoints and operator account.
type PlatformConfig struct {
	// BaseURL is the platform HTTP API root (login, send, set-read).
	BaseURL string `yaml:"base_url"`

	// Username is the operator account name.
	Username string `yaml:"username"`

	// Password is the operator password. Prefer ${REPLYGO_PLATFORM_PASSWORD}
	// or the keyring/vault over a plaintext value here.
	Password string `yaml:"password"`
}

// AIConfig holds the Dify completion backend settings.
type AIConfig struct {
	// BaseURL is the Dify API root (e.g. "https://api.dify.ai/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey is the Dify app key. Prefer ${REPLYGO_DIFY_API_KEY} or the
	// keyring/vault over a plaintext value here.
	APIKey string `yaml:"api_key"`

	// Inputs are prompt inputs sent with every completion
	// (register_url, whatsapp_url, hr_name, language, ...).
	Inputs map[string]any `yaml:"inputs"`
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// SessionConfig configures session recycling: the daemon periodically tears
// the whole session down and logs in again, keeping platform tokens fresh
// the way a returning operator would.
type SessionConfig struct {
	// RecycleAfterMin and RecycleAfterMax bound the uniformly random
	// recycle window. Zero for both disables recycling.
	RecycleAfterMin time.Duration `yaml:"-"`
	RecycleAfterMax time.Duration `yaml:"-"`

	// Raw duration strings from YAML, parsed by the loader.
	RecycleAfterMinRaw string `yaml:"recycle_after_min"`
	RecycleAfterMaxRaw string `yaml:"recycle_after_max"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: gateway.DefaultConfig(),
		AI: AIConfig{
			BaseURL: "https://api.dify.ai/v1",
		},
		Store: StoreConfig{
			Path: "./data/conversations.db",
		},
		Monitor: monitor.DefaultConfig(),
		Session: SessionConfig{
			RecycleAfterMin: 1 * time.Hour,
			RecycleAfterMax: 3 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports the first missing required value. Secrets are checked
// after resolution, not here.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Platform.Username == "" {
		return fmt.Errorf("platform.username is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Session.RecycleAfterMin > c.Session.RecycleAfterMax {
		return fmt.Errorf("session.recycle_after_min exceeds recycle_after_max")
	}
	return nil
}
