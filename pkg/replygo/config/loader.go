// Package config – loader.go loads YAML configuration with .env support,
// environment-variable expansion, and secret resolution from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Loads .env files first and expands environment variables inside the YAML.
func LoadConfigFromFile(path string) (*Config, error) {
	// Load .env files (silently ignore if not found).
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in YAML before parsing.
	expanded := expandEnvVars(string(data))

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	// Fill secrets from environment when the config left them empty or as
	// unexpanded placeholders.
	resolveEnvSecrets(cfg)

	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML. Duration fields
// arrive as strings ("5s", "3h") and are parsed here; yaml.v3 has no native
// time.Duration decoding.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDurations converts the raw YAML duration strings into the
// time.Duration fields, leaving defaults in place where the YAML is silent.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.heartbeat_interval", cfg.Gateway.HeartbeatIntervalRaw, &cfg.Gateway.HeartbeatInterval},
		{"gateway.health_check_interval", cfg.Gateway.HealthCheckIntervalRaw, &cfg.Gateway.HealthCheckInterval},
		{"gateway.health_check_window", cfg.Gateway.HealthCheckWindowRaw, &cfg.Gateway.HealthCheckWindow},
		{"gateway.reconnect_delay", cfg.Gateway.ReconnectDelayRaw, &cfg.Gateway.ReconnectDelay},
		{"gateway.write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"monitor.poll_interval", cfg.Monitor.PollIntervalRaw, &cfg.Monitor.PollInterval},
		{"monitor.stale_after", cfg.Monitor.StaleAfterRaw, &cfg.Monitor.StaleAfter},
		{"session.recycle_after_min", cfg.Session.RecycleAfterMinRaw, &cfg.Session.RecycleAfterMin},
		{"session.recycle_after_max", cfg.Session.RecycleAfterMaxRaw, &cfg.Session.RecycleAfterMax},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// SaveConfigToFile writes a Config as YAML to the specified path.
// Secrets already present in the environment are written back as
// environment-variable references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Platform.Password = sanitizeSecret(cfg.Platform.Password, "REPLYGO_PLATFORM_PASSWORD")
	sanitized.AI.APIKey = sanitizeSecret(cfg.AI.APIKey, "REPLYGO_DIFY_API_KEY")
	fillRawDurations(&sanitized)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Owner read/write only.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// fillRawDurations writes the effective duration values back into the raw
// string fields so the marshaled YAML carries them.
func fillRawDurations(cfg *Config) {
	cfg.Gateway.HeartbeatIntervalRaw = cfg.Gateway.HeartbeatInterval.String()
	cfg.Gateway.HealthCheckIntervalRaw = cfg.Gateway.HealthCheckInterval.String()
	cfg.Gateway.HealthCheckWindowRaw = cfg.Gateway.HealthCheckWindow.String()
	cfg.Gateway.ReconnectDelayRaw = cfg.Gateway.ReconnectDelay.String()
	cfg.Gateway.WriteTimeoutRaw = cfg.Gateway.WriteTimeout.String()
	cfg.Gateway.HandshakeTimeoutRaw = cfg.Gateway.HandshakeTimeout.String()
	cfg.Monitor.PollIntervalRaw = cfg.Monitor.PollInterval.String()
	cfg.Monitor.StaleAfterRaw = cfg.Monitor.StaleAfter.String()
	cfg.Session.RecycleAfterMinRaw = cfg.Session.RecycleAfterMin.String()
	cfg.Session.RecycleAfterMaxRaw = cfg.Session.RecycleAfterMax.String()
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"replygo.yaml",
		"replygo.yml",
		"configs/config.yaml",
		"configs/replygo.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// AuditSecrets warns about credentials stored as plaintext in the YAML.
// Called on startup with the raw (unresolved) config values.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if cfg.Platform.Password != "" && !IsEnvReference(cfg.Platform.Password) {
		logger.Warn("platform password appears to be hardcoded in config. "+
			"Use environment variable REPLYGO_PLATFORM_PASSWORD instead.",
			"hint", "Set 'password: ${REPLYGO_PLATFORM_PASSWORD}' in config.yaml")
	}
	if cfg.AI.APIKey != "" && !IsEnvReference(cfg.AI.APIKey) && looksLikeRealKey(cfg.AI.APIKey) {
		logger.Warn("Dify API key appears to be hardcoded in config. "+
			"Use environment variable REPLYGO_DIFY_API_KEY instead.",
			"hint", "Set 'api_key: ${REPLYGO_DIFY_API_KEY}' in config.yaml")
	}
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}

	for _, f := range envFiles {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references in a string
// with their environment variable values.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		// Leave unset references in place so they stay visible as
		// placeholders.
		return match
	})
}

// resolveEnvSecrets fills config secrets from environment variables when the
// config value is empty or an unexpanded placeholder.
func resolveEnvSecrets(cfg *Config) {
	if cfg.Platform.Password == "" || IsEnvReference(cfg.Platform.Password) {
		if pw := os.Getenv("REPLYGO_PLATFORM_PASSWORD"); pw != "" {
			cfg.Platform.Password = pw
		}
	}

	if cfg.AI.APIKey == "" || IsEnvReference(cfg.AI.APIKey) {
		if key := os.Getenv("REPLYGO_DIFY_API_KEY"); key != "" {
			cfg.AI.APIKey = key
		} else if key := os.Getenv("DIFY_API_KEY"); key != "" {
			cfg.AI.APIKey = key
		}
	}
}

// sanitizeSecret replaces a real secret with an env var reference
// for safe storage in config files.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	// If the env var is already set with this value, use the reference.
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	// Return as-is (user explicitly put it in config).
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// looksLikeRealKey heuristically checks if a string looks like a real API
// key rather than a placeholder.
func looksLikeRealKey(s string) bool {
	if IsEnvReference(s) {
		return false
	}
	// Dify app keys start with "app-".
	if strings.HasPrefix(s, "app-") {
		return true
	}
	if strings.HasPrefix(s, "sk-") {
		return true
	}
	// Generic: long alphanumeric strings are likely real keys.
	if len(s) > 20 {
		return true
	}
	return false
}

// checkFilePermissions warns if the config file is group/world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
