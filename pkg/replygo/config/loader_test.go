package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	t.Parallel()

	yaml := `
platform:
  base_url: "https://crm.example.com"
  username: "operator7"
gateway:
  url: "wss://crm.example.com/websocket"
  heartbeat_interval: 2s
ai:
  inputs:
    hr_name: "Ana"
    language: "pt-BR"
`
	cfg, err := ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Platform.BaseURL != "https://crm.example.com" {
		t.Errorf("base url = %q", cfg.Platform.BaseURL)
	}
	if cfg.Gateway.HeartbeatInterval != 2*time.Second {
		t.Errorf("heartbeat interval = %v, want 2s", cfg.Gateway.HeartbeatInterval)
	}

	// Values the YAML does not mention keep their defaults.
	if cfg.Gateway.MaxReconnectAttempts != 3 {
		t.Errorf("max reconnect attempts = %d, want default 3", cfg.Gateway.MaxReconnectAttempts)
	}
	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v, want default 30s", cfg.Monitor.PollInterval)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q, want default json", cfg.Logging.Format)
	}
	if cfg.Store.Path != "./data/conversations.db" {
		t.Errorf("store path = %q, want default", cfg.Store.Path)
	}

	if got := cfg.AI.Inputs["hr_name"]; got != "Ana" {
		t.Errorf("inputs hr_name = %v", got)
	}
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	t.Parallel()

	if _, err := ParseConfig([]byte("platform: [not a map")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	t.Parallel()

	yaml := `
gateway:
  reconnect_delay: "five seconds"
`
	_, err := ParseConfig([]byte(yaml))
	if err == nil {
		t.Fatal("expected duration parse error")
	}
	if !strings.Contains(err.Error(), "reconnect_delay") {
		t.Errorf("error %q does not name the offending field", err)
	}
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("REPLYGO_TEST_PW_7731", "hunter2")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
platform:
  base_url: "https://crm.example.com"
  username: "operator7"
  password: "${REPLYGO_TEST_PW_7731}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Platform.Password != "hunter2" {
		t.Errorf("password = %q, want expanded env value", cfg.Platform.Password)
	}
}

func TestLoadConfigKeepsUnsetPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
platform:
  password: "${REPLYGO_UNSET_VAR_9914}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Platform.Password != "${REPLYGO_UNSET_VAR_9914}" {
		t.Errorf("password = %q, want unexpanded placeholder", cfg.Platform.Password)
	}
	if !IsEnvReference(cfg.Platform.Password) {
		t.Error("placeholder should read as an env reference")
	}
}

func TestLoadConfigEnvFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	envFile := "REPLYGO_TEST_FROM_FILE_5520=file-value\nREPLYGO_TEST_SHADOWED_5520=file-value\n"
	if err := os.WriteFile(".env", []byte(envFile), 0o600); err != nil {
		t.Fatal(err)
	}

	// A variable already present in the environment wins over the .env file.
	t.Setenv("REPLYGO_TEST_SHADOWED_5520", "env-value")

	yaml := `
platform:
  username: "${REPLYGO_TEST_FROM_FILE_5520}"
  password: "${REPLYGO_TEST_SHADOWED_5520}"
`
	if err := os.WriteFile("config.yaml", []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile("config.yaml")
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Platform.Username != "file-value" {
		t.Errorf("username = %q, want .env value", cfg.Platform.Username)
	}
	if cfg.Platform.Password != "env-value" {
		t.Errorf("password = %q, want environment value over .env", cfg.Platform.Password)
	}
}

func TestLoadConfigFillsSecretsFromEnv(t *testing.T) {
	t.Setenv("REPLYGO_PLATFORM_PASSWORD", "pw-from-env")
	t.Setenv("DIFY_API_KEY", "app-fallback-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("platform:\n  username: op\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Platform.Password != "pw-from-env" {
		t.Errorf("password = %q, want REPLYGO_PLATFORM_PASSWORD", cfg.Platform.Password)
	}
	if cfg.AI.APIKey != "app-fallback-key" {
		t.Errorf("api key = %q, want DIFY_API_KEY fallback", cfg.AI.APIKey)
	}
}

func TestSaveConfigSanitizesSecrets(t *testing.T) {
	t.Setenv("REPLYGO_PLATFORM_PASSWORD", "hunter2")

	cfg := DefaultConfig()
	cfg.Platform.Password = "hunter2"

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("saved config leaks the plaintext password")
	}
	if !strings.Contains(string(data), "${REPLYGO_PLATFORM_PASSWORD}") {
		t.Error("saved config missing the env reference")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %04o, want 0600", perm)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if found := FindConfigFile(); found != "" {
		t.Fatalf("found %q in empty dir", found)
	}

	if err := os.WriteFile("replygo.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if found := FindConfigFile(); found != "replygo.yaml" {
		t.Errorf("found = %q, want replygo.yaml", found)
	}

	// config.yaml outranks replygo.yaml.
	if err := os.WriteFile("config.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if found := FindConfigFile(); found != "config.yaml" {
		t.Errorf("found = %q, want config.yaml", found)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Platform.BaseURL = "https://crm.example.com"
		cfg.Platform.Username = "operator7"
		cfg.Gateway.URL = "wss://crm.example.com/websocket"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := valid()
	cfg.Platform.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing platform.base_url accepted")
	}

	cfg = valid()
	cfg.Gateway.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing gateway.url accepted")
	}

	cfg = valid()
	cfg.Session.RecycleAfterMin = 4 * time.Hour
	cfg.Session.RecycleAfterMax = 1 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("inverted recycle window accepted")
	}
}

func TestAuditSecretsWarnsOnPlaintext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := DefaultConfig()
	cfg.Platform.Password = "plaintext-password"
	cfg.AI.APIKey = "app-0123456789abcdef"
	AuditSecrets(cfg, logger)

	out := buf.String()
	if !strings.Contains(out, "REPLYGO_PLATFORM_PASSWORD") {
		t.Error("no warning for plaintext platform password")
	}
	if !strings.Contains(out, "REPLYGO_DIFY_API_KEY") {
		t.Error("no warning for plaintext Dify key")
	}

	// Env references are fine.
	buf.Reset()
	cfg = DefaultConfig()
	cfg.Platform.Password = "${REPLYGO_PLATFORM_PASSWORD}"
	cfg.AI.APIKey = "${REPLYGO_DIFY_API_KEY}"
	AuditSecrets(cfg, logger)
	if buf.Len() != 0 {
		t.Errorf("unexpected warnings: %s", buf.String())
	}
}

func TestResolveSecretPrefersVault(t *testing.T) {
	t.Parallel()

	// A name no OS keyring would hold, so the keyring step always misses.
	const name = "test_secret_7731"

	dir := t.TempDir()
	vault := NewVault(filepath.Join(dir, "test.vault"))
	if err := vault.Create("master"); err != nil {
		t.Fatal(err)
	}
	if err := vault.Set(name, "app-from-vault"); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	got := resolveSecret(vault, name, "app-from-config", logger)
	if got != "app-from-vault" {
		t.Errorf("resolved = %q, want vault value", got)
	}

	// A locked vault falls through to the already-resolved value.
	vault.Lock()
	got = resolveSecret(vault, name, "app-from-config", logger)
	if got != "app-from-config" {
		t.Errorf("resolved = %q, want config value", got)
	}

	// Unexpanded placeholders never count as a resolved secret.
	got = resolveSecret(vault, name, "${REPLYGO_DIFY_API_KEY}", logger)
	if got != "" {
		t.Errorf("resolved = %q, want empty", got)
	}
}
