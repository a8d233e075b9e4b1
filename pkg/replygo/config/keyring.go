// Package config – keyring.go stores credentials in the operating system's
// native keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain,
// Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. Encrypted vault (.replygo.vault — AES-256-GCM + Argon2, master password)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. Environment variable (REPLYGO_PLATFORM_PASSWORD, REPLYGO_DIFY_API_KEY)
//  4. .env file (loaded by godotenv)
//  5. config.yaml value (least secure — plaintext on disk)
package config

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "replygo"

// Secret names, shared between the keyring, the vault, and the auth CLI.
const (
	SecretPlatformPassword = "platform_password"
	SecretDifyAPIKey       = "dify_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(name string) error {
	return keyring.Delete(keyringService, name)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__replygo_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills the config's secret fields using the priority chain:
// vault → keyring → value already resolved from env/config. A vault that
// exists on disk prompts for its master password once and is locked again
// before returning.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	vault := NewVault(VaultFile)
	if vault.Exists() {
		password, err := ReadPassword("Vault password: ")
		if err != nil {
			logger.Warn("failed to read vault password", "error", err)
		} else if err := vault.Unlock(password); err != nil {
			logger.Warn("failed to unlock vault", "error", err)
		}
	}

	cfg.Platform.Password = resolveSecret(vault, SecretPlatformPassword, cfg.Platform.Password, logger)
	cfg.AI.APIKey = resolveSecret(vault, SecretDifyAPIKey, cfg.AI.APIKey, logger)

	vault.Lock()

	if cfg.Platform.Password == "" {
		logger.Warn("no platform password found",
			"hint", "run 'replygo auth set platform' or set REPLYGO_PLATFORM_PASSWORD")
	}
	if cfg.AI.APIKey == "" {
		logger.Warn("no Dify API key found",
			"hint", "run 'replygo auth set dify' or set REPLYGO_DIFY_API_KEY")
	}
}

// resolveSecret walks the chain for one secret. current carries whatever the
// loader already resolved from env expansion or the YAML itself.
func resolveSecret(vault *Vault, name, current string, logger *slog.Logger) string {
	if vault.IsUnlocked() {
		if val, err := vault.Get(name); err == nil && val != "" {
			logger.Debug("secret loaded from encrypted vault", "secret", name)
			return val
		}
	}

	if val := GetKeyring(name); val != "" {
		logger.Debug("secret loaded from OS keyring", "secret", name)
		return val
	}

	if current != "" && !IsEnvReference(current) {
		logger.Debug("secret loaded from config/env", "secret", name)
		return current
	}

	return ""
}
