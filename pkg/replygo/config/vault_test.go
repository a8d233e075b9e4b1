package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVaultCreateAndUnlock(t *testing.T) {
	dir := t.TempDir()
	vault := NewVault(filepath.Join(dir, "test.vault"))

	t.Run("creates new vault", func(t *testing.T) {
		if err := vault.Create("master-password"); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if !vault.Exists() {
			t.Error("vault file missing after create")
		}
		if !vault.IsUnlocked() {
			t.Error("vault should be unlocked after create")
		}
	})

	t.Run("cannot create twice", func(t *testing.T) {
		if err := vault.Create("other-password"); err == nil {
			t.Error("expected error creating over an existing vault")
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		// The verification entry appears with the first Set.
		if err := vault.Set("probe", "value"); err != nil {
			t.Fatal(err)
		}
		vault.Lock()

		if err := vault.Unlock("wrong-password"); err == nil {
			t.Error("expected error with wrong password")
		}
		if vault.IsUnlocked() {
			t.Error("vault unlocked with wrong password")
		}
	})

	t.Run("correct password unlocks", func(t *testing.T) {
		if err := vault.Unlock("master-password"); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if !vault.IsUnlocked() {
			t.Error("vault should be unlocked")
		}
	})
}

func TestVaultSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	vault := NewVault(filepath.Join(dir, "test.vault"))
	if err := vault.Create("pw"); err != nil {
		t.Fatal(err)
	}

	t.Run("round trip", func(t *testing.T) {
		if err := vault.Set(SecretDifyAPIKey, "app-secret-12345"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		val, err := vault.Get(SecretDifyAPIKey)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if val != "app-secret-12345" {
			t.Errorf("got %q", val)
		}
	})

	t.Run("missing name is empty, not an error", func(t *testing.T) {
		val, err := vault.Get("nonexistent")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if val != "" {
			t.Errorf("got %q, want empty", val)
		}
	})

	t.Run("survives lock and unlock", func(t *testing.T) {
		vault.Lock()
		if _, err := vault.Get(SecretDifyAPIKey); err == nil {
			t.Error("Get on locked vault should fail")
		}
		if err := vault.Unlock("pw"); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		val, err := vault.Get(SecretDifyAPIKey)
		if err != nil || val != "app-secret-12345" {
			t.Errorf("got %q, %v", val, err)
		}
	})

	t.Run("list hides internal entries", func(t *testing.T) {
		if err := vault.Set(SecretPlatformPassword, "hunter2"); err != nil {
			t.Fatal(err)
		}
		names := vault.List()
		if len(names) != 2 {
			t.Fatalf("List = %v, want two names", names)
		}
		for _, n := range names {
			if n == verifyEntry {
				t.Error("List leaked the verification entry")
			}
		}
	})

	t.Run("delete removes the entry", func(t *testing.T) {
		if err := vault.Delete(SecretDifyAPIKey); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		val, _ := vault.Get(SecretDifyAPIKey)
		if val != "" {
			t.Errorf("got %q after delete", val)
		}
	})
}

func TestVaultChangePassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.vault")
	vault := NewVault(path)
	if err := vault.Create("old-password"); err != nil {
		t.Fatal(err)
	}
	if err := vault.Set(SecretPlatformPassword, "hunter2"); err != nil {
		t.Fatal(err)
	}

	if err := vault.ChangePassword("new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	vault.Lock()

	if err := vault.Unlock("old-password"); err == nil {
		t.Error("old password still unlocks")
	}
	if err := vault.Unlock("new-password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	val, err := vault.Get(SecretPlatformPassword)
	if err != nil || val != "hunter2" {
		t.Errorf("got %q, %v after rotation", val, err)
	}
}

func TestVaultFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.vault")
	vault := NewVault(path)
	if err := vault.Create("pw"); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("vault mode = %04o, want 0600", perm)
	}
}
