package tether

import (
	"path/filepath"
	"testing"
)

// TestLoadSettings_DefaultsWithoutFile verifies defaults apply when no
// settings file exists yet.
func TestLoadSettings_DefaultsWithoutFile(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if settings.CloudSyncEnabled() {
		t.Error("cloud sync enabled by default")
	}
	if !settings.AutoSyncEnabled() {
		t.Error("auto sync disabled by default")
	}
	if settings.RemoteURL() != "" {
		t.Errorf("RemoteURL = %q, want empty", settings.RemoteURL())
	}
}

// TestSettings_PersistAcrossLoads verifies writes survive a reload from the
// same path.
func TestSettings_PersistAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	first, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if err := first.SetCloudSyncEnabled(true); err != nil {
		t.Fatalf("SetCloudSyncEnabled failed: %v", err)
	}
	if err := first.SetRemote("https://replica.example.com", "tok", "u1"); err != nil {
		t.Fatalf("SetRemote failed: %v", err)
	}

	second, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !second.CloudSyncEnabled() {
		t.Error("cloud sync flag lost")
	}
	if second.RemoteURL() != "https://replica.example.com" || second.Token() != "tok" || second.UserID() != "u1" {
		t.Errorf("remote = %q/%q/%q", second.RemoteURL(), second.Token(), second.UserID())
	}
}

// TestSettingsAuth_ConfigOverridesWin verifies explicit config credentials
// take precedence over persisted settings.
func TestSettingsAuth_ConfigOverridesWin(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if err := settings.SetRemote("https://replica.example.com", "settings-token", "settings-user"); err != nil {
		t.Fatalf("SetRemote failed: %v", err)
	}

	auth := &settingsAuth{cfg: Config{Token: "cfg-token", UserID: "cfg-user"}, settings: settings}
	if auth.Token() != "cfg-token" {
		t.Errorf("Token = %q, want cfg-token", auth.Token())
	}
	if auth.CurrentUserID() != "cfg-user" {
		t.Errorf("CurrentUserID = %q, want cfg-user", auth.CurrentUserID())
	}

	fallthru := &settingsAuth{settings: settings}
	if fallthru.Token() != "settings-token" || fallthru.CurrentUserID() != "settings-user" {
		t.Errorf("settings fallthrough = %q/%q", fallthru.Token(), fallthru.CurrentUserID())
	}
}
