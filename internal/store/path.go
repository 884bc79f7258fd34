package store

import (
	"os"
	"path/filepath"
)

// DefaultDataRoot returns the root directory for all profiles.
// Defaults to ~/.tether/profiles, falls back to ./.tether/profiles if the
// home dir is unavailable.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".tether", "profiles")
	}
	return filepath.Join(home, ".tether", "profiles")
}

// ProfileDir returns the data directory for a profile.
func ProfileDir(profile string) string {
	return filepath.Join(DefaultDataRoot(), profile)
}

// ProfileDBPath returns the path to a profile's primary database file.
// Example: ProfileDBPath("default") -> ~/.tether/profiles/default/tether.db
func ProfileDBPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "tether.db")
}

// ProfileFallbackDir returns the directory backing a profile's fallback
// store.
func ProfileFallbackDir(profile string) string {
	return filepath.Join(ProfileDir(profile), "fallback")
}

// ProfileLedgerDir returns the directory backing a profile's tombstone
// ledger.
func ProfileLedgerDir(profile string) string {
	return filepath.Join(ProfileDir(profile), "ledger")
}

// ProfileSettingsPath returns the path to a profile's persisted settings.
func ProfileSettingsPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "settings.yaml")
}
