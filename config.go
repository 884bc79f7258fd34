package tether

import (
	"os"

	"github.com/hyperengineering/tether/internal/store"
)

// Config configures the Tether client.
type Config struct {
	// Profile is the local data profile to operate against.
	// If empty, resolved as explicit > TETHER_PROFILE env > "default".
	Profile string

	// LocalPath is the path to the local SQLite database.
	// If empty, derived from Profile.
	LocalPath string

	// FallbackDir is the directory backing the fallback store.
	// If empty, derived from Profile.
	FallbackDir string

	// LedgerDir is the directory backing the tombstone ledger.
	// If empty, derived from Profile.
	LedgerDir string

	// SettingsPath is the path to the persisted settings file.
	// If empty, derived from Profile.
	SettingsPath string

	// RemoteURL is the URL of the remote replica service.
	// If empty, the persisted settings value is used; if that is also
	// empty the client operates offline.
	RemoteURL string

	// Token authenticates with the remote replica service. Overrides the
	// persisted settings value when set.
	Token string

	// UserID identifies the authenticated user. Overrides the persisted
	// settings value when set.
	UserID string

	// AppVersion is recorded in backup documents. Informational only.
	AppVersion string

	// Debug enables verbose logging of sync and storage operations.
	Debug bool

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Profile:      "default",
		LocalPath:    store.ProfileDBPath("default"),
		FallbackDir:  store.ProfileFallbackDir("default"),
		LedgerDir:    store.ProfileLedgerDir("default"),
		SettingsPath: store.ProfileSettingsPath("default"),
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	TETHER_PROFILE     → Profile
//	TETHER_DB_PATH     → LocalPath
//	TETHER_REMOTE_URL  → RemoteURL
//	TETHER_TOKEN       → Token
//	TETHER_USER_ID     → UserID
//	TETHER_DEBUG       → Debug (any non-empty value enables)
//	TETHER_DEBUG_LOG   → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		Profile:      os.Getenv("TETHER_PROFILE"),
		LocalPath:    os.Getenv("TETHER_DB_PATH"),
		RemoteURL:    os.Getenv("TETHER_REMOTE_URL"),
		Token:        os.Getenv("TETHER_TOKEN"),
		UserID:       os.Getenv("TETHER_USER_ID"),
		Debug:        os.Getenv("TETHER_DEBUG") != "",
		DebugLogPath: os.Getenv("TETHER_DEBUG_LOG"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}
	if c.Profile != "" {
		if err := store.ValidateProfile(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}
	return nil
}

// WithDefaults fills in default values for unset fields.
// Profile resolution: explicit Profile field > TETHER_PROFILE env >
// "default"; paths derive from the resolved profile when unset.
func (c Config) WithDefaults() Config {
	if c.Profile == "" {
		resolved, err := store.ResolveProfile("")
		if err == nil {
			c.Profile = resolved
		} else {
			c.Profile = "default"
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = store.ProfileDBPath(c.Profile)
	}
	if c.FallbackDir == "" {
		c.FallbackDir = store.ProfileFallbackDir(c.Profile)
	}
	if c.LedgerDir == "" {
		c.LedgerDir = store.ProfileLedgerDir(c.Profile)
	}
	if c.SettingsPath == "" {
		c.SettingsPath = store.ProfileSettingsPath(c.Profile)
	}

	return c
}
