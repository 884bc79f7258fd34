package tether

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Settings keys in the persisted file.
const (
	settingCloudSyncEnabled = "cloud_sync.enabled"
	settingAutoSyncEnabled  = "auto_sync.enabled"
	settingRemoteURL        = "remote.url"
	settingRemoteToken      = "remote.token"
	settingRemoteUserID     = "remote.user_id"
)

// Settings is the locally persisted user configuration read by the sync
// manager at startup and on every trigger.
type Settings struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

// LoadSettings reads persisted settings from path, creating defaults when
// the file does not exist yet.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault(settingCloudSyncEnabled, false)
	v.SetDefault(settingAutoSyncEnabled, true)
	v.SetDefault(settingRemoteURL, "")
	v.SetDefault(settingRemoteToken, "")
	v.SetDefault(settingRemoteUserID, "")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("settings: read %s: %w", path, err)
		}
		// no file yet: defaults apply
	}

	return &Settings{v: v, path: path}, nil
}

// CloudSyncEnabled reports whether cloud sync is enabled.
func (s *Settings) CloudSyncEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(settingCloudSyncEnabled)
}

// AutoSyncEnabled reports whether mutations schedule debounced syncs.
func (s *Settings) AutoSyncEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(settingAutoSyncEnabled)
}

// RemoteURL returns the configured remote replica service URL.
func (s *Settings) RemoteURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(settingRemoteURL)
}

// Token returns the persisted session token.
func (s *Settings) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(settingRemoteToken)
}

// UserID returns the persisted authenticated user id.
func (s *Settings) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(settingRemoteUserID)
}

// SetCloudSyncEnabled persists the cloud-sync flag.
func (s *Settings) SetCloudSyncEnabled(enabled bool) error {
	return s.set(settingCloudSyncEnabled, enabled)
}

// SetAutoSyncEnabled persists the auto-sync flag.
func (s *Settings) SetAutoSyncEnabled(enabled bool) error {
	return s.set(settingAutoSyncEnabled, enabled)
}

// SetRemote persists the remote service coordinates and session.
func (s *Settings) SetRemote(url, token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(settingRemoteURL, url)
	s.v.Set(settingRemoteToken, token)
	s.v.Set(settingRemoteUserID, userID)
	return s.writeUnlocked()
}

func (s *Settings) set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	return s.writeUnlocked()
}

func (s *Settings) writeUnlocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}

// settingsAuth is an AuthProvider backed by config overrides and persisted
// settings.
type settingsAuth struct {
	cfg      Config
	settings *Settings
}

func (a *settingsAuth) CurrentUserID() string {
	if a.cfg.UserID != "" {
		return a.cfg.UserID
	}
	if a.settings == nil {
		return ""
	}
	return a.settings.UserID()
}

func (a *settingsAuth) Token() string {
	if a.cfg.Token != "" {
		return a.cfg.Token
	}
	if a.settings == nil {
		return ""
	}
	return a.settings.Token()
}
