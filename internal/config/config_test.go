package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8501 {
		t.Errorf("Server.Port = %d, want 8501", cfg.Server.Port)
	}
	if cfg.Sync.Interval != "6h" {
		t.Errorf("Sync.Interval = %q, want %q", cfg.Sync.Interval, "6h")
	}
	if cfg.Sync.LockTTL != 2*time.Hour {
		t.Errorf("Sync.LockTTL = %v, want 2h", cfg.Sync.LockTTL)
	}
	if cfg.Trakt.BaseURL != "https://api.trakt.tv" {
		t.Errorf("Trakt.BaseURL = %q", cfg.Trakt.BaseURL)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9000
emby:
  server: http://emby.local:8096
  movies_library_id: "12"
sync:
  interval: 1d
  time: "03:30"
  lock_ttl: 45m
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, filepath.Join(dir, "none.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Emby.Server != "http://emby.local:8096" {
		t.Errorf("Emby.Server = %q", cfg.Emby.Server)
	}
	if cfg.Emby.MoviesLibraryID != "12" {
		t.Errorf("Emby.MoviesLibraryID = %q, want 12", cfg.Emby.MoviesLibraryID)
	}
	if cfg.Sync.Interval != "1d" || cfg.Sync.Time != "03:30" {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.LockTTL != 45*time.Minute {
		t.Errorf("Sync.LockTTL = %v, want 45m", cfg.Sync.LockTTL)
	}
}

func TestLoad_LegacyEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := []byte("TRAKT_CLIENT_ID=legacy-id\nEMBY_API_KEY=legacy-key\n")
	if err := os.WriteFile(envPath, content, 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("TRAKT_CLIENT_ID")
		os.Unsetenv("EMBY_API_KEY")
	})

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Trakt.ClientID != "legacy-id" {
		t.Errorf("Trakt.ClientID = %q, want %q", cfg.Trakt.ClientID, "legacy-id")
	}
	if cfg.Emby.APIKey != "legacy-key" {
		t.Errorf("Emby.APIKey = %q, want %q", cfg.Emby.APIKey, "legacy-key")
	}
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Setenv("TRAKT2EMBY_EMBY_SERVER", "http://prefixed:8096")
	t.Setenv("EMBY_SERVER", "http://legacy:8096")

	cfg, err := Load("", filepath.Join(t.TempDir(), "none.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Emby.Server != "http://prefixed:8096" {
		t.Errorf("Emby.Server = %q, want prefixed value", cfg.Emby.Server)
	}
}

func TestSettingDefaults(t *testing.T) {
	cfg := Default()
	cfg.Emby.Server = "http://emby:8096"
	cfg.Sync.Date = 15

	defaults := cfg.SettingDefaults()

	if defaults["emby_server"] != "http://emby:8096" {
		t.Errorf("emby_server = %q", defaults["emby_server"])
	}
	if defaults["sync_date"] != "15" {
		t.Errorf("sync_date = %q, want 15", defaults["sync_date"])
	}
	if defaults["sync_interval"] != "6h" {
		t.Errorf("sync_interval = %q, want 6h", defaults["sync_interval"])
	}
}

func TestServerConfig_Address(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8501}
	if got := s.Address(); got != "127.0.0.1:8501" {
		t.Errorf("Address() = %q", got)
	}
}
