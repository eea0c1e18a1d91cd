package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Security SecurityConfig `mapstructure:"security"`
	Trakt    TraktConfig    `mapstructure:"trakt"`
	Emby     EmbyConfig     `mapstructure:"emby"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig holds the passphrase used to encrypt credentials at rest.
// When empty, credentials are stored as plain text.
type SecurityConfig struct {
	Secret string `mapstructure:"secret"`
}

// TraktConfig holds Trakt API configuration.
type TraktConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	BaseURL           string  `mapstructure:"base_url"`
	Timeout           int     `mapstructure:"timeout"` // seconds
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	PageSize          int     `mapstructure:"page_size"`
	// Lists is a JSON array of list mappings, as accepted by the TRAKT_LISTS variable.
	Lists string `mapstructure:"lists"`
}

// EmbyConfig holds Emby server configuration.
type EmbyConfig struct {
	Server          string `mapstructure:"server"`
	APIKey          string `mapstructure:"api_key"`
	AdminUserID     string `mapstructure:"admin_user_id"`
	MoviesLibraryID string `mapstructure:"movies_library_id"`
	TVLibraryID     string `mapstructure:"tv_library_id"`
	Timeout         int    `mapstructure:"timeout"` // seconds
	PageSize        int    `mapstructure:"page_size"`
}

// SyncConfig holds reconciliation schedule defaults.
type SyncConfig struct {
	Interval             string        `mapstructure:"interval"`
	Time                 string        `mapstructure:"time"`
	Day                  string        `mapstructure:"day"`
	Date                 int           `mapstructure:"date"`
	RunOnStart           bool          `mapstructure:"run_on_start"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	HistoryRetentionDays int           `mapstructure:"history_retention_days"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8501,
		},
		Database: DatabaseConfig{
			Path: "./data/trakt2emby.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Path:   "./data/logs",
		},
		Trakt: TraktConfig{
			BaseURL:           "https://api.trakt.tv",
			Timeout:           30,
			RequestsPerSecond: 3,
			Burst:             5,
			PageSize:          100,
		},
		Emby: EmbyConfig{
			Timeout:  30,
			PageSize: 500,
		},
		Sync: SyncConfig{
			Interval:             "6h",
			Time:                 "00:00",
			Day:                  "Monday",
			Date:                 1,
			RunOnStart:           true,
			LockTTL:              2 * time.Hour,
			HistoryRetentionDays: 30,
		},
	}
}

// legacyEnv maps config keys to the unprefixed variable names used by
// existing .env files.
var legacyEnv = map[string]string{
	"trakt.client_id":        "TRAKT_CLIENT_ID",
	"trakt.client_secret":    "TRAKT_CLIENT_SECRET",
	"trakt.lists":            "TRAKT_LISTS",
	"emby.server":            "EMBY_SERVER",
	"emby.api_key":           "EMBY_API_KEY",
	"emby.admin_user_id":     "EMBY_ADMIN_USER_ID",
	"emby.movies_library_id": "EMBY_MOVIES_LIBRARY_ID",
	"emby.tv_library_id":     "EMBY_TV_LIBRARY_ID",
	"sync.interval":          "SYNC_INTERVAL",
	"sync.time":              "SYNC_TIME",
	"sync.day":               "SYNC_DAY",
	"sync.date":              "SYNC_DATE",
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env file > config file > defaults
func Load(configPath, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.trakt2emby")
	}

	v.SetEnvPrefix("TRAKT2EMBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		prefixed := "TRAKT2EMBY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("security.secret", "")

	v.SetDefault("trakt.client_id", "")
	v.SetDefault("trakt.client_secret", "")
	v.SetDefault("trakt.base_url", d.Trakt.BaseURL)
	v.SetDefault("trakt.timeout", d.Trakt.Timeout)
	v.SetDefault("trakt.requests_per_second", d.Trakt.RequestsPerSecond)
	v.SetDefault("trakt.burst", d.Trakt.Burst)
	v.SetDefault("trakt.page_size", d.Trakt.PageSize)
	v.SetDefault("trakt.lists", "")

	v.SetDefault("emby.server", "")
	v.SetDefault("emby.api_key", "")
	v.SetDefault("emby.admin_user_id", "")
	v.SetDefault("emby.movies_library_id", "")
	v.SetDefault("emby.tv_library_id", "")
	v.SetDefault("emby.timeout", d.Emby.Timeout)
	v.SetDefault("emby.page_size", d.Emby.PageSize)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.time", d.Sync.Time)
	v.SetDefault("sync.day", d.Sync.Day)
	v.SetDefault("sync.date", d.Sync.Date)
	v.SetDefault("sync.run_on_start", d.Sync.RunOnStart)
	v.SetDefault("sync.lock_ttl", d.Sync.LockTTL)
	v.SetDefault("sync.history_retention_days", d.Sync.HistoryRetentionDays)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DataDir returns the directory holding the database file.
func (c *DatabaseConfig) DataDir() string {
	return filepath.Dir(c.Path)
}

// SettingDefaults returns the bootstrap values for the persisted settings
// keys. The state store falls back to these when a key has not been saved.
func (c *Config) SettingDefaults() map[string]string {
	return map[string]string{
		"trakt_client_id":        c.Trakt.ClientID,
		"trakt_client_secret":    c.Trakt.ClientSecret,
		"emby_api_key":           c.Emby.APIKey,
		"emby_server":            c.Emby.Server,
		"emby_admin_user_id":     c.Emby.AdminUserID,
		"emby_movies_library_id": c.Emby.MoviesLibraryID,
		"emby_tv_library_id":     c.Emby.TVLibraryID,
		"sync_interval":          c.Sync.Interval,
		"sync_time":              c.Sync.Time,
		"sync_day":               c.Sync.Day,
		"sync_date":              strconv.Itoa(c.Sync.Date),
		"trakt_lists":            c.Trakt.Lists,
	}
}

// FindAvailablePort returns the first free port starting at port, trying up
// to maxAttempts consecutive ports.
func FindAvailablePort(host string, port, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate := port + i
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, candidate))
		if err != nil {
			continue
		}
		ln.Close()
		return candidate, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", port, port+maxAttempts-1)
}
