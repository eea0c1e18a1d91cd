package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Persisted settings keys.
const (
	KeyTraktClientID       = "trakt_client_id"
	KeyTraktClientSecret   = "trakt_client_secret"
	KeyEmbyAPIKey          = "emby_api_key"
	KeyEmbyServer          = "emby_server"
	KeyEmbyAdminUserID     = "emby_admin_user_id"
	KeyEmbyMoviesLibraryID = "emby_movies_library_id"
	KeyEmbyTVLibraryID     = "emby_tv_library_id"
	KeySyncInterval        = "sync_interval"
	KeySyncTime            = "sync_time"
	KeySyncDay             = "sync_day"
	KeySyncDate            = "sync_date"
	KeyTraktLists          = "trakt_lists"
)

var knownKeys = map[string]bool{
	KeyTraktClientID:       true,
	KeyTraktClientSecret:   true,
	KeyEmbyAPIKey:          true,
	KeyEmbyServer:          true,
	KeyEmbyAdminUserID:     true,
	KeyEmbyMoviesLibraryID: true,
	KeyEmbyTVLibraryID:     true,
	KeySyncInterval:        true,
	KeySyncTime:            true,
	KeySyncDay:             true,
	KeySyncDate:            true,
	KeyTraktLists:          true,
}

var secretKeys = map[string]bool{
	KeyTraktClientSecret: true,
	KeyEmbyAPIKey:        true,
}

// RequiredKeys must resolve to a non-empty value before a sync can run.
var RequiredKeys = []string{
	KeyTraktClientID,
	KeyTraktClientSecret,
	KeyEmbyAPIKey,
	KeyEmbyServer,
	KeyEmbyAdminUserID,
	KeyEmbyMoviesLibraryID,
	KeyEmbyTVLibraryID,
}

// IsKnownKey reports whether key is a persisted setting.
func IsKnownKey(key string) bool {
	return knownKeys[key]
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// KnownKeys returns all persisted settings keys in sorted order.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get resolves a setting: the stored value if present and non-empty,
// otherwise the bootstrap default.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if !IsKnownKey(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if value == "" {
		return s.defaults[key], nil
	}

	if IsSecretKey(key) {
		plain, err := s.open(value)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt setting %s: %w", key, err)
		}
		return plain, nil
	}
	return value, nil
}

// Set stores a setting. Credentials are encrypted when encryption is enabled.
// Storing an empty value reverts the key to its bootstrap default.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to clear setting %s: %w", key, err)
		}
		return nil
	}

	if IsSecretKey(key) {
		sealed, err := s.seal(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt setting %s: %w", key, err)
		}
		value = sealed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// SetMany stores several settings, validating every key first.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	for key := range values {
		if !IsKnownKey(key) {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
		}
	}
	for key, value := range values {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// All returns every known setting resolved against the defaults.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(knownKeys))
	for _, key := range KnownKeys() {
		v, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Settings is the resolved configuration read at the start of each cycle.
type Settings struct {
	TraktClientID       string
	TraktClientSecret   string
	EmbyAPIKey          string
	EmbyServer          string
	EmbyAdminUserID     string
	EmbyMoviesLibraryID string
	EmbyTVLibraryID     string
	SyncInterval        string
	SyncTime            string
	SyncDay             string
	SyncDate            int
}

// LoadSettings resolves all settings into a Settings value.
func (s *Store) LoadSettings(ctx context.Context) (*Settings, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	date, err := strconv.Atoi(all[KeySyncDate])
	if err != nil || date < 1 {
		date = 1
	}

	return &Settings{
		TraktClientID:       all[KeyTraktClientID],
		TraktClientSecret:   all[KeyTraktClientSecret],
		EmbyAPIKey:          all[KeyEmbyAPIKey],
		EmbyServer:          all[KeyEmbyServer],
		EmbyAdminUserID:     all[KeyEmbyAdminUserID],
		EmbyMoviesLibraryID: all[KeyEmbyMoviesLibraryID],
		EmbyTVLibraryID:     all[KeyEmbyTVLibraryID],
		SyncInterval:        all[KeySyncInterval],
		SyncTime:            all[KeySyncTime],
		SyncDay:             all[KeySyncDay],
		SyncDate:            date,
	}, nil
}

// Missing returns the required keys that have no value.
func (cfg *Settings) Missing() []string {
	values := map[string]string{
		KeyTraktClientID:       cfg.TraktClientID,
		KeyTraktClientSecret:   cfg.TraktClientSecret,
		KeyEmbyAPIKey:          cfg.EmbyAPIKey,
		KeyEmbyServer:          cfg.EmbyServer,
		KeyEmbyAdminUserID:     cfg.EmbyAdminUserID,
		KeyEmbyMoviesLibraryID: cfg.EmbyMoviesLibraryID,
		KeyEmbyTVLibraryID:     cfg.EmbyTVLibraryID,
	}
	var missing []string
	for _, key := range RequiredKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// LibraryFor returns the Emby library that holds items of kind.
func (cfg *Settings) LibraryFor(kind MediaKind) string {
	if kind == MediaShow {
		return cfg.EmbyTVLibraryID
	}
	return cfg.EmbyMoviesLibraryID
}
