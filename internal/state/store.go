// Package state persists everything the web and scheduler processes share:
// settings, list mappings, the ignored set, missing items, the Trakt token,
// the sync lease and run history. All access goes through Store; neither
// process keeps its own copy of configuration between cycles.
package state

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/crypto"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSyncInProgress   = errors.New("a sync is already in progress")
	ErrLeaseLost        = errors.New("sync lease held by another process")
	ErrInvalidMapping   = errors.New("invalid list mapping")
	ErrDuplicateMapping = errors.New("list mapping already exists")
	ErrUnknownSetting   = errors.New("unknown setting")
)

const saltKey = "_secret_salt"

// Store is the State Store backed by SQLite.
type Store struct {
	db       *sql.DB
	secrets  *crypto.SecretStore
	defaults map[string]string
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Store. defaults supplies bootstrap values for settings that
// have not been saved.
func New(db *sql.DB, defaults map[string]string, logger zerolog.Logger) *Store {
	if defaults == nil {
		defaults = map[string]string{}
	}
	return &Store{
		db:       db,
		secrets:  crypto.NewSecretStore("", nil),
		defaults: defaults,
		logger:   logger.With().Str("component", "state").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// EnableEncryption turns on at-rest encryption of credentials using a key
// derived from passphrase. The salt is generated once and kept in the
// settings table so both processes derive the same key.
func (s *Store) EnableEncryption(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return nil
	}

	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, saltKey).Scan(&encoded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		salt, genErr := crypto.GenerateSalt()
		if genErr != nil {
			return fmt.Errorf("failed to generate salt: %w", genErr)
		}
		encoded = base64.StdEncoding.EncodeToString(salt)
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO NOTHING`, saltKey, encoded, s.now().Unix()); err != nil {
			return fmt.Errorf("failed to store salt: %w", err)
		}
		// Another process may have won the insert.
		if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, saltKey).Scan(&encoded); err != nil {
			return fmt.Errorf("failed to read salt: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read salt: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid stored salt: %w", err)
	}

	s.secrets = crypto.NewSecretStore(passphrase, salt)
	s.logger.Debug().Msg("Credential encryption enabled")
	return nil
}

func (s *Store) seal(value string) (string, error) {
	return s.secrets.Encrypt(value)
}

func (s *Store) open(value string) (string, error) {
	return s.secrets.Decrypt(value)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
