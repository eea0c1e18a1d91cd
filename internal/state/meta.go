package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Internal keys share the settings table but are never exposed as settings.
const nextSyncKey = "_next_sync_at"

// SetNextSync records when the scheduler process will next run a sync so the
// web process can report it.
func (s *Store) SetNextSync(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		nextSyncKey, strconv.FormatInt(unixOrZero(at), 10), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save next sync time: %w", err)
	}
	return nil
}

// NextSync returns the recorded next sync time, or the zero time when the
// scheduler has not reported one.
func (s *Store) NextSync(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, nextSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read next sync time: %w", err)
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return timeOrZero(sec), nil
}
