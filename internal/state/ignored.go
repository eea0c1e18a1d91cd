package state

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// IgnoredItem is a list entry excluded from every mapping.
type IgnoredItem struct {
	Key       string    `json:"key"`
	MediaKind MediaKind `json:"mediaKind"`
	Title     string    `json:"title"`
	Year      int       `json:"year,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListIgnored returns the ignored set, newest first.
func (s *Store) ListIgnored(ctx context.Context) ([]IgnoredItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_key, media_kind, title, year, reason, created_at
		 FROM ignored_items ORDER BY created_at DESC, item_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ignored items: %w", err)
	}
	defer rows.Close()

	var out []IgnoredItem
	for rows.Next() {
		var (
			it      IgnoredItem
			kind    string
			created int64
		)
		if err := rows.Scan(&it.Key, &kind, &it.Title, &it.Year, &it.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ignored item: %w", err)
		}
		it.MediaKind = MediaKind(kind)
		it.CreatedAt = time.Unix(created, 0)
		out = append(out, it)
	}
	return out, rows.Err()
}

// IgnoredKeys returns the identity keys of the ignored set.
func (s *Store) IgnoredKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_key FROM ignored_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignored keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// AddIgnored adds an item to the ignored set and drops it from every
// missing list.
func (s *Store) AddIgnored(ctx context.Context, item IgnoredItem) (*IgnoredItem, error) {
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil, fmt.Errorf("ignored item key is required")
	}
	if item.MediaKind == "" {
		if kind, ok := ParseMediaKind(strings.SplitN(item.Key, ":", 2)[0]); ok {
			item.MediaKind = kind
		}
	}
	item.CreatedAt = time.Unix(s.now().Unix(), 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ignored_items (item_key, media_kind, title, year, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(item_key) DO UPDATE SET reason = excluded.reason`,
		item.Key, string(item.MediaKind), item.Title, item.Year, item.Reason, item.CreatedAt.Unix()); err != nil {
		return nil, fmt.Errorf("failed to ignore item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM missing_items WHERE item_key = ?`, item.Key); err != nil {
		return nil, fmt.Errorf("failed to drop ignored item from missing list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &item, nil
}

// RemoveIgnored removes an item from the ignored set. It is reconsidered on
// the next sync.
func (s *Store) RemoveIgnored(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ignored_items WHERE item_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to remove ignored item: %w", err)
	}
	return requireAffected(res)
}
