package state

import (
	"context"
	"fmt"
	"time"
)

// MissingItem is a list entry with no match in the Emby library.
type MissingItem struct {
	MappingID  int64     `json:"mappingId"`
	Position   int       `json:"position"`
	Key        string    `json:"key"`
	MediaKind  MediaKind `json:"mediaKind"`
	Title      string    `json:"title"`
	Year       int       `json:"year,omitempty"`
	TraktID    int64     `json:"traktId,omitempty"`
	IMDbID     string    `json:"imdbId,omitempty"`
	TMDbID     int64     `json:"tmdbId,omitempty"`
	TVDbID     int64     `json:"tvdbId,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ReplaceMissing swaps the missing list of a mapping for items, keeping
// their order. Items currently ignored are skipped.
func (s *Store) ReplaceMissing(ctx context.Context, mappingID int64, items []MissingItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM missing_items WHERE mapping_id = ?`, mappingID); err != nil {
		return fmt.Errorf("failed to clear missing list: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO missing_items
		 (mapping_id, position, item_key, media_kind, title, year, trakt_id, imdb_id, tmdb_id, tvdb_id, recorded_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM ignored_items WHERE item_key = ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for i, it := range items {
		if _, err := stmt.ExecContext(ctx, mappingID, i, it.Key, string(it.MediaKind), it.Title, it.Year,
			it.TraktID, it.IMDbID, it.TMDbID, it.TVDbID, now, it.Key); err != nil {
			return fmt.Errorf("failed to record missing item %s: %w", it.Key, err)
		}
	}

	return tx.Commit()
}

// ListMissing returns missing items ordered by mapping and list position.
// mappingID 0 returns every mapping's list.
func (s *Store) ListMissing(ctx context.Context, mappingID int64) ([]MissingItem, error) {
	query := `SELECT mapping_id, position, item_key, media_kind, title, year, trakt_id, imdb_id, tmdb_id, tvdb_id, recorded_at
		FROM missing_items m
		WHERE NOT EXISTS (SELECT 1 FROM ignored_items i WHERE i.item_key = m.item_key)`
	args := []any{}
	if mappingID != 0 {
		query += ` AND mapping_id = ?`
		args = append(args, mappingID)
	}
	query += ` ORDER BY mapping_id, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing items: %w", err)
	}
	defer rows.Close()

	var out []MissingItem
	for rows.Next() {
		var (
			it       MissingItem
			kind     string
			recorded int64
		)
		if err := rows.Scan(&it.MappingID, &it.Position, &it.Key, &kind, &it.Title, &it.Year,
			&it.TraktID, &it.IMDbID, &it.TMDbID, &it.TVDbID, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan missing item: %w", err)
		}
		it.MediaKind = MediaKind(kind)
		it.RecordedAt = time.Unix(recorded, 0)
		out = append(out, it)
	}
	return out, rows.Err()
}

// FindMissing returns the first missing entry with key, used to fill in
// display details when an item is ignored from the missing list.
func (s *Store) FindMissing(ctx context.Context, key string) (*MissingItem, error) {
	items, err := s.ListMissing(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Key == key {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}
