package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MediaKind is the kind of item a mapping syncs.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaShow  MediaKind = "show"
)

// ParseMediaKind accepts the singular and plural forms used by Trakt and
// by existing TRAKT_LISTS values.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return MediaMovie, true
	case "show", "shows", "tv", "series":
		return MediaShow, true
	}
	return "", false
}

// Mapping pairs a Trakt list with an Emby collection.
type Mapping struct {
	ID             int64     `json:"id"`
	TraktList      string    `json:"traktList"`
	TraktUser      string    `json:"traktUser,omitempty"`
	CollectionName string    `json:"collectionName"`
	MediaKind      MediaKind `json:"mediaKind"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Validate normalizes and checks a mapping before it is stored.
func (m *Mapping) Validate() error {
	m.TraktList = strings.TrimSpace(m.TraktList)
	m.TraktUser = strings.TrimSpace(m.TraktUser)
	m.CollectionName = strings.TrimSpace(m.CollectionName)

	if m.TraktList == "" {
		return fmt.Errorf("%w: trakt list is required", ErrInvalidMapping)
	}
	if m.CollectionName == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidMapping)
	}
	kind, ok := ParseMediaKind(string(m.MediaKind))
	if !ok {
		return fmt.Errorf("%w: media kind must be movie or show", ErrInvalidMapping)
	}
	m.MediaKind = kind
	return nil
}

const mappingColumns = `id, trakt_list, trakt_user, collection_name, media_kind, enabled, created_at`

func scanMapping(row interface{ Scan(...any) error }) (*Mapping, error) {
	var (
		m       Mapping
		kind    string
		enabled int
		created int64
	)
	if err := row.Scan(&m.ID, &m.TraktList, &m.TraktUser, &m.CollectionName, &kind, &enabled, &created); err != nil {
		return nil, err
	}
	m.MediaKind = MediaKind(kind)
	m.Enabled = enabled != 0
	m.CreatedAt = time.Unix(created, 0)
	return &m, nil
}

// ListMappings returns all mappings in creation order.
func (s *Store) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mappingColumns+` FROM list_mappings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMapping returns a mapping by ID.
func (s *Store) GetMapping(ctx context.Context, id int64) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM list_mappings WHERE id = ?`, id)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping %d: %w", id, err)
	}
	return m, nil
}

// CreateMapping validates and stores a new mapping.
func (s *Store) CreateMapping(ctx context.Context, m Mapping) (*Mapping, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO list_mappings (trakt_list, trakt_user, collection_name, media_kind, enabled, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		m.TraktList, m.TraktUser, m.CollectionName, string(m.MediaKind), s.now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicateMapping
		}
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping id: %w", err)
	}
	return s.GetMapping(ctx, id)
}

// SetMappingEnabled toggles whether a mapping takes part in syncs.
func (s *Store) SetMappingEnabled(ctx context.Context, id int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE list_mappings SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update mapping %d: %w", id, err)
	}
	return requireAffected(res)
}

// DeleteMapping removes a mapping and its missing list.
func (s *Store) DeleteMapping(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM list_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping %d: %w", id, err)
	}
	return requireAffected(res)
}

// mappingSpec is one entry of the TRAKT_LISTS JSON array.
type mappingSpec struct {
	ListID         json.RawMessage `json:"list_id"`
	User           string          `json:"user"`
	CollectionName string          `json:"collection_name"`
	Type           string          `json:"type"`
	MediaKind      string          `json:"media_kind"`
}

// ParseMappingSpecs decodes a TRAKT_LISTS value. list_id may be a string
// or a number; type accepts "movies"/"shows".
func ParseMappingSpecs(raw string) ([]Mapping, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var specs []mappingSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("%w: trakt_lists is not a JSON array: %v", ErrInvalidMapping, err)
	}

	out := make([]Mapping, 0, len(specs))
	for i, spec := range specs {
		kind := spec.MediaKind
		if kind == "" {
			kind = spec.Type
		}
		m := Mapping{
			TraktList:      listIDString(spec.ListID),
			TraktUser:      spec.User,
			CollectionName: spec.CollectionName,
			MediaKind:      MediaKind(kind),
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("trakt_lists[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func listIDString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// ImportMappings seeds the mappings table from a TRAKT_LISTS value. It is a
// no-op once any mapping exists, so bootstrap values never shadow edits made
// through the API. Returns the number of mappings created.
func (s *Store) ImportMappings(ctx context.Context, raw string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM list_mappings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	specs, err := ParseMappingSpecs(raw)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, m := range specs {
		if _, err := s.CreateMapping(ctx, m); err != nil {
			if errors.Is(err, ErrDuplicateMapping) {
				continue
			}
			return created, err
		}
		created++
	}
	if created > 0 {
		s.logger.Info().Int("count", created).Msg("Imported list mappings")
	}
	return created, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
