package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// LoadToken returns the stored Trakt token, or nil when the user has not
// authorized the application yet.
func (s *Store) LoadToken(ctx context.Context) (*oauth2.Token, error) {
	var (
		access, refresh, tokenType string
		expires                    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at FROM trakt_tokens WHERE id = 1`).
		Scan(&access, &refresh, &tokenType, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if access, err = s.open(access); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if refresh, err = s.open(refresh); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		Expiry:       timeOrZero(expires),
	}, nil
}

// SaveToken replaces the stored Trakt token.
func (s *Store) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return s.ClearToken(ctx)
	}

	access, err := s.seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trakt_tokens (id, access_token, refresh_token, token_type, expires_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		access, refresh, tokenType, unixOrZero(tok.Expiry), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// ClearToken forgets the stored Trakt token.
func (s *Store) ClearToken(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trakt_tokens WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}
