// Package trakt reads lists from the Trakt v2 API and manages the OAuth
// token used to do so.
package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.trakt.tv"
	apiVersion     = "2"
)

// Config holds the client settings.
type Config struct {
	ClientID          string
	ClientSecret      string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PageSize          int
}

// Client handles Trakt API interactions.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	pageSize   int
	limiter    *rate.Limiter
	auth       *Authenticator
	logger     zerolog.Logger
}

// NewClient creates a Trakt client. store may be nil for calls that do not
// need a user token.
func NewClient(cfg Config, store TokenStore, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	log := logger.With().Str("component", "trakt").Logger()
	httpClient := &http.Client{Timeout: cfg.Timeout}

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		clientID:   cfg.ClientID,
		secret:     cfg.ClientSecret,
		pageSize:   cfg.PageSize,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		auth:       NewAuthenticator(cfg.ClientID, cfg.ClientSecret, cfg.BaseURL, store, httpClient, log),
		logger:     log,
	}
}

// Auth returns the token state machine.
func (c *Client) Auth() *Authenticator {
	return c.auth
}

// IsConfigured returns true if the client ID is set.
func (c *Client) IsConfigured() bool {
	return c.clientID != ""
}

// FetchList returns every entry of kind in the list, following pagination.
func (c *Client) FetchList(ctx context.Context, ref ListRef, kind MediaKind) ([]Item, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	path := ref.path(kind)
	var items []Item

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("limit", strconv.Itoa(c.pageSize))

		var entries []ListItem
		resp, err := c.doAuthed(ctx, http.MethodGet, path, params, nil, &entries)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", ref, page, err)
		}

		for _, e := range entries {
			if it, ok := e.toItem(kind); ok {
				items = append(items, it)
			}
		}

		pageCount, _ := strconv.Atoi(resp.Header.Get("X-Pagination-Page-Count"))
		if pageCount > 0 {
			if page >= pageCount {
				break
			}
			continue
		}
		if len(entries) < c.pageSize {
			break
		}
	}

	c.logger.Debug().
		Str("list", ref.String()).
		Str("kind", string(kind)).
		Int("items", len(items)).
		Msg("Fetched Trakt list")

	return items, nil
}

// GetProfile returns the authorized user's profile.
func (c *Client) GetProfile(ctx context.Context) (*UserProfile, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	var profile UserProfile
	if _, err := c.doAuthed(ctx, http.MethodGet, "/users/me", nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// doAuthed performs a request with the bearer token. A 401 triggers one
// refresh and one retry.
func (c *Client) doAuthed(ctx context.Context, method, path string, params url.Values, body, result interface{}) (*http.Response, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, method, path, params, body, token, result)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	c.logger.Debug().Str("path", path).Msg("Access token rejected, refreshing")
	token, err = c.auth.Invalidate(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, path, params, body, token, result)
}

// do performs one request. On a non-2xx status the response is returned
// together with the mapped error so callers can inspect the status.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, token string, result interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Str("path", path).Msg("Trakt request failed")
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, statusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.clientID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
