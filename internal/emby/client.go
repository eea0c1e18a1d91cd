// Package emby talks to an Emby server: library listing and BoxSet
// collection management.
package emby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotConfigured = errors.New("emby server is not configured")
	ErrAuth          = errors.New("emby rejected the API key")
	ErrNetwork       = errors.New("emby server unreachable")
	ErrNotFound      = errors.New("emby item not found")
	ErrAPIError      = errors.New("emby API error")
)

// idBatchSize bounds the Ids query parameter so URLs stay short.
const idBatchSize = 50

// Config holds the client settings.
type Config struct {
	Server   string
	APIKey   string
	UserID   string
	Timeout  time.Duration
	PageSize int
}

// Client is an Emby API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userID     string
	pageSize   int
	logger     zerolog.Logger
}

// NewClient creates an Emby client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.Server, "/"),
		apiKey:     cfg.APIKey,
		userID:     cfg.UserID,
		pageSize:   cfg.PageSize,
		logger:     logger.With().Str("component", "emby").Logger(),
	}
}

// IsConfigured returns true when server, API key and admin user are set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != "" && c.userID != ""
}

// Ping verifies connectivity and the API key.
func (c *Client) Ping(ctx context.Context) (*SystemInfo, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	var info SystemInfo
	if err := c.doRequest(ctx, http.MethodGet, "/System/Info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListLibraryItems returns every item of itemType under libraryID.
func (c *Client) ListLibraryItems(ctx context.Context, libraryID string, itemType ItemType) ([]Item, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("ParentId", libraryID)
	params.Set("IncludeItemTypes", string(itemType))
	params.Set("Recursive", "true")
	params.Set("Fields", "ProviderIds,ProductionYear")
	params.Set("EnableImages", "false")

	items, err := c.pagedItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list library %s: %w", libraryID, err)
	}

	c.logger.Debug().
		Str("library", libraryID).
		Str("type", string(itemType)).
		Int("items", len(items)).
		Msg("Loaded Emby library")

	return items, nil
}

// FindCollection looks up a BoxSet by case-insensitive name and loads its
// members. It returns nil, nil when no collection has that name.
func (c *Client) FindCollection(ctx context.Context, name string) (*Collection, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("IncludeItemTypes", string(TypeBoxSet))
	params.Set("Recursive", "true")
	params.Set("EnableImages", "false")

	boxSets, err := c.pagedItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("find collection %q: %w", name, err)
	}

	for _, bs := range boxSets {
		if !strings.EqualFold(strings.TrimSpace(bs.Name), strings.TrimSpace(name)) {
			continue
		}
		members, err := c.collectionMembers(ctx, bs.ID)
		if err != nil {
			return nil, err
		}
		return &Collection{ID: bs.ID, Name: bs.Name, Members: members}, nil
	}
	return nil, nil
}

// GetOrCreateCollection returns the named collection, creating it with
// initial as members when it does not exist. created reports whether a new
// collection was made.
func (c *Client) GetOrCreateCollection(ctx context.Context, name string, initial []string) (col *Collection, created bool, err error) {
	col, err = c.FindCollection(ctx, name)
	if err != nil || col != nil {
		return col, false, err
	}

	first, rest := splitBatch(sortedIDs(initial), idBatchSize)

	params := url.Values{}
	params.Set("Name", name)
	params.Set("IsLocked", "false")
	if len(first) > 0 {
		params.Set("Ids", strings.Join(first, ","))
	}

	var resp createCollectionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/Collections", params, &resp); err != nil {
		return nil, false, fmt.Errorf("create collection %q: %w", name, err)
	}

	col = &Collection{ID: resp.ID, Name: name, Members: Set(first...)}
	if col.ID == "" {
		found, err := c.FindCollection(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if found == nil {
			return nil, false, fmt.Errorf("%w: collection %q not visible after create", ErrAPIError, name)
		}
		col = found
	}

	if len(rest) > 0 {
		if _, err := c.addMembers(ctx, col, rest); err != nil {
			return nil, false, err
		}
	}

	c.logger.Info().
		Str("collection", name).
		Str("id", col.ID).
		Int("items", len(col.Members)).
		Msg("Created Emby collection")

	return col, true, nil
}

// SetCollectionMembers converges col to desired. The diff is computed
// against col.Members; when it is empty no request is made.
func (c *Client) SetCollectionMembers(ctx context.Context, col *Collection, desired map[string]struct{}) (MembershipChange, error) {
	var change MembershipChange
	for id := range desired {
		if _, ok := col.Members[id]; !ok {
			change.Added = append(change.Added, id)
		}
	}
	for id := range col.Members {
		if _, ok := desired[id]; !ok {
			change.Removed = append(change.Removed, id)
		}
	}
	sort.Strings(change.Added)
	sort.Strings(change.Removed)

	if change.Empty() {
		return change, nil
	}

	// On failure the returned change holds the batches that were applied.
	added, err := c.addMembers(ctx, col, change.Added)
	if err != nil {
		return MembershipChange{Added: added}, err
	}

	var removed []string
	for batch, rest := splitBatch(change.Removed, idBatchSize); len(batch) > 0; batch, rest = splitBatch(rest, idBatchSize) {
		params := url.Values{}
		params.Set("Ids", strings.Join(batch, ","))
		if err := c.doRequest(ctx, http.MethodDelete, "/Collections/"+url.PathEscape(col.ID)+"/Items", params, nil); err != nil {
			return MembershipChange{Added: added, Removed: removed}, fmt.Errorf("remove from collection %q: %w", col.Name, err)
		}
		for _, id := range batch {
			delete(col.Members, id)
		}
		removed = append(removed, batch...)
	}

	c.logger.Info().
		Str("collection", col.Name).
		Int("added", len(change.Added)).
		Int("removed", len(change.Removed)).
		Msg("Updated Emby collection")

	return change, nil
}

// DeleteCollection removes a collection. The member items are untouched.
func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	if err := c.doRequest(ctx, http.MethodDelete, "/Items/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete collection %s: %w", id, err)
	}
	return nil
}

// addMembers adds ids in batches, recording each applied batch in
// col.Members. It returns the ids that were added before any failure.
func (c *Client) addMembers(ctx context.Context, col *Collection, ids []string) ([]string, error) {
	var added []string
	for batch, rest := splitBatch(ids, idBatchSize); len(batch) > 0; batch, rest = splitBatch(rest, idBatchSize) {
		params := url.Values{}
		params.Set("Ids", strings.Join(batch, ","))
		if err := c.doRequest(ctx, http.MethodPost, "/Collections/"+url.PathEscape(col.ID)+"/Items", params, nil); err != nil {
			return added, fmt.Errorf("add to collection %s: %w", col.ID, err)
		}
		for _, id := range batch {
			col.Members[id] = struct{}{}
		}
		added = append(added, batch...)
	}
	return added, nil
}

func (c *Client) collectionMembers(ctx context.Context, collectionID string) (map[string]struct{}, error) {
	params := url.Values{}
	params.Set("ParentId", collectionID)
	params.Set("EnableImages", "false")

	items, err := c.pagedItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("load collection %s members: %w", collectionID, err)
	}
	members := make(map[string]struct{}, len(items))
	for _, it := range items {
		members[it.ID] = struct{}{}
	}
	return members, nil
}

func (c *Client) pagedItems(ctx context.Context, base url.Values) ([]Item, error) {
	var all []Item
	path := "/Users/" + url.PathEscape(c.userID) + "/Items"

	for start := 0; ; {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("StartIndex", strconv.Itoa(start))
		params.Set("Limit", strconv.Itoa(c.pageSize))
		params.Set("EnableTotalRecordCount", "true")

		var page itemsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, params, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Items...)
		start += len(page.Items)
		if len(page.Items) == 0 || start >= page.TotalRecordCount {
			break
		}
	}
	return all, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error().Err(err).Str("path", path).Msg("Emby request failed")
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrNetwork, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrAPIError, resp.Status, strings.TrimSpace(string(body)))
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func splitBatch(ids []string, n int) (batch, rest []string) {
	if len(ids) <= n {
		return ids, nil
	}
	return ids[:n], ids[n:]
}
