package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// startSync runs a sync in the background.
// POST /api/v1/sync
func (s *Server) startSync(c echo.Context) error {
	if s.deps.Sync == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sync is not available")
	}

	_, err := s.deps.Sync.Start(s.ctx, state.TriggerManual)
	if errors.Is(err, state.ErrSyncInProgress) {
		lease, _ := s.deps.Store.CurrentLease(c.Request().Context())
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"message": "a sync is already in progress",
			"lease":   lease,
		})
	}
	if err != nil {
		return internalError(err)
	}

	s.logger.Info().Str("remote", c.RealIP()).Msg("Manual sync started")
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Sync started"})
}

// listRuns returns recent sync runs, newest first.
// GET /api/v1/runs?limit=20
func (s *Server) listRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.deps.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return internalError(err)
	}
	if runs == nil {
		runs = []state.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// listMissing returns unmatched list items, optionally for one mapping.
// GET /api/v1/missing?mappingId=1
func (s *Server) listMissing(c echo.Context) error {
	var mappingID int64
	if raw := c.QueryParam("mappingId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid mappingId")
		}
		mappingID = id
	}
	items, err := s.deps.Store.ListMissing(c.Request().Context(), mappingID)
	if err != nil {
		return internalError(err)
	}
	if items == nil {
		items = []state.MissingItem{}
	}
	return c.JSON(http.StatusOK, items)
}

// listIgnored returns the ignored set.
// GET /api/v1/ignored
func (s *Server) listIgnored(c echo.Context) error {
	items, err := s.deps.Store.ListIgnored(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	if items == nil {
		items = []state.IgnoredItem{}
	}
	return c.JSON(http.StatusOK, items)
}

type addIgnoredRequest struct {
	Key       string `json:"key"`
	MediaKind string `json:"mediaKind"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Reason    string `json:"reason"`
}

// addIgnored adds an item to the ignored set. Title and year are filled in
// from the missing list when the key is found there.
// POST /api/v1/ignored
func (s *Server) addIgnored(c echo.Context) error {
	var req addIgnoredRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	ctx := c.Request().Context()
	item := state.IgnoredItem{
		Key:       req.Key,
		MediaKind: state.MediaKind(req.MediaKind),
		Title:     req.Title,
		Year:      req.Year,
		Reason:    req.Reason,
	}
	if item.Title == "" {
		if missing, err := s.deps.Store.FindMissing(ctx, req.Key); err == nil {
			item.Title = missing.Title
			item.Year = missing.Year
			item.MediaKind = missing.MediaKind
		}
	}

	saved, err := s.deps.Store.AddIgnored(ctx, item)
	if err != nil {
		return internalError(err)
	}
	s.logger.Info().Str("key", saved.Key).Str("title", saved.Title).Msg("Item ignored")
	return c.JSON(http.StatusCreated, saved)
}

// removeIgnored puts an item back into consideration for the next sync.
// DELETE /api/v1/ignored/:key
func (s *Server) removeIgnored(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil || key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key")
	}
	if err := s.deps.Store.RemoveIgnored(c.Request().Context(), key); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item is not ignored")
		}
		return internalError(err)
	}
	s.logger.Info().Str("key", key).Msg("Item no longer ignored")
	return c.NoContent(http.StatusNoContent)
}

// runCheck verifies configuration and connectivity.
// GET /api/v1/check
func (s *Server) runCheck(c echo.Context) error {
	if s.deps.Checker == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "check is not available")
	}
	report, err := s.deps.Checker.Check(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, report)
}
