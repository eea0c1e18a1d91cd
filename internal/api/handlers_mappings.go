package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// listMappings returns all list mappings.
// GET /api/v1/mappings
func (s *Server) listMappings(c echo.Context) error {
	mappings, err := s.deps.Store.ListMappings(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	if mappings == nil {
		mappings = []state.Mapping{}
	}
	return c.JSON(http.StatusOK, mappings)
}

type createMappingRequest struct {
	TraktList      string `json:"traktList"`
	TraktUser      string `json:"traktUser"`
	CollectionName string `json:"collectionName"`
	MediaKind      string `json:"mediaKind"`
}

// createMapping adds a list mapping.
// POST /api/v1/mappings
func (s *Server) createMapping(c echo.Context) error {
	var req createMappingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	m, err := s.deps.Store.CreateMapping(c.Request().Context(), state.Mapping{
		TraktList:      req.TraktList,
		TraktUser:      req.TraktUser,
		CollectionName: req.CollectionName,
		MediaKind:      state.MediaKind(req.MediaKind),
	})
	switch {
	case errors.Is(err, state.ErrInvalidMapping):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, state.ErrDuplicateMapping):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return internalError(err)
	}

	s.logger.Info().Int64("id", m.ID).Str("collection", m.CollectionName).Msg("Mapping created")
	return c.JSON(http.StatusCreated, m)
}

type updateMappingRequest struct {
	Enabled *bool `json:"enabled"`
}

// updateMapping enables or disables a mapping.
// PATCH /api/v1/mappings/:id
func (s *Server) updateMapping(c echo.Context) error {
	id, err := mappingID(c)
	if err != nil {
		return err
	}
	var req updateMappingRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}

	ctx := c.Request().Context()
	if err := s.deps.Store.SetMappingEnabled(ctx, id, *req.Enabled); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "mapping not found")
		}
		return internalError(err)
	}
	m, err := s.deps.Store.GetMapping(ctx, id)
	if err != nil {
		return internalError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// deleteMapping removes a mapping along with its missing list. With
// deleteCollection=true the Emby collection is deleted first; if that fails
// the mapping is kept.
// DELETE /api/v1/mappings/:id
func (s *Server) deleteMapping(c echo.Context) error {
	id, err := mappingID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	m, err := s.deps.Store.GetMapping(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "mapping not found")
	}
	if err != nil {
		return internalError(err)
	}

	deleted := false
	if c.QueryParam("deleteCollection") == "true" && s.deps.Emby != nil {
		settings, err := s.deps.Store.LoadSettings(ctx)
		if err != nil {
			return internalError(err)
		}
		media := s.deps.Emby(settings)
		col, err := media.FindCollection(ctx, m.CollectionName)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		if col != nil {
			if err := media.DeleteCollection(ctx, col.ID); err != nil {
				return echo.NewHTTPError(http.StatusBadGateway, err.Error())
			}
			deleted = true
		}
	}

	if err := s.deps.Store.DeleteMapping(ctx, id); err != nil {
		return internalError(err)
	}

	s.logger.Info().
		Int64("id", id).
		Str("collection", m.CollectionName).
		Bool("collectionDeleted", deleted).
		Msg("Mapping deleted")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":                id,
		"collectionDeleted": deleted,
	})
}

func mappingID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	return id, nil
}
