package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// secretMask stands in for stored credentials in responses. Sending it back
// unchanged in an update keeps the stored value.
const secretMask = "********"

type settingsResponse struct {
	Settings map[string]string `json:"settings"`
	Missing  []string          `json:"missing"`
}

// getSettings returns resolved settings with credentials masked.
// GET /api/v1/settings
func (s *Server) getSettings(c echo.Context) error {
	ctx := c.Request().Context()
	all, err := s.deps.Store.All(ctx)
	if err != nil {
		return internalError(err)
	}
	for key, value := range all {
		if state.IsSecretKey(key) && value != "" {
			all[key] = secretMask
		}
	}

	settings, err := s.deps.Store.LoadSettings(ctx)
	if err != nil {
		return internalError(err)
	}
	missing := settings.Missing()
	if missing == nil {
		missing = []string{}
	}
	return c.JSON(http.StatusOK, settingsResponse{Settings: all, Missing: missing})
}

// updateSettings stores the provided keys. The resulting schedule is
// validated before anything is written, and trakt_lists is imported into the
// mappings table when no mappings exist yet.
// PUT /api/v1/settings
func (s *Server) updateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	var body map[string]string
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	for key, value := range body {
		if !state.IsKnownKey(key) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown setting %q", key))
		}
		if state.IsSecretKey(key) && value == secretMask {
			delete(body, key)
		}
	}

	current, err := s.deps.Store.All(ctx)
	if err != nil {
		return internalError(err)
	}
	merged := make(map[string]string, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range body {
		if v != "" {
			merged[k] = v
		}
	}
	if err := validateSchedule(merged); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if raw, ok := body[state.KeyTraktLists]; ok && raw != "" {
		if _, err := state.ParseMappingSpecs(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	if err := s.deps.Store.SetMany(ctx, body); err != nil {
		if errors.Is(err, state.ErrUnknownSetting) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return internalError(err)
	}

	if raw := body[state.KeyTraktLists]; raw != "" {
		n, err := s.deps.Store.ImportMappings(ctx, raw)
		if err != nil {
			return internalError(err)
		}
		if n > 0 {
			s.logger.Info().Int("mappings", n).Msg("Imported list mappings from settings")
		}
	}

	s.logger.Info().Int("keys", len(body)).Msg("Settings updated")
	return s.getSettings(c)
}

func validateSchedule(values map[string]string) error {
	date := 1
	if raw := values[state.KeySyncDate]; raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 || d > 28 {
			return fmt.Errorf("sync_date must be a day between 1 and 28")
		}
		date = d
	}
	sched := scheduler.Schedule{
		Interval: values[state.KeySyncInterval],
		Time:     values[state.KeySyncTime],
		Day:      values[state.KeySyncDay],
		Date:     date,
	}
	_, err := sched.Next(time.Now())
	return err
}
