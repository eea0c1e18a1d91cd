package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// startDeviceAuth requests a device code the user confirms on trakt.tv.
// POST /api/v1/trakt/device
func (s *Server) startDeviceAuth(c echo.Context) error {
	auth, err := s.deviceAuthorizer(c)
	if err != nil {
		return err
	}
	code, err := auth.StartDeviceAuth(c.Request().Context())
	switch {
	case errors.Is(err, trakt.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, code)
}

type pollRequest struct {
	DeviceCode string `json:"deviceCode"`
}

type pollResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// pollDeviceAuth checks once whether the user approved the device code. The
// UI polls at the interval returned by startDeviceAuth.
// POST /api/v1/trakt/device/poll
func (s *Server) pollDeviceAuth(c echo.Context) error {
	var req pollRequest
	if err := c.Bind(&req); err != nil || req.DeviceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "deviceCode is required")
	}
	auth, err := s.deviceAuthorizer(c)
	if err != nil {
		return err
	}

	_, err = auth.PollDeviceToken(c.Request().Context(), req.DeviceCode)
	if err == nil {
		s.logger.Info().Msg("Trakt authorized via device code")
		return c.JSON(http.StatusOK, pollResponse{Status: "authorized"})
	}

	status := map[error]string{
		trakt.ErrDevicePending:  "pending",
		trakt.ErrDeviceSlowDown: "slow_down",
		trakt.ErrDeviceExpired:  "expired",
		trakt.ErrDeviceDenied:   "denied",
		trakt.ErrDeviceInvalid:  "invalid",
		trakt.ErrDeviceUsed:     "used",
	}
	for sentinel, name := range status {
		if errors.Is(err, sentinel) {
			return c.JSON(http.StatusOK, pollResponse{Status: name, Message: err.Error()})
		}
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func (s *Server) deviceAuthorizer(c echo.Context) (DeviceAuthorizer, error) {
	if s.deps.Trakt == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "trakt is not available")
	}
	settings, err := s.deps.Store.LoadSettings(c.Request().Context())
	if err != nil {
		return nil, internalError(err)
	}
	return s.deps.Trakt(settings), nil
}
