// Package api serves the JSON API used by the web UI.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/api/handlers"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/api/ratelimit"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/config"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/websocket"
)

// SyncStarter starts a background sync, failing with
// state.ErrSyncInProgress while another one holds the lease.
type SyncStarter interface {
	Start(ctx context.Context, trigger state.Trigger) (<-chan struct{}, error)
}

// ConfigChecker runs the configuration and connectivity check.
type ConfigChecker interface {
	Check(ctx context.Context) (*reconcile.CheckReport, error)
}

// DeviceAuthorizer runs the Trakt device code flow.
type DeviceAuthorizer interface {
	StartDeviceAuth(ctx context.Context) (*trakt.DeviceCode, error)
	PollDeviceToken(ctx context.Context, deviceCode string) (*oauth2.Token, error)
}

// CollectionRemover deletes Emby collections for removed mappings.
type CollectionRemover interface {
	FindCollection(ctx context.Context, name string) (*emby.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
}

// Deps are the collaborators the API needs. Hub, Logs and Tasks are
// optional.
type Deps struct {
	Store   *state.Store
	Sync    SyncStarter
	Checker ConfigChecker
	Trakt   func(cfg *state.Settings) DeviceAuthorizer
	Emby    func(cfg *state.Settings) CollectionRemover
	Hub     *websocket.Hub
	Logs    LogsProvider
	Tasks   handlers.TaskRunner
}

// Server handles HTTP requests for the API.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  zerolog.Logger
	started time.Time

	// Background syncs outlive the request that started them.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "frame-ancestors 'self'",
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1", noCache)
	api.GET("/status", s.getStatus)

	settings := api.Group("/settings")
	settings.GET("", s.getSettings)
	settings.PUT("", s.updateSettings)

	mappings := api.Group("/mappings")
	mappings.GET("", s.listMappings)
	mappings.POST("", s.createMapping)
	mappings.PATCH("/:id", s.updateMapping)
	mappings.DELETE("/:id", s.deleteMapping)

	api.GET("/missing", s.listMissing)

	ignored := api.Group("/ignored")
	ignored.GET("", s.listIgnored)
	ignored.POST("", s.addIgnored)
	ignored.DELETE("/:key", s.removeIgnored)

	// Both reach out to remote services on demand.
	limited := ratelimit.NewIPLimiter(ratelimit.DefaultRequestsPerMinute, ratelimit.DefaultBurst)
	api.POST("/sync", s.startSync, limited.Middleware())
	api.GET("/check", s.runCheck, limited.Middleware())

	api.GET("/runs", s.listRuns)

	device := api.Group("/trakt/device")
	device.POST("", s.startDeviceAuth)
	device.POST("/poll", s.pollDeviceAuth)

	NewLogsHandlers(s.deps.Logs).RegisterRoutes(api.Group("/logs"))
	handlers.NewSchedulerHandler(s.deps.Tasks).RegisterRoutes(api.Group("/scheduler"))
}

func noCache(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		h.Set("Pragma", "no-cache")
		return next(c)
	}
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and cancels background syncs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.cancel()
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type tokenStatus struct {
	Authorized bool       `json:"authorized"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type statusResponse struct {
	Version     string       `json:"version"`
	StartedAt   time.Time    `json:"startedAt"`
	Configured  bool         `json:"configured"`
	MissingKeys []string     `json:"missingKeys"`
	Trakt       tokenStatus  `json:"trakt"`
	Syncing     *state.Lease `json:"syncing"`
	LastRun     *state.Run   `json:"lastRun"`
	NextSync    *time.Time   `json:"nextSync"`
	Mappings    int          `json:"mappings"`
	Missing     int          `json:"missing"`
	Ignored     int          `json:"ignored"`
}

// getStatus summarizes configuration, auth and sync state.
// GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()
	store := s.deps.Store

	settings, err := store.LoadSettings(ctx)
	if err != nil {
		return internalError(err)
	}
	resp := statusResponse{
		Version:     config.Version,
		StartedAt:   s.started,
		MissingKeys: settings.Missing(),
	}
	if resp.MissingKeys == nil {
		resp.MissingKeys = []string{}
	}
	resp.Configured = len(resp.MissingKeys) == 0

	tok, err := store.LoadToken(ctx)
	if err != nil {
		return internalError(err)
	}
	if tok != nil {
		resp.Trakt.Authorized = tok.RefreshToken != "" || tok.Valid()
		if !tok.Expiry.IsZero() {
			exp := tok.Expiry
			resp.Trakt.ExpiresAt = &exp
		}
	}

	if resp.Syncing, err = store.CurrentLease(ctx); err != nil {
		return internalError(err)
	}
	if resp.LastRun, err = store.LastRun(ctx); err != nil {
		return internalError(err)
	}
	next, err := store.NextSync(ctx)
	if err != nil {
		return internalError(err)
	}
	if !next.IsZero() {
		resp.NextSync = &next
	}

	mappings, err := store.ListMappings(ctx)
	if err != nil {
		return internalError(err)
	}
	resp.Mappings = len(mappings)
	missing, err := store.ListMissing(ctx, 0)
	if err != nil {
		return internalError(err)
	}
	resp.Missing = len(missing)
	ignored, err := store.ListIgnored(ctx)
	if err != nil {
		return internalError(err)
	}
	resp.Ignored = len(ignored)

	return c.JSON(http.StatusOK, resp)
}

func internalError(err error) error {
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
