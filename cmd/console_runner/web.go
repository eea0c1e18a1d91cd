package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/api"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/config"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/websocket"
)

// runWeb serves the API until ctx is cancelled. With withScheduler the sync
// loop and housekeeping tasks run in the same process.
func (a *app) runWeb(ctx context.Context, withScheduler bool) error {
	port, err := config.FindAvailablePort(a.cfg.Server.Host, a.cfg.Server.Port, 10)
	if err != nil {
		return err
	}
	if port != a.cfg.Server.Port {
		a.log.Warn().
			Int("configuredPort", a.cfg.Server.Port).
			Int("actualPort", port).
			Msg("Configured port in use, using alternative port")
		a.cfg.Server.Port = port
	}

	hub := websocket.NewHub(nil, a.log.Logger)
	go hub.Run(ctx)
	a.log.SetBroadcastHub(hub)

	svc := a.reconciler()
	svc.SetBroadcaster(hub)

	deps := api.Deps{
		Store:   a.store,
		Sync:    svc,
		Checker: a.checker(),
		Trakt: func(cfg *state.Settings) api.DeviceAuthorizer {
			return reconcile.NewTraktClient(cfg, a.cfg.Trakt, a.store, a.log.WithComponent("trakt"))
		},
		Emby: func(cfg *state.Settings) api.CollectionRemover {
			return reconcile.NewEmbyClient(cfg, a.cfg.Emby, a.log.WithComponent("emby"))
		},
		Hub:  hub,
		Logs: a.log,
	}

	errCh := make(chan error, 2)
	if withScheduler {
		lock, err := a.lockScheduler()
		if err != nil {
			return err
		}
		defer lock.Unlock()

		sched, err := a.housekeeping()
		if err != nil {
			return err
		}
		deps.Tasks = sched
		sched.Start()
		defer sched.Stop()

		loop := scheduler.NewLoop(svc, a.store, a.cfg.Sync.RunOnStart, a.log.Logger)
		go func() { errCh <- loop.Run(ctx) }()
	}

	server := api.NewServer(deps, a.log.Logger)
	go func() { errCh <- server.Start(a.cfg.Server.Address()) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			_ = server.Shutdown(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	a.log.Info().Msg("Web server stopped")
	return nil
}
