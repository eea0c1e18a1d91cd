package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler/tasks"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/startup"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

const schedulerLockName = "scheduler.lock"

// runScheduler runs the background sync loop until ctx is cancelled. Only
// one scheduler may run per data directory.
func (a *app) runScheduler(ctx context.Context) error {
	lock, err := a.lockScheduler()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	settings, err := a.requireSettings(ctx)
	if err != nil {
		return err
	}

	embyClient := reconcile.NewEmbyClient(settings, a.cfg.Emby, a.log.WithComponent("emby"))
	if err := waitForEmby(ctx, embyClient, startup.DefaultRetryConfig(), a.log.Logger); err != nil {
		return err
	}

	return a.runBackground(ctx, a.reconciler())
}

type pinger interface {
	Ping(ctx context.Context) (*emby.SystemInfo, error)
}

// waitForEmby waits for Emby at startup. An unreachable server is logged and
// left to the sync loop, which skips cycles until it answers; only
// cancellation is returned.
func waitForEmby(ctx context.Context, server pinger, cfg startup.RetryConfig, logger zerolog.Logger) error {
	err := startup.WithRetry(ctx, "emby", cfg, func(ctx context.Context) error {
		_, err := server.Ping(ctx)
		return err
	}, logger)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Warn().Err(err).Msg("Emby is not reachable, starting scheduler anyway")
	return nil
}

func (a *app) lockScheduler() (*flock.Flock, error) {
	path := filepath.Join(a.cfg.Database.DataDir(), schedulerLockName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another scheduler is already running (lock %s)", path)
	}
	return lock, nil
}

// runBackground runs the sync loop and the housekeeping tasks until ctx is
// done.
func (a *app) runBackground(ctx context.Context, svc *reconcile.Service) error {
	sched, err := a.housekeeping()
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	loop := scheduler.NewLoop(svc, a.store, a.cfg.Sync.RunOnStart, a.log.Logger)
	err = loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("Scheduler stopped")
	return nil
}

// housekeeping builds the cron scheduler for history cleanup and token
// refresh.
func (a *app) housekeeping() (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(a.log.Logger, time.Local)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := tasks.RegisterHistoryCleanupTask(sched, a.store, a.cfg.Sync.HistoryRetentionDays, a.log.Logger); err != nil {
		return nil, fmt.Errorf("failed to register history cleanup: %w", err)
	}
	if err := tasks.RegisterTokenRefreshTask(sched, a.tokenRefresher(), a.log.Logger); err != nil {
		return nil, fmt.Errorf("failed to register token refresh: %w", err)
	}
	return sched, nil
}

func (a *app) tokenRefresher() func(ctx context.Context) (tasks.TokenRefresher, error) {
	var (
		mu     sync.Mutex
		client *trakt.Client
		key    string
	)
	return func(ctx context.Context) (tasks.TokenRefresher, error) {
		settings, err := a.store.LoadSettings(ctx)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		// Reuse the client, and its token state, until credentials change.
		if k := settings.TraktClientID + "\x00" + settings.TraktClientSecret; client == nil || k != key {
			client = reconcile.NewTraktClient(settings, a.cfg.Trakt, a.store, a.log.WithComponent("trakt"))
			key = k
		}
		if !client.IsConfigured() {
			return nil, trakt.ErrNotConfigured
		}
		return client.Auth(), nil
	}
}
