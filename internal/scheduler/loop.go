package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// Runner performs one reconciliation run.
type Runner interface {
	Run(ctx context.Context, trigger state.Trigger) (*state.Run, error)
}

// SettingsSource supplies the schedule at the start of every tick.
type SettingsSource interface {
	LoadSettings(ctx context.Context) (*state.Settings, error)
	SetNextSync(ctx context.Context, at time.Time) error
}

// Loop fires the reconciler on the configured schedule until its context is
// cancelled. The schedule is read from the settings source on every tick, so
// edits made through the web process apply from the next cycle.
type Loop struct {
	runner     Runner
	settings   SettingsSource
	runOnStart bool
	logger     zerolog.Logger
	now        func() time.Time
	onTick     func(next time.Time)
}

// NewLoop creates a sync loop.
func NewLoop(runner Runner, settings SettingsSource, runOnStart bool, logger zerolog.Logger) *Loop {
	return &Loop{
		runner:     runner,
		settings:   settings,
		runOnStart: runOnStart,
		logger:     logger.With().Str("component", "sync-loop").Logger(),
		now:        time.Now,
	}
}

// Run blocks until ctx is done. It returns nil on cancellation; individual
// run failures are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Bool("runOnStart", l.runOnStart).Msg("Sync loop started")

	fire := l.runOnStart
	for {
		sched := l.reload(ctx)

		if fire {
			l.runOnce(ctx)
		}
		fire = true

		if ctx.Err() != nil {
			l.logger.Info().Msg("Sync loop stopped")
			return nil
		}

		next := l.nextFire(sched)
		if err := l.settings.SetNextSync(ctx, next); err != nil && ctx.Err() == nil {
			l.logger.Warn().Err(err).Msg("Failed to record next sync time")
		}
		if l.onTick != nil {
			l.onTick(next)
		}

		wait := next.Sub(l.now())
		if wait < 0 {
			wait = 0
		}
		l.logger.Info().
			Str("interval", sched.Interval).
			Time("next", next).
			Dur("in", wait).
			Msg("Next sync scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info().Msg("Sync loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// reload reads the current schedule. On failure the default interval is used.
func (l *Loop) reload(ctx context.Context) Schedule {
	cfg, err := l.settings.LoadSettings(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error().Err(err).Msg("Failed to load schedule settings")
		}
		return Schedule{Interval: DefaultInterval}
	}
	return FromSettings(cfg)
}

func (l *Loop) nextFire(sched Schedule) time.Time {
	now := l.now()
	next, err := sched.Next(now)
	if err != nil {
		l.logger.Warn().Err(err).Str("fallback", DefaultInterval).Msg("Invalid schedule")
		next, _ = Schedule{Interval: DefaultInterval}.Next(now)
	}
	return next
}

func (l *Loop) runOnce(ctx context.Context) {
	run, err := l.runner.Run(ctx, state.TriggerScheduled)
	switch {
	case errors.Is(err, state.ErrSyncInProgress):
		l.logger.Info().Msg("Skipping scheduled sync, another sync is in progress")
	case errors.Is(err, reconcile.ErrMissingConfig):
		l.logger.Warn().Err(err).Msg("Skipping scheduled sync, configuration incomplete")
	case err != nil && ctx.Err() != nil:
		l.logger.Info().Msg("Scheduled sync interrupted by shutdown")
	case err != nil:
		l.logger.Error().Err(err).Msg("Scheduled sync failed")
	case run != nil:
		l.logger.Info().
			Str("runId", run.ID).
			Str("status", string(run.Status)).
			Msg("Scheduled sync finished")
	}
}
