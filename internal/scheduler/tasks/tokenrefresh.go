package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

const (
	TokenRefreshTaskID = "trakt-token-refresh"

	// tokenRefreshWindow is how close to expiry a token must be before it is
	// refreshed ahead of time.
	tokenRefreshWindow = 24 * time.Hour
)

// TokenRefresher refreshes a Trakt token that expires within window.
type TokenRefresher interface {
	RefreshIfExpiring(ctx context.Context, window time.Duration) (bool, error)
}

// RegisterTokenRefreshTask registers the hourly proactive Trakt token
// refresh. newAuth is called on every execution so credential edits are
// picked up without a restart.
func RegisterTokenRefreshTask(sched *scheduler.Scheduler, newAuth func(ctx context.Context) (TokenRefresher, error), logger zerolog.Logger) error {
	log := logger.With().Str("task", TokenRefreshTaskID).Logger()

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          TokenRefreshTaskID,
		Name:        "Trakt Token Refresh",
		Description: "Refreshes the Trakt access token when it expires within 24 hours",
		Cron:        "15 * * * *",
		RunOnStart:  true,
		Timeout:     2 * time.Minute,
		Func: func(ctx context.Context) error {
			auth, err := newAuth(ctx)
			if errors.Is(err, trakt.ErrNotConfigured) {
				log.Debug().Msg("Trakt not configured, skipping token refresh")
				return nil
			}
			if err != nil {
				return err
			}

			refreshed, err := auth.RefreshIfExpiring(ctx, tokenRefreshWindow)
			if err != nil {
				return err
			}
			if refreshed {
				log.Info().Msg("Refreshed Trakt token ahead of expiry")
			}
			return nil
		},
	})
}
