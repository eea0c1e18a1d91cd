package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
)

const HistoryCleanupTaskID = "run-history-cleanup"

// RunPruner deletes finished sync runs that started before a cutoff.
type RunPruner interface {
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RegisterHistoryCleanupTask registers the daily run-history cleanup. Runs
// older than retentionDays are deleted at 2 AM. A non-positive retention
// disables the task.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, runs RunPruner, retentionDays int, logger zerolog.Logger) error {
	if retentionDays <= 0 {
		return nil
	}
	log := logger.With().Str("task", HistoryCleanupTaskID).Logger()
	retention := time.Duration(retentionDays) * 24 * time.Hour

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "Run History Cleanup",
		Description: "Deletes sync run history older than the configured retention period",
		Cron:        "0 2 * * *",
		Timeout:     5 * time.Minute,
		Func: func(ctx context.Context) error {
			n, err := runs.DeleteRunsBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Int("retentionDays", retentionDays).Msg("Pruned run history")
			}
			return nil
		},
	})
}
