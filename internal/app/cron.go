package app

import (
	"context"
	"time"

	"github.com/mx-space/distill/internal/modules/processing/prompt"
	pkgcron "github.com/mx-space/distill/internal/pkg/cron"
	"go.uber.org/zap"
)

// registerCronJobs registers the scheduled maintenance jobs.
func registerCronJobs(sched *pkgcron.Scheduler, a *App) {
	cronLogger := a.logger.Named("CronService")

	if after := a.cfg.Cache.PurgeAfter; after > 0 {
		sched.Register(pkgcron.Job{
			Name:        "purge_stale_cache",
			Description: "Delete cache entries written by an older prompt or another model",
			Interval:    a.cfg.Cache.PurgeInterval,
			Fn: func(ctx context.Context) error {
				engine, err := a.engines(ctx)
				if err != nil {
					return err
				}
				n, err := a.store.PurgeStale(ctx, time.Now().Add(-after), prompt.Version, engine.ModelID())
				if err != nil {
					return err
				}
				cronLogger.Info("stale cache purged", zap.Int64("deleted", n))
				return nil
			},
		})
	}

	sched.Register(pkgcron.Job{
		Name:        "cleanup_tasks",
		Description: "Delete finished extraction tasks past retention",
		Interval:    a.cfg.Tasks.CleanupInterval,
		Fn: func(ctx context.Context) error {
			n, err := a.tasks.Cleanup(ctx, a.cfg.Tasks.Retention)
			if err != nil {
				return err
			}
			if n > 0 {
				cronLogger.Info("finished tasks removed", zap.Int("deleted", n))
			}
			return nil
		},
	})
}
