// Package retention prunes the trace archive and runs scheduled
// maintenance.
//
// The Pruner deletes terminal traces older than RetentionDays and keeps at
// most MaxRecords of them, optionally exporting what it deletes to JSON
// first. Parked traces are never pruned.
//
// The Scheduler runs jobs on cron schedules (github.com/robfig/cron/v3). The
// server uses it for the pruner and for abandoning questionnaires nobody
// answered:
//
//	sched := retention.NewScheduler(logger)
//	sched.AddPruner(ctx, retention.NewPruner(store, cfg, logger))
//	sched.Add(ctx, "sweep-pending", "@every 1m", func(ctx context.Context) error {
//	    _, err := orchestrator.SweepExpired(ctx)
//	    return err
//	})
//	sched.Start(ctx)
package retention
