// Package scheduler runs the periodic maintenance tasks: the reconciler
// sweep, the database keepalive, the review-queue backfill and stale
// broker-task recovery.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/internal/config"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Jobs      *bulkjobs.Service
	Review    *reviewqueue.Service
	Broker    *tasks.Service
	DB        *bun.DB
	Log       *slog.Logger
	Cfg       *config.Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	sched := p.Cfg.Scheduler
	if !sched.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	reconcile := NewReconcileTask(p.Jobs, p.Log)
	if err := p.Scheduler.AddIntervalTask("reconcile",
		time.Duration(sched.ReconcileIntervalSec)*time.Second, reconcile.Run); err != nil {
		p.Log.Error("failed to register reconcile task",
			slog.String("error", err.Error()))
	}

	keepalive := NewKeepaliveTask(p.DB, p.Log)
	if err := p.Scheduler.AddIntervalTask("db_keepalive",
		time.Duration(sched.KeepaliveIntervalMin)*time.Minute, keepalive.Run); err != nil {
		p.Log.Error("failed to register keepalive task",
			slog.String("error", err.Error()))
	}

	backfill := NewReviewBackfillTask(p.Review, p.Log)
	if err := p.Scheduler.AddIntervalTask("review_backfill",
		time.Duration(sched.BackfillIntervalMin)*time.Minute, backfill.Run); err != nil {
		p.Log.Error("failed to register review backfill task",
			slog.String("error", err.Error()))
	}

	staleRecovery := NewStaleTaskRecoveryTask(p.Broker, sched.StallThresholdMin, p.Log)
	if err := p.Scheduler.AddIntervalTask("stale_task_recovery",
		time.Duration(sched.StaleRecoveryIntervalMin)*time.Minute, staleRecovery.Run); err != nil {
		p.Log.Error("failed to register stale task recovery task",
			slog.String("error", err.Error()))
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
