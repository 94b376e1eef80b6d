package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// ReconcileTask runs the full maintenance sweep: terminal-count job
// completion, stuck-document revert, task healing and review backfill.
type ReconcileTask struct {
	jobs *bulkjobs.Service
	log  *slog.Logger
}

// NewReconcileTask creates a new reconcile task
func NewReconcileTask(jobs *bulkjobs.Service, log *slog.Logger) *ReconcileTask {
	return &ReconcileTask{
		jobs: jobs,
		log:  log.With(logger.Scope("scheduler.reconcile")),
	}
}

// Run executes one reconciler sweep
func (t *ReconcileTask) Run(ctx context.Context) error {
	start := time.Now()
	t.log.Debug("running reconciler sweep")

	// The service logs the per-sweep report itself.
	if _, err := t.jobs.Reconcile(ctx); err != nil {
		t.log.Error("reconciler sweep failed",
			slog.String("error", err.Error()))
		return err
	}

	t.log.Debug("reconciler sweep completed",
		slog.Duration("duration", time.Since(start)))
	return nil
}

// KeepaliveTask pings the database so managed Postgres proxies do not
// reap the pool's idle connections between bursts of work.
type KeepaliveTask struct {
	db  *bun.DB
	log *slog.Logger
}

// NewKeepaliveTask creates a new DB keepalive task
func NewKeepaliveTask(db *bun.DB, log *slog.Logger) *KeepaliveTask {
	return &KeepaliveTask{
		db:  db,
		log: log.With(logger.Scope("scheduler.keepalive")),
	}
}

// Run executes the keepalive ping
func (t *KeepaliveTask) Run(ctx context.Context) error {
	start := time.Now()

	if _, err := t.db.ExecContext(ctx, "SELECT 1"); err != nil {
		t.log.Error("database keepalive failed",
			slog.String("error", err.Error()))
		return err
	}

	t.log.Debug("database keepalive",
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ReviewBackfillTask enqueues needs_review documents that are missing
// from the review queue. The reconciler already backfills on its own
// cadence; this task covers deployments running with a slow or disabled
// reconcile interval.
type ReviewBackfillTask struct {
	review *reviewqueue.Service
	log    *slog.Logger
}

// NewReviewBackfillTask creates a new review backfill task
func NewReviewBackfillTask(review *reviewqueue.Service, log *slog.Logger) *ReviewBackfillTask {
	return &ReviewBackfillTask{
		review: review,
		log:    log.With(logger.Scope("scheduler.review_backfill")),
	}
}

// Run executes the review backfill
func (t *ReviewBackfillTask) Run(ctx context.Context) error {
	start := time.Now()

	count, err := t.review.Backfill(ctx)
	if err != nil {
		t.log.Error("review backfill failed",
			slog.String("error", err.Error()))
		return err
	}

	if count > 0 {
		t.log.Info("backfilled review queue",
			slog.Int64("count", count),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no review items to backfill",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// StaleTaskRecoveryTask requeues broker tasks whose worker claimed them
// and then died. Recovery resets the claim; the attempt budget still
// bounds total tries.
type StaleTaskRecoveryTask struct {
	broker       *tasks.Service
	thresholdMin int
	log          *slog.Logger
}

// NewStaleTaskRecoveryTask creates a new stale task recovery task
func NewStaleTaskRecoveryTask(broker *tasks.Service, thresholdMin int, log *slog.Logger) *StaleTaskRecoveryTask {
	if thresholdMin <= 0 {
		thresholdMin = 30
	}
	return &StaleTaskRecoveryTask{
		broker:       broker,
		thresholdMin: thresholdMin,
		log:          log.With(logger.Scope("scheduler.stale_recovery")),
	}
}

// Run executes the stale task recovery
func (t *StaleTaskRecoveryTask) Run(ctx context.Context) error {
	start := time.Now()

	recovered, err := t.broker.RecoverStale(ctx, t.thresholdMin)
	if err != nil {
		t.log.Error("stale task recovery failed",
			slog.String("error", err.Error()))
		return err
	}

	if recovered > 0 {
		t.log.Info("recovered stale tasks",
			slog.Int("count", recovered),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stale tasks to recover",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}
