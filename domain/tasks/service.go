package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/jobs"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Service fronts the two Postgres task queues (discovery and extraction).
// Workers dequeue through it, the state manager enqueues through it, and
// the metrics endpoint reads its stats. It carries no HTTP surface of its
// own.
type Service struct {
	db           bun.IDB
	discovery    *jobs.Queue
	extraction   *jobs.Queue
	baseRetrySec int
	maxRetrySec  int
	log          *slog.Logger
}

// NewService creates the task broker service over both queue tables.
func NewService(db bun.IDB, cfg *config.Config, log *slog.Logger) *Service {
	discoveryCfg := jobs.DefaultQueueConfig("ext.discovery_tasks", "job_id")
	discoveryCfg.BatchSize = cfg.Discovery.WorkerBatchSize

	extractionCfg := jobs.DefaultQueueConfig("ext.extraction_tasks", "document_id")
	extractionCfg.BaseRetryDelaySec = cfg.Extraction.BaseRetryDelaySec
	extractionCfg.MaxRetryDelaySec = cfg.Extraction.MaxRetryDelaySec

	scoped := log.With(logger.Scope("tasks"))
	return &Service{
		db:           db,
		discovery:    jobs.NewQueue(db, discoveryCfg, scoped),
		extraction:   jobs.NewQueue(db, extractionCfg, scoped),
		baseRetrySec: extractionCfg.BaseRetryDelaySec,
		maxRetrySec:  extractionCfg.MaxRetryDelaySec,
		log:          scoped,
	}
}

// EnqueueDiscovery queues a source-enumeration task for a bulk job.
func (s *Service) EnqueueDiscovery(ctx context.Context, jobID string, priority int) error {
	task := &DiscoveryTask{
		JobID:    jobID,
		Status:   string(jobs.StatusPending),
		Priority: priority,
	}
	_, err := s.db.NewInsert().
		Model(task).
		ExcludeColumn("id", "payload", "last_error", "started_at", "completed_at", "scheduled_at", "created_at", "updated_at").
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to enqueue discovery task",
			slog.String("bulk_job_id", jobID), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("discovery task enqueued",
		slog.String("bulk_job_id", jobID),
		slog.Int("priority", priority))
	return nil
}

// EnqueueExtraction queues an extraction task for a document, to run as
// soon as a worker is free.
func (s *Service) EnqueueExtraction(ctx context.Context, jobID, documentID string, priority int) error {
	return s.EnqueueExtractionDelayed(ctx, jobID, documentID, priority, 0)
}

// EnqueueExtractionDelayed queues an extraction task that becomes visible
// to workers after the given delay. Used for retry backoff.
func (s *Service) EnqueueExtractionDelayed(ctx context.Context, jobID, documentID string, priority int, delay time.Duration) error {
	task := &ExtractionTask{
		JobID:      jobID,
		DocumentID: documentID,
		Status:     string(jobs.StatusPending),
		Priority:   priority,
	}

	query := s.db.NewInsert().
		Model(task).
		ExcludeColumn("id", "payload", "last_error", "started_at", "completed_at", "created_at", "updated_at")
	if delay > 0 {
		task.ScheduledAt = time.Now().UTC().Add(delay)
	} else {
		query = query.ExcludeColumn("scheduled_at")
	}

	if _, err := query.Exec(ctx); err != nil {
		s.log.Error("failed to enqueue extraction task",
			slog.String("document_id", documentID), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Debug("extraction task enqueued",
		slog.String("bulk_job_id", jobID),
		slog.String("document_id", documentID),
		slog.Duration("delay", delay))
	return nil
}

// EnqueueMissingExtractions inserts extraction tasks for every claimable
// document of a job that has no live task. Resuming a paused job calls
// this instead of blind re-enqueueing so replays never double-book a
// document. Returns the number of tasks created.
func (s *Service) EnqueueMissingExtractions(ctx context.Context, jobID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ext.extraction_tasks (job_id, document_id, priority)
		SELECT d.job_id, d.id, d.priority
		FROM ext.documents d
		WHERE d.job_id = $1
			AND d.status IN ('pending', 'queued')
			AND NOT EXISTS (
				SELECT 1 FROM ext.extraction_tasks t
				WHERE t.document_id = d.id
					AND t.status IN ('pending', 'processing')
			)`, jobID)
	if err != nil {
		s.log.Error("failed to enqueue missing extraction tasks",
			slog.String("bulk_job_id", jobID), logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.log.Info("enqueued missing extraction tasks",
			slog.String("bulk_job_id", jobID),
			slog.Int64("count", count))
	}
	return int(count), nil
}

// DequeueDiscovery claims up to batchSize discovery tasks.
func (s *Service) DequeueDiscovery(ctx context.Context, batchSize int) ([]*DiscoveryTask, error) {
	ids, err := s.discovery.Dequeue(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []*DiscoveryTask
	err = s.db.NewSelect().
		Model(&claimed).
		Where("dt.id IN (?)", bun.In(ids)).
		Order("dt.priority ASC", "dt.scheduled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load claimed discovery tasks: %w", err)
	}
	return claimed, nil
}

// DequeueExtraction claims up to batchSize extraction tasks.
func (s *Service) DequeueExtraction(ctx context.Context, batchSize int) ([]*ExtractionTask, error) {
	ids, err := s.extraction.Dequeue(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []*ExtractionTask
	err = s.db.NewSelect().
		Model(&claimed).
		Where("et.id IN (?)", bun.In(ids)).
		Order("et.priority ASC", "et.scheduled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load claimed extraction tasks: %w", err)
	}
	return claimed, nil
}

// CompleteDiscovery marks a discovery task done.
func (s *Service) CompleteDiscovery(ctx context.Context, taskID string) error {
	return s.discovery.MarkCompleted(ctx, taskID)
}

// CompleteExtraction marks an extraction task done.
func (s *Service) CompleteExtraction(ctx context.Context, taskID string) error {
	return s.extraction.MarkCompleted(ctx, taskID)
}

// RetryDiscovery reschedules a failed discovery task with backoff.
func (s *Service) RetryDiscovery(ctx context.Context, taskID string, attemptCount int, errMsg string) error {
	return s.discovery.MarkFailed(ctx, taskID, attemptCount, errMsg)
}

// FailDiscovery marks a discovery task failed with no further retries.
func (s *Service) FailDiscovery(ctx context.Context, taskID string, attemptCount int, errMsg string) error {
	return s.discovery.MarkFailedPermanent(ctx, taskID, attemptCount, errMsg)
}

// RetryExtraction reschedules a failed extraction task with backoff
// (base × 2^attempt, capped, plus jitter).
func (s *Service) RetryExtraction(ctx context.Context, taskID string, attemptCount int, errMsg string) error {
	return s.extraction.MarkFailed(ctx, taskID, attemptCount, errMsg)
}

// FailExtraction marks an extraction task failed with no further retries.
func (s *Service) FailExtraction(ctx context.Context, taskID string, attemptCount int, errMsg string) error {
	return s.extraction.MarkFailedPermanent(ctx, taskID, attemptCount, errMsg)
}

// AbandonDiscovery cancels one claimed discovery task without charging an
// attempt. Workers call it when the owning job left the running state
// between enqueue and dequeue.
func (s *Service) AbandonDiscovery(ctx context.Context, taskID string) error {
	return s.abandon(ctx, "ext.discovery_tasks", taskID)
}

// AbandonExtraction cancels one claimed extraction task without charging
// an attempt. Resume recreates tasks for waiting documents, so abandoning
// loses nothing.
func (s *Service) AbandonExtraction(ctx context.Context, taskID string) error {
	return s.abandon(ctx, "ext.extraction_tasks", taskID)
}

func (s *Service) abandon(ctx context.Context, table, taskID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1`, table), taskID)
	if err != nil {
		return fmt.Errorf("abandon task: %w", err)
	}
	return nil
}

// CancelPendingForJob cancels every not-yet-started task of a bulk job in
// both queues. In-flight tasks run to their natural end.
func (s *Service) CancelPendingForJob(ctx context.Context, jobID string) (int, error) {
	discoveryCount, err := s.discovery.CancelPendingForJob(ctx, jobID)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ext.extraction_tasks
		SET status = 'cancelled', updated_at = now()
		WHERE job_id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return discoveryCount, fmt.Errorf("cancel pending extraction tasks: %w", err)
	}
	extractionCount, _ := result.RowsAffected()

	total := discoveryCount + int(extractionCount)
	if total > 0 {
		s.log.Info("cancelled pending tasks",
			slog.String("bulk_job_id", jobID),
			slog.Int("count", total))
	}
	return total, nil
}

// RecoverStale requeues tasks stuck in processing longer than the
// threshold, in both queues. Covers worker crashes and restarts.
func (s *Service) RecoverStale(ctx context.Context, thresholdMinutes int) (int, error) {
	discoveryCount, err := s.discovery.RecoverStaleJobs(ctx, thresholdMinutes)
	if err != nil {
		return 0, err
	}
	extractionCount, err := s.extraction.RecoverStaleJobs(ctx, thresholdMinutes)
	if err != nil {
		return discoveryCount, err
	}
	return discoveryCount + extractionCount, nil
}

// Metrics returns per-status counts for both queues.
func (s *Service) Metrics(ctx context.Context) (*QueueMetrics, error) {
	discoveryStats, err := s.discovery.GetStats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	extractionStats, err := s.extraction.GetStats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &QueueMetrics{
		Discovery:  snapshot(discoveryStats),
		Extraction: snapshot(extractionStats),
	}, nil
}

func snapshot(st *jobs.Stats) QueueSnapshot {
	return QueueSnapshot{
		Pending:    st.Pending,
		Processing: st.Processing,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Cancelled:  st.Cancelled,
	}
}

// RetryDelay computes the document-level backoff used when a transient
// failure requeues a document: base × 2^retryCount capped at the max,
// with jitter.
func (s *Service) RetryDelay(retryCount int) time.Duration {
	return jobs.BackoffDelay(s.baseRetrySec, s.maxRetrySec, retryCount)
}
