package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/tracing"
)

// discoveryMaxAttempts bounds enumeration retries. Discovery failures are
// almost always source misconfiguration, so the budget is small and fixed.
const discoveryMaxAttempts = 3

// DiscoveryWorker drains discovery tasks: it enumerates a job's source,
// registers the documents it finds in batches, and enqueues one extraction
// task per registered document. Registration is idempotent per (job,
// source_path), so a retried pass never duplicates documents or inflates
// job counters.
type DiscoveryWorker struct {
	tasks   *tasks.Service
	docs    *documents.Repository
	jobs    *bulkjobs.Service
	gateway *storage.Gateway
	cfg     *config.DiscoveryConfig
	log     *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex
	wg        sync.WaitGroup

	metricsMu      sync.RWMutex
	processedCount int64
	successCount   int64
	failureCount   int64
}

func NewDiscoveryWorker(
	taskSvc *tasks.Service,
	docs *documents.Repository,
	jobs *bulkjobs.Service,
	gateway *storage.Gateway,
	cfg *config.Config,
	log *slog.Logger,
) *DiscoveryWorker {
	return &DiscoveryWorker{
		tasks:     taskSvc,
		docs:      docs,
		jobs:      jobs,
		gateway:   gateway,
		cfg:       &cfg.Discovery,
		log:       log.With(logger.Scope("discovery.worker")),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the polling loop. It is a no-op if already running.
func (w *DiscoveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})

	go w.run(ctx)

	w.log.Info("discovery worker started",
		"poll_interval", w.cfg.WorkerInterval(),
		"batch_size", w.cfg.WorkerBatchSize)
	return nil
}

// Stop signals the worker to halt and waits for in-flight tasks.
func (w *DiscoveryWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("discovery worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *DiscoveryWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *DiscoveryWorker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()
	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

func (w *DiscoveryWorker) incrementSuccess() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.processedCount++
	w.successCount++
}

func (w *DiscoveryWorker) incrementFailure() {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.processedCount++
	w.failureCount++
}

func (w *DiscoveryWorker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.cfg.WorkerInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.wg.Wait()
			return
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *DiscoveryWorker) processBatch(ctx context.Context) {
	select {
	case <-w.stopCh:
		return
	case <-ctx.Done():
		return
	default:
	}

	batch, err := w.tasks.DequeueDiscovery(ctx, w.cfg.WorkerBatchSize)
	if err != nil {
		w.log.Error("failed to dequeue discovery tasks", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	// Discovery tasks are rare and long-lived; run them sequentially so a
	// single enumeration never competes with another for source bandwidth.
	for _, task := range batch {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.wg.Add(1)
		func() {
			defer w.wg.Done()
			w.processTask(ctx, task)
		}()
	}
}

func (w *DiscoveryWorker) processTask(ctx context.Context, task *tasks.DiscoveryTask) {
	ctx, span := tracing.Start(ctx, "extraction.discovery",
		attribute.String("veridoc.job.id", task.JobID),
	)
	defer span.End()

	log := w.log.With("bulk_job_id", task.JobID, "task_id", task.ID)

	job, err := w.jobs.Get(ctx, task.JobID)
	if err != nil {
		if isNotFound(err) {
			log.Warn("discovery task references missing job, abandoning")
			w.abandon(ctx, task, log)
			return
		}
		log.Error("failed to load job for discovery", "error", err)
		return
	}

	// Discovery only makes sense while the job is running. Paused or
	// stopped jobs abandon the task; resuming enqueues a fresh one.
	if job.Status != bulkjobs.StatusRunning {
		log.Info("discovery task abandoned", "job_status", job.Status)
		w.abandon(ctx, task, log)
		return
	}

	started := time.Now()
	run, err := w.runDiscovery(ctx, job, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		w.settleDiscoveryFailure(ctx, task, job, err, log)
		return
	}

	if err := w.tasks.CompleteDiscovery(ctx, task.ID); err != nil {
		log.Warn("failed to complete discovery task", "error", err)
	}
	w.incrementSuccess()

	w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
		JobID:   job.ID,
		Level:   bulkjobs.LogInfo,
		Stage:   "discovery",
		Message: "source discovery finished",
		Details: map[string]any{
			"documents_found":      run.enumerated,
			"documents_registered": run.registered,
			"duration_ms":          time.Since(started).Milliseconds(),
		},
	})
	log.Info("source discovery finished",
		"documents_found", run.enumerated,
		"documents_registered", run.registered,
		"duration_ms", time.Since(started).Milliseconds())
}

type discoveryRun struct {
	enumerated int
	registered int
}

// runDiscovery enumerates the job's source and registers documents in
// batches. Each flushed batch immediately gets extraction tasks so large
// sources start processing before enumeration completes.
func (w *DiscoveryWorker) runDiscovery(ctx context.Context, job *bulkjobs.BulkJob, log *slog.Logger) (*discoveryRun, error) {
	src, err := storage.ParseSource(job.SourceConfig)
	if err != nil {
		return nil, permanent(errTypeInvalidSource, fmt.Errorf("parse source config: %w", err))
	}

	if err := w.gateway.Validate(ctx, src); err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}

	batchSize := job.ProcessingConfig.DiscoveryBatchSize
	if batchSize <= 0 {
		batchSize = w.cfg.BatchSize
	}

	run := &discoveryRun{}
	pending := make([]*documents.Document, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		inserted, err := w.docs.BulkInsert(ctx, pending)
		if err != nil {
			return fmt.Errorf("register documents: %w", err)
		}
		run.registered += inserted
		pending = pending[:0]

		if inserted > 0 {
			if err := w.jobs.AddDiscoveredDocuments(ctx, job.ID, inserted); err != nil {
				return fmt.Errorf("update job totals: %w", err)
			}
		}
		// The anti-join only enqueues documents without a task, so calling
		// it per batch is idempotent across retried passes.
		if _, err := w.tasks.EnqueueMissingExtractions(ctx, job.ID); err != nil {
			return fmt.Errorf("enqueue extraction tasks: %w", err)
		}
		return nil
	}

	err = w.gateway.Enumerate(ctx, src, func(ref storage.DocumentRef) error {
		run.enumerated++
		pending = append(pending, &documents.Document{
			JobID:      job.ID,
			SourcePath: ref.SourcePath,
			Filename:   ref.Filename,
			FileSize:   ref.Size,
			MimeType:   ref.MimeType,
			Status:     documents.StatusPending,
			Priority:   job.ProcessingOptions.Priority,
			MaxRetries: job.ProcessingOptions.MaxRetries,
		})
		if len(pending) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate source: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if run.enumerated == 0 {
		existing, err := w.docs.CountForJob(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("count existing documents: %w", err)
		}
		if existing == 0 {
			log.Info("source is empty, completing job")
			if err := w.jobs.CompleteEmpty(ctx, job.ID); err != nil {
				return nil, fmt.Errorf("complete empty job: %w", err)
			}
		}
	}

	return run, nil
}

func (w *DiscoveryWorker) settleDiscoveryFailure(ctx context.Context, task *tasks.DiscoveryTask, job *bulkjobs.BulkJob, runErr error, log *slog.Logger) {
	w.incrementFailure()
	msg := runErr.Error()

	if !isPermanent(runErr) && task.AttemptCount+1 < discoveryMaxAttempts {
		if err := w.tasks.RetryDiscovery(ctx, task.ID, task.AttemptCount, msg); err != nil {
			log.Error("failed to schedule discovery retry", "error", err)
			return
		}
		w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
			JobID:   job.ID,
			Level:   bulkjobs.LogWarn,
			Stage:   "discovery",
			Message: "discovery retry scheduled",
			Details: map[string]any{
				"error":   msg,
				"attempt": task.AttemptCount + 1,
			},
		})
		log.Warn("discovery failed, retry scheduled", "error", runErr, "attempt", task.AttemptCount+1)
		return
	}

	errType := errTypeDiscovery
	if isPermanent(runErr) {
		errType = errTypeOf(runErr)
	}
	if err := w.tasks.FailDiscovery(ctx, task.ID, task.AttemptCount, msg); err != nil {
		log.Error("failed to mark discovery task failed", "error", err)
	}
	if err := w.jobs.MarkDiscoveryFailed(ctx, job.ID, msg); err != nil {
		log.Error("failed to mark job discovery-failed", "error", err)
	}
	w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
		JobID:   job.ID,
		Level:   bulkjobs.LogError,
		Stage:   "discovery",
		Message: "source discovery failed",
		Details: map[string]any{
			"error":      msg,
			"error_type": errType,
		},
	})
	log.Error("source discovery failed permanently", "error", runErr)
}

func (w *DiscoveryWorker) abandon(ctx context.Context, task *tasks.DiscoveryTask, log *slog.Logger) {
	if err := w.tasks.AbandonDiscovery(ctx, task.ID); err != nil {
		log.Warn("failed to abandon discovery task", "error", err)
	}
}
