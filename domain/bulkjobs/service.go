package bulkjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Service handles bulk job business logic
type Service struct {
	repo    *Repository
	docs    *documents.Repository
	tasks   *tasks.Service
	review  *reviewqueue.Service
	gateway *storage.Gateway
	cfg     *config.Config
	log     *slog.Logger
}

// NewService creates a new bulk jobs service
func NewService(
	repo *Repository,
	docRepo *documents.Repository,
	taskSvc *tasks.Service,
	reviewSvc *reviewqueue.Service,
	gateway *storage.Gateway,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		docs:    docRepo,
		tasks:   taskSvc,
		review:  reviewSvc,
		gateway: gateway,
		cfg:     cfg,
		log:     log.With(logger.Scope("bulkjobs")),
	}
}

// Create registers a new job in pending state. The source config is
// parsed up front so a job can never be created around garbage.
func (s *Service) Create(ctx context.Context, req CreateJobRequest) (*BulkJob, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.NewBadRequest("name is required")
	}

	src, canonical, err := parseJobSource(req.SourceType, req.SourceConfig)
	if err != nil {
		return nil, err
	}
	if err := req.ProcessingConfig.normalize(); err != nil {
		return nil, err
	}
	if err := req.ProcessingOptions.normalize(); err != nil {
		return nil, err
	}

	job := &BulkJob{
		Name:              name,
		SourceType:        string(src.Type),
		SourceConfig:      canonical,
		ProcessingConfig:  req.ProcessingConfig,
		ProcessingOptions: req.ProcessingOptions,
		Status:            StatusPending,
	}
	if req.UserID != "" {
		job.UserID = &req.UserID
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info("bulk job created",
		slog.String("bulk_job_id", job.ID),
		slog.String("source_type", job.SourceType),
		slog.String("name", job.Name))
	return job, nil
}

// Get retrieves a single job.
func (s *Service) Get(ctx context.Context, id string) (*BulkJob, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves jobs with pagination and filtering.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.repo.List(ctx, params)
}

// Update changes a job's name and, while the job is not actively
// processing, its processing settings. The source is immutable.
func (s *Service) Update(ctx context.Context, id string, req UpdateJobRequest) (*BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ProcessingConfig != nil || req.ProcessingOptions != nil {
		if job.Status != StatusPending && job.Status != StatusPaused {
			return nil, apperror.NewIllegalTransition("bulk job", job.Status, "reconfigure")
		}
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperror.NewBadRequest("name must not be empty")
		}
		job.Name = name
	}
	if req.ProcessingConfig != nil {
		if err := req.ProcessingConfig.normalize(); err != nil {
			return nil, err
		}
		job.ProcessingConfig = *req.ProcessingConfig
	}
	if req.ProcessingOptions != nil {
		if err := req.ProcessingOptions.normalize(); err != nil {
			return nil, err
		}
		job.ProcessingOptions = *req.ProcessingOptions
	}

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Delete removes a job and everything it owns. Pending tasks are
// cancelled first so workers stop picking the job up while the cascade
// runs; in-flight tasks finish against deleted rows as no-ops.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}

	if _, err := s.tasks.CancelPendingForJob(ctx, id); err != nil {
		s.log.Warn("failed to cancel pending tasks before delete",
			slog.String("bulk_job_id", id), logger.Error(err))
	}

	return s.repo.DeleteCascade(ctx, id)
}

// Start moves a pending job to running and dispatches work: discovery
// for fresh sources, or extraction tasks directly when documents were
// registered before start (uploads).
func (s *Service) Start(ctx context.Context, id string) (*BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	started, err := s.repo.MarkRunning(ctx, id)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, apperror.NewIllegalTransition("bulk job", job.Status, "start")
	}

	docCount, err := s.docs.CountForJob(ctx, id)
	if err != nil {
		s.revertStart(ctx, id)
		return nil, err
	}

	if docCount > 0 {
		// Pre-uploaded documents skip discovery.
		if err := s.repo.SetTotalDocuments(ctx, id, docCount); err != nil {
			s.revertStart(ctx, id)
			return nil, err
		}
		enqueued, err := s.tasks.EnqueueMissingExtractions(ctx, id)
		if err != nil {
			s.revertStart(ctx, id)
			return nil, err
		}
		s.log.Info("job started with pre-registered documents",
			slog.String("bulk_job_id", id),
			slog.Int("documents", docCount),
			slog.Int("enqueued", enqueued))
	} else {
		if err := s.tasks.EnqueueDiscovery(ctx, id, job.ProcessingOptions.Priority); err != nil {
			s.revertStart(ctx, id)
			return nil, err
		}
		s.log.Info("job started, discovery enqueued", slog.String("bulk_job_id", id))
	}

	return s.repo.GetByID(ctx, id)
}

// revertStart rolls a half-started job back to pending so start can be
// retried after a dispatch failure.
func (s *Service) revertStart(ctx context.Context, id string) {
	if _, err := s.repo.guardedTransition(ctx, id, []string{StatusRunning}, StatusPending); err != nil {
		s.log.Error("failed to revert job start", slog.String("bulk_job_id", id), logger.Error(err))
	}
}

// Pause suspends a running job. In-flight documents finish; workers
// abandon any queued task of a paused job, and nothing new is enqueued
// until resume.
func (s *Service) Pause(ctx context.Context, id string) (*BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	paused, err := s.repo.MarkPaused(ctx, id)
	if err != nil {
		return nil, err
	}
	if !paused {
		return nil, apperror.NewIllegalTransition("bulk job", job.Status, "pause")
	}

	s.log.Info("job paused", slog.String("bulk_job_id", id))
	return s.repo.GetByID(ctx, id)
}

// Resume moves a paused job back to running and re-creates broker tasks
// for every document still waiting, since workers abandon tasks they
// dequeue while a job is paused.
func (s *Service) Resume(ctx context.Context, id string) (*BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	resumed, err := s.repo.MarkResumed(ctx, id)
	if err != nil {
		return nil, err
	}
	if !resumed {
		return nil, apperror.NewIllegalTransition("bulk job", job.Status, "resume")
	}

	enqueued, err := s.tasks.EnqueueMissingExtractions(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.Info("job resumed",
		slog.String("bulk_job_id", id),
		slog.Int("enqueued", enqueued))
	return s.repo.GetByID(ctx, id)
}

// Stop terminates a running or paused job. Pending tasks are cancelled;
// in-flight documents run to their natural end.
func (s *Service) Stop(ctx context.Context, id string) (*BulkJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stopped, err := s.repo.MarkStopped(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stopped {
		return nil, apperror.NewIllegalTransition("bulk job", job.Status, "stop")
	}

	cancelled, err := s.tasks.CancelPendingForJob(ctx, id)
	if err != nil {
		s.log.Warn("failed to cancel pending tasks on stop",
			slog.String("bulk_job_id", id), logger.Error(err))
	}

	s.log.Info("job stopped",
		slog.String("bulk_job_id", id),
		slog.Int("tasks_cancelled", cancelled))
	return s.repo.GetByID(ctx, id)
}

// Estimate counts the documents a source would yield, capped so remote
// listings stay cheap.
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (*EstimateResponse, error) {
	src, _, err := parseJobSource(req.SourceType, req.SourceConfig)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.Validate(ctx, src); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	limit := s.cfg.Discovery.EstimateCap
	n, err := s.gateway.Count(ctx, src, limit)
	if err != nil {
		return nil, apperror.NewInternal("failed to count source documents", err)
	}

	resp := &EstimateResponse{EstimatedDocuments: n}
	if n >= limit {
		resp.Message = fmt.Sprintf("at least %d documents", n)
	} else {
		resp.Message = fmt.Sprintf("%d documents", n)
	}
	return resp, nil
}

// Reconcile runs one maintenance sweep: flip finished jobs to
// completed, revert stalled documents, heal missing broker tasks,
// recover stuck task rows and backfill the review queue. The scheduler
// runs it on a cadence; the admin route runs it on demand.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{JobsCompleted: []string{}}

	completed, err := s.repo.CompleteFinishedJobs(ctx)
	if err != nil {
		return nil, err
	}
	report.JobsCompleted = completed

	stale, err := s.docs.RevertStaleProcessing(ctx, s.cfg.Scheduler.StallThreshold())
	if err != nil {
		return nil, err
	}
	report.DocumentsReverted = len(stale)

	// Queued documents without a live task cannot make progress. The
	// anti-join makes this a no-op for healthy jobs.
	running, err := s.repo.RunningJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, jobID := range running {
		enqueued, err := s.tasks.EnqueueMissingExtractions(ctx, jobID)
		if err != nil {
			s.log.Warn("reconcile: task healing failed",
				slog.String("bulk_job_id", jobID), logger.Error(err))
			continue
		}
		report.TasksReenqueued += enqueued
	}

	recovered, err := s.tasks.RecoverStale(ctx, s.cfg.Scheduler.StallThresholdMin)
	if err != nil {
		return nil, err
	}
	report.TasksRecovered = recovered

	backfilled, err := s.review.Backfill(ctx)
	if err != nil {
		return nil, err
	}
	report.ReviewItemsBackfilled = backfilled

	if len(report.JobsCompleted) > 0 || report.DocumentsReverted > 0 ||
		report.TasksReenqueued > 0 || report.TasksRecovered > 0 || report.ReviewItemsBackfilled > 0 {
		s.log.Info("reconcile sweep",
			slog.Int("jobs_completed", len(report.JobsCompleted)),
			slog.Int("documents_reverted", report.DocumentsReverted),
			slog.Int("tasks_reenqueued", report.TasksReenqueued),
			slog.Int("tasks_recovered", report.TasksRecovered),
			slog.Int64("review_items_backfilled", report.ReviewItemsBackfilled))
	}
	return report, nil
}

// MarkDiscoveryFailed fails a job whose discovery pass errored out.
func (s *Service) MarkDiscoveryFailed(ctx context.Context, jobID, errMsg string) error {
	failed, err := s.repo.MarkFailed(ctx, jobID)
	if err != nil {
		return err
	}
	if !failed {
		// The job was stopped or deleted while discovery ran.
		s.log.Warn("discovery failure on non-running job", slog.String("bulk_job_id", jobID))
		return nil
	}

	s.LogStage(ctx, &ProcessingLog{
		JobID:   jobID,
		Level:   LogError,
		Stage:   "discovery",
		Message: errMsg,
	})
	s.log.Error("job failed during discovery",
		slog.String("bulk_job_id", jobID),
		slog.String("error", errMsg))
	return nil
}

// CompleteEmpty finishes a job whose source yielded no documents.
func (s *Service) CompleteEmpty(ctx context.Context, jobID string) error {
	completed, err := s.repo.MarkCompleted(ctx, jobID)
	if err != nil {
		return err
	}
	if completed {
		s.LogStage(ctx, &ProcessingLog{
			JobID:   jobID,
			Stage:   "discovery",
			Message: "source yielded no documents",
		})
		s.log.Info("job completed with empty source", slog.String("bulk_job_id", jobID))
	}
	return nil
}

// AddDiscoveredDocuments bumps a job's total after a discovery batch.
func (s *Service) AddDiscoveredDocuments(ctx context.Context, jobID string, n int) error {
	return s.repo.AddDiscoveredDocuments(ctx, jobID, n)
}

// RecountProgress refreshes a job's processed and failed counters.
func (s *Service) RecountProgress(ctx context.Context, jobID string) error {
	return s.repo.RecountProgress(ctx, jobID)
}

// LogStage appends a processing log line. Advisory: a failed write is
// logged and swallowed, never propagated into the pipeline.
func (s *Service) LogStage(ctx context.Context, entry *ProcessingLog) {
	if entry.Level == "" {
		entry.Level = LogInfo
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		s.log.Warn("failed to append processing log",
			slog.String("bulk_job_id", entry.JobID), logger.Error(err))
	}
}

// parseJobSource canonicalizes a request's source: the top-level
// source_type is folded into the stored config so discovery can parse
// the config standalone later.
func parseJobSource(sourceType string, raw json.RawMessage) (*storage.Source, json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil, apperror.NewBadRequest("source_config is required")
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, apperror.NewBadRequest("source_config must be a JSON object")
	}
	if _, ok := fields["type"]; !ok {
		if sourceType == "" {
			return nil, nil, apperror.NewBadRequest("source_type is required")
		}
		fields["type"] = sourceType
		canonical, err := json.Marshal(fields)
		if err != nil {
			return nil, nil, apperror.NewBadRequest("source_config is not serializable")
		}
		raw = canonical
	}

	src, err := storage.ParseSource(raw)
	if err != nil {
		return nil, nil, apperror.NewBadRequest(err.Error())
	}
	if sourceType != "" && string(src.Type) != sourceType {
		return nil, nil, apperror.NewBadRequest("source_type does not match source_config.type")
	}
	return src, raw, nil
}
