package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Job states in which a per-document retry is meaningful: the workers
// are either still draining the queue or already done with everything
// else.
var retryableJobStates = map[string]bool{
	"running":   true,
	"completed": true,
}

// Service handles document business logic
type Service struct {
	repo    *Repository
	tasks   *tasks.Service
	storage *storage.Service
	log     *slog.Logger
}

// NewService creates a new documents service
func NewService(repo *Repository, taskSvc *tasks.Service, store *storage.Service, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		tasks:   taskSvc,
		storage: store,
		log:     log.With(logger.Scope("documents")),
	}
}

// List retrieves a job's documents with pagination and filtering.
// Completed documents from object-store sources get a presigned
// download URL.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	// Listing a missing job is a 404, not an empty page.
	if _, err := s.repo.JobStatus(ctx, params.JobID); err != nil {
		return nil, err
	}

	result, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, err
	}

	s.attachDownloadURLs(ctx, params.JobID, result.Documents)
	return result, nil
}

// Get retrieves a single document.
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// FieldsForDocument returns a document's extracted fields in page and
// field order.
func (s *Service) FieldsForDocument(ctx context.Context, documentID string) ([]*ExtractedField, error) {
	return s.repo.ListFieldsByDocument(ctx, documentID)
}

// Retry requeues a failed or needs-review document for another
// extraction attempt. The owning job must still have workers looking at
// it (running) or be finished (completed); retrying documents of a
// paused, stopped or never-started job is rejected.
func (s *Service) Retry(ctx context.Context, jobID, documentID string) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.JobID != jobID {
		return nil, apperror.NewNotFound("document", documentID)
	}

	jobStatus, err := s.repo.JobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !retryableJobStates[jobStatus] {
		return nil, apperror.NewIllegalTransition("bulk job", jobStatus, "retry a document of")
	}

	transitioned, err := s.repo.TransitionToQueuedForRetry(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		if doc.RetryCount >= doc.MaxRetries {
			return nil, apperror.ErrIllegalTransition.WithMessage(
				fmt.Sprintf("document '%s' has exhausted its %d retries", documentID, doc.MaxRetries))
		}
		return nil, apperror.NewIllegalTransition("document", doc.Status, "retry")
	}

	// Manual retries skip the backoff delay; a person asked for this one.
	if err := s.tasks.EnqueueExtraction(ctx, jobID, documentID, doc.Priority); err != nil {
		return nil, err
	}

	s.log.Info("document retry requested",
		slog.String("bulk_job_id", jobID),
		slog.String("document_id", documentID),
		slog.Int("retry_count", doc.RetryCount+1))

	return s.repo.GetByID(ctx, documentID)
}

// attachDownloadURLs presigns download links for completed documents of
// object-store jobs. Folder and drive paths are not presignable, and a
// presign failure only costs the link, never the listing.
func (s *Service) attachDownloadURLs(ctx context.Context, jobID string, docs []*Document) {
	if s.storage == nil || !s.storage.Enabled() {
		return
	}

	sourceType, err := s.repo.JobSourceType(ctx, jobID)
	if err != nil || sourceType != string(storage.SourceObjectStore) {
		return
	}

	for _, doc := range docs {
		if doc.Status != StatusCompleted {
			continue
		}
		url, err := s.storage.GetSignedDownloadURL(ctx, doc.SourcePath, storage.GetSignedDownloadURLOptions{
			ExpiresIn:                  time.Hour,
			ResponseContentDisposition: fmt.Sprintf("attachment; filename=%q", storage.SanitizeFilename(doc.Filename)),
		})
		if err != nil {
			s.log.Warn("failed to presign document download",
				slog.String("document_id", doc.ID), logger.Error(err))
			continue
		}
		doc.DownloadURL = url
	}
}
