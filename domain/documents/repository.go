package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/internal/database"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/mathutil"
)

// Repository handles document and extracted-field database operations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new documents repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents-repo")),
	}
}

// Create inserts a single document row.
func (r *Repository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().
		Model(doc).
		ExcludeColumn("created_at", "updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to create document",
			slog.String("bulk_job_id", doc.JobID), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// BulkInsert inserts one discovery batch of documents and reports how many
// rows were actually written. Paths already registered for the job are
// skipped, so a retried discovery pass never duplicates documents.
func (r *Repository) BulkInsert(ctx context.Context, docs []*Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
	}

	res, err := r.db.NewInsert().
		Model(&docs).
		ExcludeColumn("created_at", "updated_at").
		On("CONFLICT (job_id, source_path) DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to bulk insert documents",
			slog.Int("count", len(docs)), logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return len(docs), nil
	}
	return int(inserted), nil
}

// GetByID retrieves a document by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	err := r.db.NewSelect().
		Model(doc).
		Where("d.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("document", id)
		}
		r.log.Error("failed to get document", slog.String("document_id", id), logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return doc, nil
}

// List retrieves a job's documents with offset pagination and an
// optional status filter. Rows come back in discovery order.
func (r *Repository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, 100, 500)
	if params.Skip < 0 {
		params.Skip = 0
	}

	docs := []*Document{}
	q := r.db.NewSelect().
		Model(&docs).
		Where("d.job_id = ?", params.JobID)
	if params.StatusFilter != "" {
		q = q.Where("d.status = ?", params.StatusFilter)
	}

	// Total count without pagination
	totalQ := r.db.NewSelect().
		Model((*Document)(nil)).
		Where("job_id = ?", params.JobID)
	if params.StatusFilter != "" {
		totalQ = totalQ.Where("status = ?", params.StatusFilter)
	}
	total, err := totalQ.Count(ctx)
	if err != nil {
		r.log.Error("failed to count documents", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	err = q.Order("d.created_at ASC", "d.id ASC").
		Limit(params.Limit).
		Offset(params.Skip).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list documents", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &ListResult{
		Documents: docs,
		Total:     total,
		Skip:      params.Skip,
		Limit:     params.Limit,
	}, nil
}

// JobStatus returns the status of the owning bulk job.
func (r *Repository) JobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := r.db.NewRaw(`SELECT status FROM ext.bulk_jobs WHERE id = ?`, jobID).
		Scan(ctx, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NewNotFound("bulk job", jobID)
		}
		return "", apperror.ErrDatabase.WithInternal(err)
	}
	return status, nil
}

// JobSourceType returns the source type of the owning bulk job.
func (r *Repository) JobSourceType(ctx context.Context, jobID string) (string, error) {
	var sourceType string
	err := r.db.NewRaw(`SELECT source_type FROM ext.bulk_jobs WHERE id = ?`, jobID).
		Scan(ctx, &sourceType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NewNotFound("bulk job", jobID)
		}
		return "", apperror.ErrDatabase.WithInternal(err)
	}
	return sourceType, nil
}

// ClaimForProcessing transitions a document to processing for a worker.
// The claim is optimistic: it only succeeds while the document is still
// claimable, so task replays for already-handled documents return false
// and the caller drops the task without side effects.
func (r *Repository) ClaimForProcessing(ctx context.Context, id, workerID string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusProcessing).
		Set("worker_id = ?", workerID).
		Set("processing_started_at = now()").
		Set("processing_stage = ?", "starting").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{StatusQueued, StatusPending})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

// UpdateStage records pipeline progress for an in-flight document.
func (r *Repository) UpdateStage(ctx context.Context, id, stage string) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("processing_stage = ?", stage).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update processing stage: %w", err)
	}
	return nil
}

// SetTotalPages records the page count once the PDF has been opened.
func (r *Repository) SetTotalPages(ctx context.Context, id string, totalPages int) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("total_pages = ?", totalPages).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set total pages: %w", err)
	}
	return nil
}

// UpdatePagesProcessed records per-batch page progress.
func (r *Repository) UpdatePagesProcessed(ctx context.Context, id string, pagesProcessed int, failedPages []int64) error {
	q := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("pages_processed = ?", pagesProcessed).
		Set("updated_at = now()").
		Where("id = ?", id)
	if len(failedPages) > 0 {
		q = q.Set("failed_pages = ?", pq.Int64Array(failedPages))
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update pages processed: %w", err)
	}
	return nil
}

// FinalizeParams carries the terminal outcome of an extraction run.
type FinalizeParams struct {
	// Status must be completed or needs_review
	Status              string
	PagesProcessed      int
	TotalPages          int
	FailedPages         []int64
	ExtractionTimeMs    int64
	TokenUsage          map[string]any
	ExtractionCost      *float64
	FieldsNeedingReview int
	AverageConfidence   *float64
}

// FinalizeExtraction persists an extraction run's results atomically:
// replace the document's fields, transition it to its terminal status
// and write the run telemetry, all in one transaction. A crash leaves
// the document processing with no partial fields visible; the
// stale-revert sweep requeues it later, so results land at most once.
func (r *Repository) FinalizeExtraction(ctx context.Context, id string, fields []*ExtractedField, params FinalizeParams) error {
	if params.Status != StatusCompleted && params.Status != StatusNeedsReview {
		return fmt.Errorf("finalize extraction: status %q is not a terminal extraction outcome", params.Status)
	}

	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback()

	// A retried document may carry fields from an earlier needs_review
	// run; the new run's results fully replace them.
	_, err = tx.NewDelete().
		Model((*ExtractedField)(nil)).
		Where("document_id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("clear previous fields: %w", err))
	}

	if len(fields) > 0 {
		for _, f := range fields {
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
		}
		_, err = tx.NewInsert().
			Model(&fields).
			ExcludeColumn("created_at", "updated_at").
			Exec(ctx)
		if err != nil {
			return apperror.ErrDatabase.WithInternal(fmt.Errorf("insert extracted fields: %w", err))
		}
	}

	update := tx.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", params.Status).
		Set("pages_processed = ?", params.PagesProcessed).
		Set("total_pages = ?", params.TotalPages).
		Set("failed_pages = ?", pq.Int64Array(params.FailedPages)).
		Set("extraction_time_ms = ?", params.ExtractionTimeMs).
		Set("total_fields_extracted = ?", len(fields)).
		Set("fields_needing_review = ?", params.FieldsNeedingReview).
		Set("error_message = NULL").
		Set("error_type = NULL").
		Set("worker_id = NULL").
		Set("processing_stage = NULL").
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id)
	if params.TokenUsage != nil {
		update = update.Set("token_usage = ?", params.TokenUsage)
	}
	if params.ExtractionCost != nil {
		update = update.Set("extraction_cost = ?", *params.ExtractionCost)
	}
	if params.AverageConfidence != nil {
		update = update.Set("average_confidence = ?", *params.AverageConfidence)
	}
	if _, err = update.Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("finalize document: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	r.log.Info("extraction finalized",
		slog.String("document_id", id),
		slog.String("status", params.Status),
		slog.Int("fields", len(fields)),
		slog.Int("fields_needing_review", params.FieldsNeedingReview))
	return nil
}

// RequeueForRetry puts a document back in the queue after a transient
// failure, charging one retry.
func (r *Repository) RequeueForRetry(ctx context.Context, id, errMsg string) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusQueued).
		Set("retry_count = retry_count + 1").
		Set("error_message = ?", errMsg).
		Set("worker_id = NULL").
		Set("processing_stage = NULL").
		Set("processing_started_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeue document: %w", err)
	}
	return nil
}

// MarkFailed transitions a document to terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, id, errMsg, errType string) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusFailed).
		Set("error_message = ?", errMsg).
		Set("error_type = ?", errType).
		Set("worker_id = NULL").
		Set("processing_stage = NULL").
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}

	r.log.Warn("document failed",
		slog.String("document_id", id),
		slog.String("error_type", errType),
		slog.String("error", errMsg))
	return nil
}

// TransitionToQueuedForRetry performs the manual retry transition:
// {failed, needs_review} → queued, charging one retry. The predicate
// carries the whole rule, so concurrent retries of the same document
// collapse to a single requeue. Returns false when the document is not
// retryable (wrong state or retry budget exhausted).
func (r *Repository) TransitionToQueuedForRetry(ctx context.Context, id string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", StatusQueued).
		Set("retry_count = retry_count + 1").
		Set("error_message = NULL").
		Set("error_type = NULL").
		Set("worker_id = NULL").
		Set("processing_stage = NULL").
		Set("processing_started_at = NULL").
		Set("completed_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{StatusFailed, StatusNeedsReview})).
		Where("retry_count < max_retries").
		Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

// StaleDocument identifies a processing row the reconciler reverted.
type StaleDocument struct {
	ID    string `bun:"id"`
	JobID string `bun:"job_id"`
}

// RevertStaleProcessing requeues documents stuck in processing longer
// than the threshold, without charging a retry: a crashed worker is an
// infrastructure fault, not a document fault. Returns the affected
// documents so the caller can re-enqueue their extraction tasks.
func (r *Repository) RevertStaleProcessing(ctx context.Context, olderThan time.Duration) ([]StaleDocument, error) {
	var stale []StaleDocument
	err := r.db.NewRaw(`
		UPDATE ext.documents
		SET status = 'queued',
			worker_id = NULL,
			processing_stage = NULL,
			processing_started_at = NULL,
			updated_at = now()
		WHERE status = 'processing'
			AND processing_started_at < now() - (? || ' seconds')::interval
		RETURNING id, job_id`,
		fmt.Sprintf("%d", int(olderThan.Seconds()))).
		Scan(ctx, &stale)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if len(stale) > 0 {
		r.log.Warn("reverted stale processing documents",
			slog.Int("count", len(stale)),
			slog.Duration("threshold", olderThan))
	}
	return stale, nil
}

// CountsByStatus aggregates a job's documents by status.
func (r *Repository) CountsByStatus(ctx context.Context, jobID string) (*StatusCounts, error) {
	counts := &StatusCounts{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'needs_review')
		FROM ext.documents
		WHERE job_id = $1`, jobID).
		Scan(&counts.Pending, &counts.Queued, &counts.Processing,
			&counts.Completed, &counts.Failed, &counts.NeedsReview)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return counts, nil
}

// CountForJob returns the number of documents registered for a job.
func (r *Repository) CountForJob(ctx context.Context, jobID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Document)(nil)).
		Where("job_id = ?", jobID).
		Count(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}

// ListByStatuses returns a job's documents in any of the given states.
func (r *Repository) ListByStatuses(ctx context.Context, jobID string, statuses []string) ([]*Document, error) {
	docs := []*Document{}
	err := r.db.NewSelect().
		Model(&docs).
		Where("d.job_id = ?", jobID).
		Where("d.status IN (?)", bun.In(statuses)).
		Order("d.created_at ASC", "d.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return docs, nil
}

// ListFieldsByDocument returns a document's extracted fields in
// extraction order: page, then position within the page.
func (r *Repository) ListFieldsByDocument(ctx context.Context, documentID string) ([]*ExtractedField, error) {
	fields := []*ExtractedField{}
	err := r.db.NewSelect().
		Model(&fields).
		Where("f.document_id = ?", documentID).
		Order("f.page_number ASC", "f.field_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return fields, nil
}

// ListFieldsForJob returns every extracted field of a job, grouped by
// document in extraction order. Exports walk this result.
func (r *Repository) ListFieldsForJob(ctx context.Context, jobID string) ([]*ExtractedField, error) {
	fields := []*ExtractedField{}
	err := r.db.NewSelect().
		Model(&fields).
		Where("f.job_id = ?", jobID).
		Order("f.document_id ASC", "f.page_number ASC", "f.field_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return fields, nil
}
