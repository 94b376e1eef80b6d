package bulkjobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/internal/database"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/mathutil"
)

// needsReviewCountExpr computes the per-job needs_review aggregate the
// listing and single-job reads carry.
const needsReviewCountExpr = "(SELECT COUNT(*)::int FROM ext.documents d WHERE d.job_id = bj.id AND d.status = 'needs_review') AS needs_review_count"

// Repository handles bulk job database operations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new bulk jobs repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("bulkjobs-repo")),
	}
}

// Create inserts a new job in pending state.
func (r *Repository) Create(ctx context.Context, job *BulkJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().
		Model(job).
		ExcludeColumn("created_at", "updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to create bulk job", slog.String("name", job.Name), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetByID retrieves a job with its needs-review count.
func (r *Repository) GetByID(ctx context.Context, id string) (*BulkJob, error) {
	job := &BulkJob{}
	err := r.db.NewSelect().
		Model(job).
		ColumnExpr("bj.*").
		ColumnExpr(needsReviewCountExpr).
		Where("bj.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("bulk job", id)
		}
		r.log.Error("failed to get bulk job", slog.String("bulk_job_id", id), logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return job, nil
}

// List retrieves jobs newest-first with offset pagination, an optional
// status filter and per-job needs-review counts.
func (r *Repository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, 100, 500)
	if params.Skip < 0 {
		params.Skip = 0
	}

	jobs := []*BulkJob{}
	q := r.db.NewSelect().
		Model(&jobs).
		ColumnExpr("bj.*").
		ColumnExpr(needsReviewCountExpr)
	if params.StatusFilter != "" {
		q = q.Where("bj.status = ?", params.StatusFilter)
	}

	// Total count without pagination
	totalQ := r.db.NewSelect().
		Model((*BulkJob)(nil))
	if params.StatusFilter != "" {
		totalQ = totalQ.Where("status = ?", params.StatusFilter)
	}
	total, err := totalQ.Count(ctx)
	if err != nil {
		r.log.Error("failed to count bulk jobs", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	err = q.Order("bj.created_at DESC", "bj.id DESC").
		Limit(params.Limit).
		Offset(params.Skip).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list bulk jobs", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &ListResult{
		Jobs:  jobs,
		Total: total,
		Skip:  params.Skip,
		Limit: params.Limit,
	}, nil
}

// Update persists a job's mutable fields: name and processing settings.
func (r *Repository) Update(ctx context.Context, job *BulkJob) error {
	_, err := r.db.NewUpdate().
		Model(job).
		Column("name", "processing_config", "processing_options").
		Set("updated_at = now()").
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update bulk job", slog.String("bulk_job_id", job.ID), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// MarkRunning performs pending → running. started_at is written once,
// on the first start ever.
func (r *Repository) MarkRunning(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusPending}, StatusRunning,
		"started_at = COALESCE(started_at, now())")
}

// MarkPaused performs running → paused.
func (r *Repository) MarkPaused(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusRunning}, StatusPaused)
}

// MarkResumed performs paused → running.
func (r *Repository) MarkResumed(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusPaused}, StatusRunning)
}

// MarkStopped performs {running, paused} → stopped.
func (r *Repository) MarkStopped(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusRunning, StatusPaused}, StatusStopped)
}

// MarkCompleted performs running → completed. Discovery uses it for
// empty sources; the reconciler sweep handles everything else.
func (r *Repository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusRunning}, StatusCompleted,
		"completed_at = now()")
}

// MarkFailed performs running → failed, recording when processing ended.
// Only a failed discovery fails a whole job.
func (r *Repository) MarkFailed(ctx context.Context, id string) (bool, error) {
	return r.guardedTransition(ctx, id, []string{StatusRunning}, StatusFailed,
		"completed_at = now()")
}

// guardedTransition updates status iff the job is in one of the from
// states. The predicate makes concurrent lifecycle calls collapse to
// one winner.
func (r *Repository) guardedTransition(ctx context.Context, id string, from []string, to string, extraSets ...string) (bool, error) {
	q := r.db.NewUpdate().
		Model((*BulkJob)(nil)).
		Set("status = ?", to).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
	for _, set := range extraSets {
		q = q.Set(set)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

// CompleteFinishedJobs flips every running job whose terminal-document
// count has reached its total (and total > 0) to completed. Returns the
// completed job IDs.
func (r *Repository) CompleteFinishedJobs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewRaw(`
		UPDATE ext.bulk_jobs bj
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE bj.status = 'running'
			AND bj.total_documents > 0
			AND bj.total_documents = (
				SELECT COUNT(*) FROM ext.documents d
				WHERE d.job_id = bj.id
					AND d.status IN ('completed', 'failed', 'needs_review')
			)
		RETURNING bj.id`).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("complete finished jobs: %w", err)
	}

	if len(ids) > 0 {
		r.log.Info("reconciler completed jobs", slog.Int("count", len(ids)))
	}
	return ids, nil
}

// RunningJobIDs returns the ids of every running job, for the
// reconciler's task-healing pass.
func (r *Repository) RunningJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.NewSelect().
		Model((*BulkJob)(nil)).
		Column("id").
		Where("status = ?", StatusRunning).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	return ids, nil
}

// AddDiscoveredDocuments bumps total_documents after a discovery batch.
func (r *Repository) AddDiscoveredDocuments(ctx context.Context, id string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*BulkJob)(nil)).
		Set("total_documents = total_documents + ?", n).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add discovered documents: %w", err)
	}
	return nil
}

// SetTotalDocuments pins total_documents, for the pre-uploaded start
// path where the documents already exist.
func (r *Repository) SetTotalDocuments(ctx context.Context, id string, total int) error {
	_, err := r.db.NewUpdate().
		Model((*BulkJob)(nil)).
		Set("total_documents = ?", total).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set total documents: %w", err)
	}
	return nil
}

// RecountProgress recomputes the processed and failed counters from the
// document rows. Workers call it after each terminal transition; a
// recount never drifts the way increments do under retries.
func (r *Repository) RecountProgress(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ext.bulk_jobs
		SET processed_documents = (
				SELECT COUNT(*) FROM ext.documents
				WHERE job_id = $1 AND status IN ('completed', 'needs_review')
			),
			failed_documents = (
				SELECT COUNT(*) FROM ext.documents
				WHERE job_id = $1 AND status = 'failed'
			),
			updated_at = now()
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("recount job progress: %w", err)
	}
	return nil
}

// DeleteCascade removes a job and everything it owns in one
// transaction: transcripts, fields, review items, processing logs,
// broker tasks, documents, then the job itself.
func (r *Repository) DeleteCascade(ctx context.Context, id string) error {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback()

	deletes := []struct {
		what string
		sql  string
	}{
		{"transcripts", `DELETE FROM ext.document_transcripts WHERE document_id IN (SELECT id FROM ext.documents WHERE job_id = ?)`},
		{"fields", `DELETE FROM ext.extracted_fields WHERE job_id = ?`},
		{"review items", `DELETE FROM ext.review_queue_items WHERE job_id = ?`},
		{"processing logs", `DELETE FROM ext.processing_logs WHERE job_id = ?`},
		{"discovery tasks", `DELETE FROM ext.discovery_tasks WHERE job_id = ?`},
		{"extraction tasks", `DELETE FROM ext.extraction_tasks WHERE job_id = ?`},
		{"documents", `DELETE FROM ext.documents WHERE job_id = ?`},
	}
	for _, d := range deletes {
		if _, err := tx.ExecContext(ctx, d.sql, id); err != nil {
			r.log.Error("cascade delete failed",
				slog.String("bulk_job_id", id), slog.String("step", d.what), logger.Error(err))
			return apperror.ErrDatabase.WithInternal(err)
		}
	}

	result, err := tx.NewDelete().
		Model((*BulkJob)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return apperror.NewNotFound("bulk job", id)
	}

	if err := tx.Commit(); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	r.log.Info("bulk job deleted", slog.String("bulk_job_id", id))
	return nil
}

// AppendLog records one processing log line. Log writes are advisory;
// callers treat failures as non-fatal.
func (r *Repository) AppendLog(ctx context.Context, entry *ProcessingLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().
		Model(entry).
		ExcludeColumn("created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}

