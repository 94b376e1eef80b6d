package reviewqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/mathutil"
)

// Repository handles review queue database operations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new review queue repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("reviewqueue-repo")),
	}
}

// Enqueue records a document for manual review. The insert yields to an
// existing open item; a resolved item is reopened with the new run's
// reason and error instead.
func (r *Repository) Enqueue(ctx context.Context, item *ReviewQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	result, err := r.db.NewInsert().
		Model(item).
		ExcludeColumn("status", "notes", "tags", "resolved_at", "created_at", "updated_at").
		On("CONFLICT (document_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue review item: %w", err)
	}
	if inserted, _ := result.RowsAffected(); inserted == 1 {
		return nil
	}

	// The document already has an item. Reopen it if a reviewer had
	// resolved it; a still-open item keeps its state and notes.
	_, err = r.db.NewUpdate().
		Model((*ReviewQueueItem)(nil)).
		Set("status = ?", StatusPending).
		Set("reason = ?", item.Reason).
		Set("error_message = ?", item.ErrorMessage).
		Set("error_type = ?", item.ErrorType).
		Set("priority = ?", item.Priority).
		Set("resolved_at = NULL").
		Set("updated_at = now()").
		Where("document_id = ?", item.DocumentID).
		Where("status = ?", StatusResolved).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reopen review item: %w", err)
	}
	return nil
}

// Backfill inserts items for needs_review documents that have none,
// catching workers that crashed between the terminal transition and the
// enqueue. Returns the number of items created.
func (r *Repository) Backfill(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO ext.review_queue_items (document_id, job_id, reason, error_message, error_type, priority)
		SELECT d.id, d.job_id, $1, d.error_message, d.error_type, d.priority
		FROM ext.documents d
		WHERE d.status = $2
			AND NOT EXISTS (
				SELECT 1 FROM ext.review_queue_items rq
				WHERE rq.document_id = d.id
			)`, ReasonBackfill, documents.StatusNeedsReview)
	if err != nil {
		return 0, fmt.Errorf("backfill review queue: %w", err)
	}

	created, _ := result.RowsAffected()
	if created > 0 {
		r.log.Info("backfilled review queue", slog.Int64("created", created))
	}
	return created, nil
}

// List retrieves review items with offset pagination, optionally
// filtered by status and job. Highest-priority items come first.
func (r *Repository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, 100, 500)
	if params.Skip < 0 {
		params.Skip = 0
	}

	items := []*ReviewQueueItem{}
	q := r.db.NewSelect().
		Model(&items).
		Relation("Document")
	if params.Status != "" {
		q = q.Where("rqi.status = ?", params.Status)
	}
	if params.JobID != "" {
		q = q.Where("rqi.job_id = ?", params.JobID)
	}

	// Total count without pagination
	totalQ := r.db.NewSelect().
		Model((*ReviewQueueItem)(nil))
	if params.Status != "" {
		totalQ = totalQ.Where("status = ?", params.Status)
	}
	if params.JobID != "" {
		totalQ = totalQ.Where("job_id = ?", params.JobID)
	}
	total, err := totalQ.Count(ctx)
	if err != nil {
		r.log.Error("failed to count review items", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	err = q.Order("rqi.priority ASC", "rqi.created_at ASC").
		Limit(params.Limit).
		Offset(params.Skip).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list review items", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &ListResult{
		Items: items,
		Total: total,
		Skip:  params.Skip,
		Limit: params.Limit,
	}, nil
}

// GetByID retrieves a review item with its document attached.
func (r *Repository) GetByID(ctx context.Context, id string) (*ReviewQueueItem, error) {
	item := &ReviewQueueItem{}
	err := r.db.NewSelect().
		Model(item).
		Relation("Document").
		Where("rqi.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("review item", id)
		}
		r.log.Error("failed to get review item", slog.String("review_item_id", id), logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return item, nil
}

// SetInReview moves an item to in_review once its document's retry has
// been requeued.
func (r *Repository) SetInReview(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*ReviewQueueItem)(nil)).
		Set("status = ?", StatusInReview).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// MarkResolved closes an open item with the reviewer's notes. The
// predicate carries the rule, so concurrent resolves of the same item
// collapse to one. Returns false when the item was already resolved.
func (r *Repository) MarkResolved(ctx context.Context, id, notes string) (bool, error) {
	q := r.db.NewUpdate().
		Model((*ReviewQueueItem)(nil)).
		Set("status = ?", StatusResolved).
		Set("resolved_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status != ?", StatusResolved)
	if notes != "" {
		q = q.Set("notes = ?", notes)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected == 1, nil
}

// ResolveForDocument closes the document's open item after a retry run
// ends somewhere other than needs_review. Reviewer notes survive; the
// closing note only fills the gap when none were written. No-op for
// documents that never had an item.
func (r *Repository) ResolveForDocument(ctx context.Context, documentID, note string) error {
	_, err := r.db.NewUpdate().
		Model((*ReviewQueueItem)(nil)).
		Set("status = ?", StatusResolved).
		Set("notes = COALESCE(notes, ?)", note).
		Set("resolved_at = now()").
		Set("updated_at = now()").
		Where("document_id = ?", documentID).
		Where("status != ?", StatusResolved).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("resolve review item for document: %w", err)
	}
	return nil
}
