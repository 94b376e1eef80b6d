package reviewqueue

import (
	"context"
	"log/slog"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Service handles review queue business logic
type Service struct {
	repo      *Repository
	documents *documents.Service
	log       *slog.Logger
}

// NewService creates a new review queue service
func NewService(repo *Repository, docSvc *documents.Service, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		documents: docSvc,
		log:       log.With(logger.Scope("reviewqueue")),
	}
}

// List retrieves review items with pagination and filtering.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.repo.List(ctx, params)
}

// Get retrieves one review item with its document and the fields
// flagged for manual review.
func (s *Service) Get(ctx context.Context, id string) (*ItemDetail, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fields, err := s.documents.FieldsForDocument(ctx, item.DocumentID)
	if err != nil {
		return nil, err
	}

	return &ItemDetail{
		Item:          item,
		FlaggedFields: flaggedFields(fields),
	}, nil
}

// Enqueue records a document for manual review. The extraction worker
// calls this whenever a run ends in needs_review.
func (s *Service) Enqueue(ctx context.Context, item *ReviewQueueItem) error {
	if item.Reason == "" {
		item.Reason = ReasonFlaggedFields
	}
	return s.repo.Enqueue(ctx, item)
}

// Retry requeues the item's document for another extraction attempt and
// moves the item to in_review. The item is closed automatically when
// the retry finishes clean, or reopened with fresh errors when it flags
// fields again.
func (s *Service) Retry(ctx context.Context, id string) (*ReviewQueueItem, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.IsOpen() {
		return nil, apperror.NewIllegalTransition("review item", item.Status, "retry")
	}

	if _, err := s.documents.Retry(ctx, item.JobID, item.DocumentID); err != nil {
		return nil, err
	}

	if err := s.repo.SetInReview(ctx, item.ID); err != nil {
		return nil, err
	}

	s.log.Info("review item retried",
		slog.String("review_item_id", id),
		slog.String("document_id", item.DocumentID))

	return s.repo.GetByID(ctx, id)
}

// Resolve closes an open item with the reviewer's notes.
func (s *Service) Resolve(ctx context.Context, id, notes string) (*ReviewQueueItem, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.IsOpen() {
		return nil, apperror.NewIllegalTransition("review item", item.Status, "resolve")
	}

	resolved, err := s.repo.MarkResolved(ctx, id, notes)
	if err != nil {
		return nil, err
	}
	if !resolved {
		// Lost the race with another resolver.
		return nil, apperror.NewIllegalTransition("review item", StatusResolved, "resolve")
	}

	s.log.Info("review item resolved",
		slog.String("review_item_id", id),
		slog.String("document_id", item.DocumentID))

	return s.repo.GetByID(ctx, id)
}

// ResolveForDocument closes the document's open item after a retry run
// ends somewhere other than needs_review.
func (s *Service) ResolveForDocument(ctx context.Context, documentID, note string) error {
	return s.repo.ResolveForDocument(ctx, documentID, note)
}

// Backfill enqueues every needs_review document missing a queue item.
// The reconciler runs this on its cadence.
func (s *Service) Backfill(ctx context.Context) (int64, error) {
	return s.repo.Backfill(ctx)
}

// flaggedFields keeps only the fields a reviewer has to look at.
func flaggedFields(fields []*documents.ExtractedField) []*documents.ExtractedField {
	flagged := make([]*documents.ExtractedField, 0, len(fields))
	for _, f := range fields {
		if f.NeedsManualReview {
			flagged = append(flagged, f)
		}
	}
	return flagged
}
