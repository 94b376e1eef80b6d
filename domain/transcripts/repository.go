package transcripts

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Repository persists document transcripts.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new transcripts repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("transcripts-repo")),
	}
}

// Upsert writes the transcript for a document, replacing any previous
// run's transcript. Retried extractions overwrite rather than duplicate.
func (r *Repository) Upsert(ctx context.Context, t *DocumentTranscript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := r.db.NewInsert().
		Model(t).
		ExcludeColumn("created_at", "updated_at").
		On("CONFLICT (document_id) DO UPDATE").
		Set("full_transcript = EXCLUDED.full_transcript").
		Set("page_transcripts = EXCLUDED.page_transcripts").
		Set("section_index = EXCLUDED.section_index").
		Set("field_locations = EXCLUDED.field_locations").
		Set("total_pages = EXCLUDED.total_pages").
		Set("total_sections = EXCLUDED.total_sections").
		Set("generation_time_ms = EXCLUDED.generation_time_ms").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert transcript",
			slog.String("document_id", t.DocumentID),
			logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetByDocumentID loads the transcript for a document.
func (r *Repository) GetByDocumentID(ctx context.Context, documentID string) (*DocumentTranscript, error) {
	t := new(DocumentTranscript)
	err := r.db.NewSelect().
		Model(t).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("transcript", documentID)
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return t, nil
}
