package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/pgutils"
)

// Repository handles mapping template database operations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new templates repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("templates-repo")),
	}
}

func (r *Repository) Create(ctx context.Context, t *MappingTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := r.db.NewInsert().
		Model(t).
		ExcludeColumn("created_at", "updated_at").
		Returning("created_at, updated_at").
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.New(http.StatusConflict, "template_exists", fmt.Sprintf("A template named %q already exists", t.Name))
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*MappingTemplate, error) {
	t := &MappingTemplate{}
	err := r.db.NewSelect().
		Model(t).
		Where("mt.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("template", id)
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return t, nil
}

// List returns templates newest first, optionally filtered by document
// type. Defaults sort ahead of user templates within a day.
func (r *Repository) List(ctx context.Context, documentType string) ([]*MappingTemplate, error) {
	templates := []*MappingTemplate{}
	q := r.db.NewSelect().
		Model(&templates).
		Order("mt.is_default DESC", "mt.created_at DESC")
	if documentType != "" {
		q = q.Where("mt.document_type = ?", documentType)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return templates, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*MappingTemplate)(nil)).
		Where("mt.id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperror.NewNotFound("template", id)
	}
	return nil
}

// SeedDefault inserts a built-in template, yielding to any existing row
// with the same name so reseeding at startup is idempotent and never
// clobbers user edits. Reports whether a row was written.
func (r *Repository) SeedDefault(ctx context.Context, t *MappingTemplate) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.IsDefault = true
	result, err := r.db.NewInsert().
		Model(t).
		ExcludeColumn("created_at", "updated_at").
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("seed template %q: %w", t.Name, err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}
