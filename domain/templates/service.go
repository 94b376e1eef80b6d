package templates

import (
	"context"
	"log/slog"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Service owns mapping template CRUD, startup seeding and job-level
// template application.
type Service struct {
	repo *Repository
	jobs *bulkjobs.Service
	docs *documents.Repository
	log  *slog.Logger
}

// NewService creates a new templates service
func NewService(repo *Repository, jobs *bulkjobs.Service, docs *documents.Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		jobs: jobs,
		docs: docs,
		log:  log.With(logger.Scope("templates")),
	}
}

func (s *Service) Create(ctx context.Context, req CreateTemplateRequest) (*MappingTemplate, error) {
	t := &MappingTemplate{
		Name:         req.Name,
		DocumentType: req.DocumentType,
		Description:  req.Description,
		Columns:      req.Columns,
		CreatedBy:    req.CreatedBy,
	}
	if err := t.Validate(); err != nil {
		return nil, apperror.ErrBadRequest.WithMessage(err.Error())
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("template created", "template_id", t.ID, "name", t.Name, "columns", len(t.Columns))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*MappingTemplate, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, documentType string) ([]*MappingTemplate, error) {
	return s.repo.List(ctx, documentType)
}

// Delete removes a user template. Built-in templates are immutable;
// deleting one would just resurrect it at the next startup.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.IsDefault {
		return apperror.ErrBadRequest.WithMessage("built-in templates cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("template deleted", "template_id", id, "name", t.Name)
	return nil
}

// Apply resolves a template against a job's extracted fields and
// returns the mapping report. Resolution runs over the union of the
// job's fields: a column maps if any document carries a matching
// field. Per-document resolution happens again at export time.
func (s *Service) Apply(ctx context.Context, jobID, templateID string) (*Resolution, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	t, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	fields, err := s.docs.ListFieldsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	res := Resolve(t, fields)
	if len(fields) == 0 {
		res.Warnings = append(res.Warnings, "job has no extracted fields yet")
	}
	s.log.Info("template applied",
		"template_id", templateID,
		"bulk_job_id", jobID,
		"mapped", res.MappedColumns,
		"unmapped", res.UnmappedColumns)
	return res, nil
}

// SeedDefaults writes the embedded built-in templates that are not
// already present. Runs at startup; reports how many were created.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	defaults, err := defaultTemplates()
	if err != nil {
		return 0, err
	}
	seeded := 0
	for _, t := range defaults {
		created, err := s.repo.SeedDefault(ctx, t)
		if err != nil {
			return seeded, err
		}
		if created {
			seeded++
		}
	}
	if seeded > 0 {
		s.log.Info("seeded built-in templates", "count", seeded)
	}
	return seeded, nil
}
