package exports

import (
	"context"
	"log/slog"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/templates"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Excel export formats.
const (
	FormatSummary = "summary"
	FormatPivoted = "pivoted"
)

// PreviewResult is the JSON preview of the pivoted export.
type PreviewResult struct {
	Headers   []string            `json:"headers"`
	Rows      []map[string]string `json:"rows"`
	TotalRows int                 `json:"total_rows"`
	Truncated bool                `json:"truncated"`
}

// Service assembles and serves tabular exports of job results.
type Service struct {
	jobs      *bulkjobs.Service
	templates *templates.Service
	assembler *Assembler
	log       *slog.Logger
}

// NewService creates a new exports service
func NewService(jobs *bulkjobs.Service, tmpl *templates.Service, assembler *Assembler, log *slog.Logger) *Service {
	return &Service{
		jobs:      jobs,
		templates: tmpl,
		assembler: assembler,
		log:       log.With(logger.Scope("exports")),
	}
}

// FieldCSV assembles the granular per-field table for a job.
func (s *Service) FieldCSV(ctx context.Context, jobID string) (*bulkjobs.BulkJob, *TableData, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.assembler.FieldTable(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, data, nil
}

// ExcelTable assembles the requested workbook table. The summary format
// is one row per document; pivoted turns field names into columns.
func (s *Service) ExcelTable(ctx context.Context, jobID, format string) (*bulkjobs.BulkJob, *TableData, string, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, "", err
	}

	switch format {
	case "", FormatSummary:
		data, err := s.assembler.SummaryTable(ctx, jobID)
		if err != nil {
			return nil, nil, "", err
		}
		return job, data, "Documents", nil
	case FormatPivoted:
		data, err := s.assembler.PivotedTable(ctx, jobID)
		if err != nil {
			return nil, nil, "", err
		}
		return job, data, "Fields", nil
	default:
		return nil, nil, "", apperror.ErrBadRequest.WithMessage("format must be summary or pivoted")
	}
}

// Preview returns the first rows of the pivoted export as JSON objects.
func (s *Service) Preview(ctx context.Context, jobID string, limit int) (*PreviewResult, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	data, err := s.assembler.PivotedTable(ctx, jobID)
	if err != nil {
		return nil, err
	}

	total := len(data.Rows)
	rows := data.Rows
	truncated := false
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}

	result := &PreviewResult{
		Headers:   data.Headers,
		Rows:      make([]map[string]string, 0, len(rows)),
		TotalRows: total,
		Truncated: truncated,
	}
	for _, row := range rows {
		obj := make(map[string]string, len(data.Headers))
		for i, h := range data.Headers {
			if i < len(row) {
				obj[h] = row[i]
			}
		}
		result.Rows = append(result.Rows, obj)
	}
	return result, nil
}

// TemplateTable assembles the template-shaped export for a job.
func (s *Service) TemplateTable(ctx context.Context, jobID, templateID, expandColumn string) (*bulkjobs.BulkJob, *templates.MappingTemplate, *TableData, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return nil, nil, nil, err
	}
	data, err := s.assembler.TemplateTable(ctx, jobID, t, expandColumn)
	if err != nil {
		return nil, nil, nil, err
	}
	s.log.Info("template export assembled",
		"bulk_job_id", jobID,
		"template_id", templateID,
		"rows", len(data.Rows))
	return job, t, data, nil
}
