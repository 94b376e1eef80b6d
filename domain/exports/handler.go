package exports

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/mathutil"
)

const (
	defaultPreviewLimit = 10
	maxPreviewLimit     = 500
)

// Handler handles export HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new exports handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("exports.handler")),
	}
}

// ExportCSV streams the granular per-field table as a CSV attachment.
//
// @Summary      Export job results as CSV
// @Description  One row per extracted field, across all documents in the job.
// @Tags         exports
// @Produce      text/csv
// @Param        id path string true "Bulk job ID"
// @Success      200 {file} file "CSV attachment"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id}/export/csv [get]
func (h *Handler) ExportCSV(c echo.Context) error {
	job, data, err := h.svc.FieldCSV(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	w := &CSVWriter{}
	filename := fmt.Sprintf("%s_fields.%s", storage.SanitizeFilename(job.Name), w.Extension())
	return h.respondFile(c, w, data, filename)
}

// ExportExcel streams an XLSX workbook of the job results.
//
// @Summary      Export job results as an Excel workbook
// @Description  format=summary gives one row per document; format=pivoted turns field names into columns.
// @Tags         exports
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        id path string true "Bulk job ID"
// @Param        format query string false "summary (default) or pivoted"
// @Success      200 {file} file "XLSX attachment"
// @Failure      400 {object} apperror.Error "Unknown format"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id}/export/excel [get]
func (h *Handler) ExportExcel(c echo.Context) error {
	format := c.QueryParam("format")
	job, data, sheet, err := h.svc.ExcelTable(c.Request().Context(), c.Param("id"), format)
	if err != nil {
		return err
	}

	if format == "" {
		format = FormatSummary
	}
	w := &ExcelWriter{SheetName: sheet}
	filename := fmt.Sprintf("%s_%s.%s", storage.SanitizeFilename(job.Name), format, w.Extension())
	return h.respondFile(c, w, data, filename)
}

// Preview returns the first rows of the pivoted export as JSON.
//
// @Summary      Preview job export
// @Description  Returns the first N rows of the pivoted table without generating a file.
// @Tags         exports
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Param        limit query int false "Maximum rows to return (default 10, max 500)"
// @Success      200 {object} PreviewResult
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id}/export/preview [get]
func (h *Handler) Preview(c echo.Context) error {
	limit := defaultPreviewLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.ErrBadRequest.WithMessage("limit must be a positive integer")
		}
		limit = mathutil.ClampInt(n, 1, maxPreviewLimit)
	}

	result, err := h.svc.Preview(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ExportTemplate streams a template-shaped export of the job results.
//
// @Summary      Export job results through a mapping template
// @Description  One row per completed document, columns as defined by the template. The expand parameter names a column whose array-valued field produces one row per element.
// @Tags         exports
// @Produce      text/csv
// @Param        jobId path string true "Bulk job ID"
// @Param        template_id query string true "Template ID"
// @Param        expand query string false "Column to expand into per-element rows"
// @Param        format query string false "csv (default) or excel"
// @Success      200 {file} file "Attachment"
// @Failure      400 {object} apperror.Error "Missing template_id or unknown format"
// @Failure      404 {object} apperror.Error "Job or template not found"
// @Router       /templates/export/{jobId} [post]
func (h *Handler) ExportTemplate(c echo.Context) error {
	templateID := c.QueryParam("template_id")
	if templateID == "" {
		return apperror.ErrBadRequest.WithMessage("template_id is required")
	}

	var w TabularWriter
	switch c.QueryParam("format") {
	case "", "csv":
		w = &CSVWriter{}
	case "excel":
		w = &ExcelWriter{SheetName: "Export"}
	default:
		return apperror.ErrBadRequest.WithMessage("format must be csv or excel")
	}

	job, t, data, err := h.svc.TemplateTable(c.Request().Context(), c.Param("jobId"), templateID, c.QueryParam("expand"))
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s_%s.%s",
		storage.SanitizeFilename(job.Name), storage.SanitizeFilename(t.Name), w.Extension())
	return h.respondFile(c, w, data, filename)
}

// respondFile renders the table into memory first so a writer failure
// can still surface as a 500 instead of a truncated download.
func (h *Handler) respondFile(c echo.Context, w TabularWriter, data *TableData, filename string) error {
	var buf bytes.Buffer
	if err := w.Write(&buf, data); err != nil {
		h.log.Error("failed to render export",
			slog.String("filename", filename),
			slog.Any("error", err),
		)
		return apperror.NewInternal("failed to render export", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, w.ContentType(), buf.Bytes())
}
