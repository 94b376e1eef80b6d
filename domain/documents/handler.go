package documents

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Handler handles document HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new documents handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("documents.handler")),
	}
}

// List returns one page of a bulk job's documents.
//
// @Summary      List a bulk job's documents
// @Description  Returns documents in discovery order with offset pagination and an optional status filter.
// @Tags         documents
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Param        skip query int false "Rows to skip" default(0)
// @Param        limit query int false "Page size (max 500)" default(100)
// @Param        status_filter query string false "Only documents in this status"
// @Success      200 {object} ListResult
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id}/documents [get]
func (h *Handler) List(c echo.Context) error {
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	params := ListParams{JobID: jobID}

	if skipStr := c.QueryParam("skip"); skipStr != "" {
		skip, err := parsePositiveInt(skipStr, 0, 1<<30)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("skip must be a non-negative integer")
		}
		params.Skip = skip
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := parsePositiveInt(limitStr, 1, 500)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("limit must be between 1 and 500")
		}
		params.Limit = limit
	}
	if status := c.QueryParam("status_filter"); status != "" {
		if !validStatusFilter(status) {
			return apperror.ErrBadRequest.WithMessage("unknown status_filter")
		}
		params.StatusFilter = status
	}

	result, err := h.svc.List(c.Request().Context(), params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Retry requeues a failed or needs-review document.
//
// @Summary      Retry a document
// @Description  Moves a failed or needs_review document back to queued, charges one retry and enqueues it immediately. Rejected with 409 when the retry budget is exhausted or the job is not running or completed.
// @Tags         documents
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Param        docId path string true "Document ID"
// @Success      200 {object} Document
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Not found"
// @Failure      409 {object} apperror.Error "Not retryable"
// @Router       /bulk-jobs/{id}/documents/{docId}/retry [post]
func (h *Handler) Retry(c echo.Context) error {
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}
	documentID := c.Param("docId")
	if _, err := uuid.Parse(documentID); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid document id")
	}

	doc, err := h.svc.Retry(c.Request().Context(), jobID, documentID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, doc)
}

// validStatusFilter reports whether s is a known document status.
func validStatusFilter(s string) bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing,
		StatusCompleted, StatusFailed, StatusNeedsReview:
		return true
	}
	return false
}

// parsePositiveInt parses a string as an int and validates it's within bounds
func parsePositiveInt(s string, min, max int) (int, error) {
	if s == "" {
		return 0, apperror.ErrBadRequest
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, apperror.ErrBadRequest
		}
		n = n*10 + int(c-'0')
		if n > max {
			return 0, apperror.ErrBadRequest
		}
	}
	if n < min {
		return 0, apperror.ErrBadRequest
	}
	return n, nil
}
