package reviewqueue

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Handler handles review queue HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new review queue handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("reviewqueue.handler")),
	}
}

// List returns one page of the review queue.
//
// @Summary      List review items
// @Description  Returns review items with the highest priority first, optionally filtered by status and bulk job.
// @Tags         review-queue
// @Produce      json
// @Param        status query string false "Only items in this status (pending, in_review, resolved)"
// @Param        job_id query string false "Only items of this bulk job"
// @Param        skip query int false "Rows to skip" default(0)
// @Param        limit query int false "Page size (max 500)" default(100)
// @Success      200 {object} ListResult
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /review-queue [get]
func (h *Handler) List(c echo.Context) error {
	params := ListParams{}

	if status := c.QueryParam("status"); status != "" {
		if !validStatus(status) {
			return apperror.ErrBadRequest.WithMessage("unknown status")
		}
		params.Status = status
	}
	if jobID := c.QueryParam("job_id"); jobID != "" {
		if _, err := uuid.Parse(jobID); err != nil {
			return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
		}
		params.JobID = jobID
	}
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

	result, err := h.svc.List(c.Request().Context(), params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Get returns one review item with its document and flagged fields.
//
// @Summary      Get a review item
// @Tags         review-queue
// @Produce      json
// @Param        id path string true "Review item ID"
// @Success      200 {object} ItemDetail
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Item not found"
// @Router       /review-queue/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid review item id")
	}

	detail, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, detail)
}

// Retry requeues the item's document for another extraction attempt.
//
// @Summary      Retry a review item's document
// @Description  Moves the document back to queued and the item to in_review. Rejected with 409 when the item is resolved, the document's retry budget is exhausted, or the job is not running or completed.
// @Tags         review-queue
// @Produce      json
// @Param        id path string true "Review item ID"
// @Success      200 {object} ReviewQueueItem
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Item not found"
// @Failure      409 {object} apperror.Error "Not retryable"
// @Router       /review-queue/{id}/retry [post]
func (h *Handler) Retry(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid review item id")
	}

	item, err := h.svc.Retry(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, item)
}

// Resolve closes an open review item.
//
// @Summary      Resolve a review item
// @Description  Marks the item resolved with optional reviewer notes. Rejected with 409 when the item is already resolved.
// @Tags         review-queue
// @Accept       json
// @Produce      json
// @Param        id path string true "Review item ID"
// @Param        request body ResolveRequest false "Reviewer notes"
// @Success      200 {object} ReviewQueueItem
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Item not found"
// @Failure      409 {object} apperror.Error "Already resolved"
// @Router       /review-queue/{id}/resolve [post]
func (h *Handler) Resolve(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid review item id")
	}

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	item, err := h.svc.Resolve(c.Request().Context(), id, req.Notes)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, item)
}

// validStatus reports whether s is a known review item status.
func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusInReview, StatusResolved:
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
