package bulkjobs

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Handler handles bulk job HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new bulk jobs handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("bulkjobs.handler")),
	}
}

// Create registers a new bulk job.
//
// @Summary      Create a bulk job
// @Description  Creates a job in pending state. The source config is validated up front; processing is not started until the start endpoint is called.
// @Tags         bulk-jobs
// @Accept       json
// @Produce      json
// @Param        request body CreateJobRequest true "Job definition"
// @Success      201 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /bulk-jobs [post]
func (h *Handler) Create(c echo.Context) error {
	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	job, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, job)
}

// List returns one page of bulk jobs.
//
// @Summary      List bulk jobs
// @Description  Returns jobs newest first with offset pagination and an optional status filter.
// @Tags         bulk-jobs
// @Produce      json
// @Param        skip query int false "Rows to skip" default(0)
// @Param        limit query int false "Page size (max 500)" default(100)
// @Param        status query string false "Only jobs in this status"
// @Success      200 {object} ListResult
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /bulk-jobs [get]
func (h *Handler) List(c echo.Context) error {
	var params ListParams

	if skipStr := c.QueryParam("skip"); skipStr != "" {
		skip, err := parseBoundedInt(skipStr, 0, 1<<30)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("skip must be a non-negative integer")
		}
		params.Skip = skip
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := parseBoundedInt(limitStr, 1, 500)
		if err != nil {
			return apperror.ErrBadRequest.WithMessage("limit must be between 1 and 500")
		}
		params.Limit = limit
	}
	if status := c.QueryParam("status"); status != "" {
		if !validJobStatus(status) {
			return apperror.ErrBadRequest.WithMessage("unknown status")
		}
		params.StatusFilter = status
	}

	result, err := h.svc.List(c.Request().Context(), params)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Get returns a single bulk job.
//
// @Summary      Get a bulk job
// @Description  Returns a job with its progress counters and needs-review count.
// @Tags         bulk-jobs
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	job, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Update changes a job's name or processing settings.
//
// @Summary      Update a bulk job
// @Description  Updates the name anytime; processing settings only while the job is pending or paused. The source is immutable.
// @Tags         bulk-jobs
// @Accept       json
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Param        request body UpdateJobRequest true "Fields to update"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Failure      409 {object} apperror.Error "Job is processing"
// @Router       /bulk-jobs/{id} [put]
func (h *Handler) Update(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	var req UpdateJobRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	job, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Delete removes a job and all of its derived data.
//
// @Summary      Delete a bulk job
// @Description  Cancels pending tasks and deletes the job with its documents, transcripts, extracted fields, review items and logs in one transaction.
// @Tags         bulk-jobs
// @Param        id path string true "Bulk job ID"
// @Success      204 "Deleted"
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /bulk-jobs/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Start begins processing a pending job.
//
// @Summary      Start a bulk job
// @Description  Moves a pending job to running and enqueues discovery, or extraction directly when documents were uploaded beforehand.
// @Tags         bulk-jobs
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Failure      409 {object} apperror.Error "Job is not pending"
// @Router       /bulk-jobs/{id}/start [post]
func (h *Handler) Start(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	job, err := h.svc.Start(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Pause suspends a running job.
//
// @Summary      Pause a bulk job
// @Description  Suspends a running job. Documents already processing finish; nothing new starts until resume.
// @Tags         bulk-jobs
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Failure      409 {object} apperror.Error "Job is not running"
// @Router       /bulk-jobs/{id}/pause [post]
func (h *Handler) Pause(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	job, err := h.svc.Pause(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Resume continues a paused job.
//
// @Summary      Resume a bulk job
// @Description  Moves a paused job back to running and re-enqueues every document still waiting.
// @Tags         bulk-jobs
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Failure      409 {object} apperror.Error "Job is not paused"
// @Router       /bulk-jobs/{id}/resume [post]
func (h *Handler) Resume(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	job, err := h.svc.Resume(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Stop terminates a running or paused job.
//
// @Summary      Stop a bulk job
// @Description  Terminally stops a job and cancels its pending tasks. Documents already processing run to their natural end.
// @Tags         bulk-jobs
// @Produce      json
// @Param        id path string true "Bulk job ID"
// @Success      200 {object} BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      404 {object} apperror.Error "Job not found"
// @Failure      409 {object} apperror.Error "Job is not running or paused"
// @Router       /bulk-jobs/{id}/stop [post]
func (h *Handler) Stop(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid bulk job id")
	}

	job, err := h.svc.Stop(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// Estimate counts the documents a source would yield.
//
// @Summary      Estimate a source
// @Description  Validates the source and counts its documents, capped to keep remote listings cheap. At the cap the message reads "at least N documents".
// @Tags         bulk-jobs
// @Accept       json
// @Produce      json
// @Param        request body EstimateRequest true "Source to estimate"
// @Success      200 {object} EstimateResponse
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /estimate [post]
func (h *Handler) Estimate(c echo.Context) error {
	var req EstimateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	resp, err := h.svc.Estimate(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// Reconcile runs one maintenance sweep on demand.
//
// @Summary      Reconcile job state
// @Description  Completes finished jobs, reverts stalled documents, heals missing tasks, recovers stuck tasks and backfills the review queue.
// @Tags         bulk-jobs
// @Produce      json
// @Success      200 {object} ReconcileReport
// @Router       /bulk-jobs/reconcile [post]
func (h *Handler) Reconcile(c echo.Context) error {
	report, err := h.svc.Reconcile(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, report)
}

// validJobStatus reports whether s is a known job status.
func validJobStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// parseBoundedInt parses a string as an int and validates it's within bounds
func parseBoundedInt(s string, min, max int) (int, error) {
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
