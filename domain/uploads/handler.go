package uploads

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Handler handles upload HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new uploads handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("uploads.handler")),
	}
}

// UploadFiles stores a batch of documents in an upload session.
//
// @Summary      Upload documents
// @Description  Multipart upload under the "files" field. Files land in an object-store session; pass session_id to append to an existing one. Per-file failures are reported in the response, not as request errors.
// @Tags         uploads
// @Accept       multipart/form-data
// @Produce      json
// @Param        files formData file true "Documents to upload"
// @Param        session_id formData string false "Existing session to append to"
// @Success      200 {object} UploadResult
// @Failure      400 {object} apperror.Error "Bad request"
// @Failure      503 {object} apperror.Error "Storage not configured"
// @Router       /upload-files [post]
func (h *Handler) UploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid multipart form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return apperror.ErrBadRequest.WithMessage("at least one file is required")
	}
	if len(files) > MaxUploadFiles {
		return apperror.ErrBadRequest.WithMessage(fmt.Sprintf("maximum %d files allowed per upload", MaxUploadFiles))
	}

	sessionID := ""
	if values := form.Value["session_id"]; len(values) > 0 {
		sessionID = values[0]
	}

	result, err := h.svc.UploadFiles(c.Request().Context(), sessionID, files)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// CreateJobWithFiles creates a bulk job over an upload session.
//
// @Summary      Create a job from uploaded files
// @Description  Creates a pending object-store job bound to the session prefix. Start it with POST /bulk-jobs/{id}/start; discovery is skipped for already-registered documents.
// @Tags         uploads
// @Accept       json
// @Produce      json
// @Param        request body CreateJobWithFilesRequest true "Job definition"
// @Success      201 {object} bulkjobs.BulkJob
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /create-job-with-files [post]
func (h *Handler) CreateJobWithFiles(c echo.Context) error {
	var req CreateJobWithFilesRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	job, err := h.svc.CreateJobWithFiles(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, job)
}
