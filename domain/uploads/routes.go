package uploads

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers upload endpoints.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.POST("/api/upload-files", h.UploadFiles)
	e.POST("/api/create-job-with-files", h.CreateJobWithFiles)
}
