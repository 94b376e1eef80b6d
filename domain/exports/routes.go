package exports

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers export endpoints under both the bulk-jobs
// and templates prefixes.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	jobs := e.Group("/api/bulk-jobs/:id/export")
	jobs.GET("/csv", h.ExportCSV)
	jobs.GET("/excel", h.ExportExcel)
	jobs.GET("/preview", h.Preview)

	e.POST("/api/templates/export/:jobId", h.ExportTemplate)
}
