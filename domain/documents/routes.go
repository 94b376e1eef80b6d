package documents

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers document routes with the Echo router
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/bulk-jobs/:id/documents")
	g.GET("", h.List)
	g.POST("/:docId/retry", h.Retry)
}
