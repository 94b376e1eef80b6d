package templates

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers template endpoints. The template export
// route lives with the export writers in domain/exports.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/templates")

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)

	g.POST("/apply/:jobId", h.Apply)
}
