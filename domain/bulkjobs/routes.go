package bulkjobs

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers bulk job endpoints
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/bulk-jobs")

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	g.POST("/:id/start", h.Start)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/stop", h.Stop)

	// Static segment wins over :id in echo's router.
	g.POST("/reconcile", h.Reconcile)

	e.POST("/api/estimate", h.Estimate)
}
