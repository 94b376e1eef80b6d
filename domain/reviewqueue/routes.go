package reviewqueue

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers review queue routes with the Echo router
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/review-queue")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
	g.POST("/:id/resolve", h.Resolve)
}
