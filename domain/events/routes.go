package events

import "github.com/labstack/echo/v4"

// RegisterRoutes registers the WebSocket event gateway.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/ws/bulk-jobs/:id", h.StreamJobEvents)
}
