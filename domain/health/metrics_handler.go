package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/domain/scheduler"
	"github.com/veridoc-ai/veridoc/domain/tasks"
)

// MetricsHandler serves queue and scheduler metrics
type MetricsHandler struct {
	broker *tasks.Service
	sched  *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(broker *tasks.Service, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		broker: broker,
		sched:  sched,
	}
}

// QueueMetricsResponse reports per-queue task counts.
type QueueMetricsResponse struct {
	Queues    *tasks.QueueMetrics `json:"queues"`
	Timestamp string              `json:"timestamp"`
}

// JobMetrics returns the discovery and extraction queue counts.
//
// @Summary      Get task queue metrics
// @Description  Per-status task counts for the discovery and extraction queues.
// @Tags         health
// @Produce      json
// @Success      200 {object} QueueMetricsResponse
// @Router       /metrics/jobs [get]
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	metrics, err := h.broker.Metrics(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, QueueMetricsResponse{
		Queues:    metrics,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetricsResponse reports the scheduler's task registry.
type SchedulerMetricsResponse struct {
	Running bool                 `json:"running"`
	Tasks   []scheduler.TaskInfo `json:"tasks"`
}

// SchedulerMetrics returns the registered maintenance tasks and their
// next/previous run times.
//
// @Summary      Get scheduler metrics
// @Tags         health
// @Produce      json
// @Success      200 {object} SchedulerMetricsResponse
// @Router       /metrics/scheduler [get]
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, SchedulerMetricsResponse{
		Running: h.sched.IsRunning(),
		Tasks:   h.sched.GetTaskInfo(),
	})
}
