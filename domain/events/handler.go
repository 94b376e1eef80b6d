package events

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long we tolerate silence from the client.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxClientMessageSize bounds inbound frames; clients only need to
	// hold the socket open, they never send payloads we act on.
	maxClientMessageSize = 512
)

// Handler upgrades HTTP connections to WebSocket and streams job events.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new events handler.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("events.handler")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API runs without authentication behind a trusted
			// boundary, so cross-origin dashboards may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// StreamJobEvents streams live extraction progress for one bulk job.
//
// @Summary      Stream bulk job events over WebSocket
// @Description  Upgrades to a WebSocket and pushes document_started, field_extracted, document_completed and document_failed events for the given job. The first frame is always a "connected" event.
// @Tags         events
// @Param        id path string true "Bulk job ID"
// @Success      101 {string} string "Switching Protocols"
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /ws/bulk-jobs/{id} [get]
func (h *Handler) StreamJobEvents(c echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return apperror.NewBadRequest("job id is required")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return apperror.NewBadRequest("job id must be a valid UUID")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.Warn("websocket upgrade failed",
			slog.String("job_id", jobID),
			logger.Error(err))
		return nil
	}
	defer conn.Close()

	log := h.log.With(
		slog.String("job_id", jobID),
		slog.String("remote", conn.RemoteAddr().String()),
	)
	log.Info("websocket client connected")

	// All writes (events, pings, close frames) share one mutex because
	// gorilla connections allow at most one concurrent writer.
	var writeMu sync.Mutex
	writeJSON := func(ev Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(ev)
	}

	// Handshake frame before subscribing so the client can tell "no
	// events yet" apart from "not attached yet".
	if err := writeJSON(newConnected(jobID)); err != nil {
		log.Warn("failed to send connected frame", logger.Error(err))
		return nil
	}

	// closed signals the ping loop and the subscription callback that
	// the connection is going away.
	closed := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func() { closeOnce.Do(func() { close(closed) }) }

	unsubscribe := h.svc.Subscribe(jobID, func(ev Event) {
		select {
		case <-closed:
			return
		default:
		}
		if err := writeJSON(ev); err != nil {
			shutdown()
		}
	})
	defer unsubscribe()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
				if err != nil {
					shutdown()
					return
				}
			case <-closed:
				return
			}
		}
	}()

	// The read loop exists to detect disconnects and answer pings;
	// inbound payloads are ignored.
	conn.SetReadLimit(maxClientMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	shutdown()

	log.Info("websocket client disconnected")
	return nil
}
