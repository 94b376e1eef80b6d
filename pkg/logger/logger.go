// Package logger provides the process-wide structured logger.
//
// Log level is controlled by LOG_LEVEL (debug, info, warn, error) and the
// output format switches to JSON when GO_ENV=production so log collectors
// can ingest it directly.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
)

// Module provides the application logger and the HTTP access logger.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)

// NewLogger builds the root slog.Logger from the environment.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope tags a log line with the subsystem it came from.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error wraps err as a log attribute under the "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// HTTPLogger writes one line per completed request to a dedicated access
// log file. When HTTP_LOG_FILE is unset it is a no-op so local runs stay
// quiet; the main logger still records requests.
type HTTPLogger struct {
	log *slog.Logger
}

// NewHTTPLogger opens the access log file named by HTTP_LOG_FILE.
func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		return &HTTPLogger{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn("http access log disabled", slog.String("path", path), Error(err))
		return &HTTPLogger{}
	}

	return &HTTPLogger{log: slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// LogRequest records a completed HTTP request.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if h.log == nil {
		return
	}
	h.log.Info("request",
		slog.String("ip", ip),
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("user_agent", userAgent),
		slog.String("request_id", requestID),
	)
}
