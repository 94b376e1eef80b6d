// Package main provides the entry point for the VeriDoc API server
//
// @title VeriDoc API
// @version 1.0
// @description Bulk document extraction service - discovers documents from a source, runs vision extraction and serves review and export APIs
// @contact.name VeriDoc Team
// @host localhost:5300
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/events"
	"github.com/veridoc-ai/veridoc/domain/exports"
	"github.com/veridoc-ai/veridoc/domain/extraction"
	"github.com/veridoc-ai/veridoc/domain/health"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/scheduler"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/domain/templates"
	"github.com/veridoc-ai/veridoc/domain/tracing"
	"github.com/veridoc-ai/veridoc/domain/transcripts"
	"github.com/veridoc-ai/veridoc/domain/uploads"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/database"
	"github.com/veridoc-ai/veridoc/internal/server"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/encryption"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/prompts"
	"github.com/veridoc-ai/veridoc/pkg/raster"
	"github.com/veridoc-ai/veridoc/pkg/vision"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local") // Overload ensures local values take precedence

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		tracing.Module,
		encryption.Module,
		storage.Module,

		// Model-facing building blocks: PDF rasterization, prompt
		// templates and the vision client
		raster.Module,
		prompts.Module,
		vision.Module,

		// Domain modules
		health.Module,
		events.Module,
		documents.Module,
		transcripts.Module,
		bulkjobs.Module,
		tasks.Module,
		reviewqueue.Module,
		templates.Module,
		exports.Module,
		uploads.Module,

		// Extraction module (background workers for discovery and
		// per-document vision extraction)
		extraction.Module,

		// Scheduler module (cron-based maintenance tasks)
		scheduler.Module,
	).Run()
}
