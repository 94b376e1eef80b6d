// Package extraction hosts the background workers that drive bulk jobs:
// discovery workers enumerate sources into registered documents, and
// extraction workers run the per-document vision pipeline from claim to
// persisted fields.
package extraction

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/syshealth"
)

// Module provides the discovery and extraction workers plus the system
// health monitor that backs adaptive concurrency scaling.
var Module = fx.Module("extraction",
	fx.Provide(
		provideHealthMonitor,
		provideWorkerScaler,
		NewDiscoveryWorker,
		NewExtractionWorker,
	),
	fx.Invoke(
		RegisterMonitorLifecycle,
		RegisterDiscoveryWorkerLifecycle,
		RegisterExtractionWorkerLifecycle,
	),
)

// provideHealthMonitor creates the system health monitor used for adaptive
// worker scaling.
func provideHealthMonitor(db bun.IDB, log *slog.Logger) syshealth.Monitor {
	return syshealth.NewMonitor(syshealth.DefaultConfig(), db, log)
}

// provideWorkerScaler creates the concurrency scaler for extraction workers.
func provideWorkerScaler(monitor syshealth.Monitor, cfg *config.Config) *syshealth.ConcurrencyScaler {
	return syshealth.NewConcurrencyScaler(
		monitor,
		"extraction",
		cfg.Extraction.AdaptiveScaling,
		cfg.Extraction.MinWorkerConcurrency,
		cfg.Extraction.WorkerConcurrency,
	)
}

// RegisterMonitorLifecycle starts metric collection with the app.
func RegisterMonitorLifecycle(lc fx.Lifecycle, monitor syshealth.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return monitor.Start()
		},
		OnStop: func(ctx context.Context) error {
			return monitor.Stop()
		},
	})
}

// RegisterDiscoveryWorkerLifecycle registers the discovery worker with fx lifecycle
func RegisterDiscoveryWorkerLifecycle(lc fx.Lifecycle, worker *DiscoveryWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Use context.Background() - fx lifecycle context has a 15s timeout
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}

// RegisterExtractionWorkerLifecycle registers the extraction worker with fx lifecycle
func RegisterExtractionWorkerLifecycle(lc fx.Lifecycle, worker *ExtractionWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Use context.Background() - fx lifecycle context has a 15s timeout
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
