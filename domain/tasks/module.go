// Package tasks brokers the Postgres-backed work queues that drive the
// pipeline: discovery tasks (one per job start) and extraction tasks
// (one per document). It exposes no routes; workers and the state
// manager call it directly and the metrics endpoint reads its stats.
package tasks

import (
	"go.uber.org/fx"
)

// Module provides the task broker service
var Module = fx.Module("tasks",
	fx.Provide(NewService),
)
