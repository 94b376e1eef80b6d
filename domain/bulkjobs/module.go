// Package bulkjobs owns the bulk extraction job lifecycle: creation,
// the pending/running/paused/stopped state machine, progress counters,
// source estimation and the reconcile sweep that keeps job state
// consistent with document state.
package bulkjobs

import (
	"go.uber.org/fx"
)

// Module provides bulk job components
var Module = fx.Module("bulkjobs",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
