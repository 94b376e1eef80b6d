// Package events is the in-process pub/sub bus for bulk job progress and
// its WebSocket gateway. Extraction workers publish per-document lifecycle
// events; dashboard clients subscribe to one job at a time at
// /ws/bulk-jobs/:id. Delivery is best-effort: nothing is persisted and
// events published while no client is attached are dropped.
package events

import (
	"go.uber.org/fx"
)

// Module provides the event bus and its WebSocket gateway.
var Module = fx.Module("events",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
