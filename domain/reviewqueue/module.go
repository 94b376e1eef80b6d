// Package reviewqueue tracks documents that finished extraction in
// needs_review. The extraction worker enqueues items, the reconciler
// backfills any it missed, and reviewers work them off over HTTP:
// retry the document or resolve the item with notes.
package reviewqueue

import (
	"go.uber.org/fx"
)

var Module = fx.Module("reviewqueue",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
