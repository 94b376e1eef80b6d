// Package documents owns the per-document lifecycle inside a bulk job:
// discovery registers rows here, workers claim and finalize them, and
// the HTTP surface lists and retries them. Extracted fields live here
// too, since their life is bound to the document that produced them.
package documents

import (
	"go.uber.org/fx"
)

var Module = fx.Module("documents",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
