// Package uploads accepts direct document uploads into object-store
// sessions and creates bulk jobs over them.
package uploads

import (
	"go.uber.org/fx"
)

// Module provides upload components
var Module = fx.Module("uploads",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
	),
)
