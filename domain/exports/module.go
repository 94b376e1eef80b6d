// Package exports turns a job's extracted fields into downloadable
// tables: a granular field CSV, summary and pivoted XLSX workbooks, a
// JSON preview, and template-shaped exports with transforms applied.
package exports

import (
	"go.uber.org/fx"
)

// Module provides export components
var Module = fx.Module("exports",
	fx.Provide(
		NewAssembler,
		NewService,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
	),
)
