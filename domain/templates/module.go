// Package templates owns mapping templates: user-defined column
// definitions resolved against extracted fields by keyword scan, with
// post-processing transforms applied at export time.
package templates

import (
	"context"

	"go.uber.org/fx"
)

// Module provides mapping template components
var Module = fx.Module("templates",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		registerSeeding,
	),
)

// registerSeeding writes the built-in templates on startup.
func registerSeeding(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := svc.SeedDefaults(ctx)
			return err
		},
	})
}
