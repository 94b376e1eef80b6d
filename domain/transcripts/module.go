// Package transcripts builds and stores the searchable linearization of
// each document's hierarchical extraction output. The transcript is the
// search substrate for template column resolution.
package transcripts

import "go.uber.org/fx"

// Module provides the transcripts repository. The builder is a pure
// function and needs no wiring.
var Module = fx.Module("transcripts",
	fx.Provide(NewRepository),
)
