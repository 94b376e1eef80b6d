package vision

import "context"

// Client is a single vision model backend. Implementations perform one model
// call per Generate with temperature pinned to zero; retry policy lives with
// the task broker, never inside the client.
type Client interface {
	// Generate runs one vision call over the prompt and page images and
	// returns the raw model text plus the total tokens consumed.
	Generate(ctx context.Context, system, prompt string, images [][]byte, maxTokens int) (string, int, error)

	// Name identifies the backend in logs and telemetry.
	Name() string
}

// NoopClient rejects every call; it stands in when no provider is configured.
type NoopClient struct{}

// NewNoopClient creates a client that always fails with ErrNotConfigured.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (*NoopClient) Generate(_ context.Context, _, _ string, _ [][]byte, _ int) (string, int, error) {
	return "", 0, ErrNotConfigured
}

func (*NoopClient) Name() string {
	return "noop"
}
