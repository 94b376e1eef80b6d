// Package vision provides page-image model calls with automatic provider
// selection.
package vision

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/vision/claude"
	"github.com/veridoc-ai/veridoc/pkg/vision/gemini"
)

// Module provides the vision fx.Module
var Module = fx.Module("vision",
	fx.Provide(NewService),
)

// Request is a single vision call: a prompt plus the PNG page images it
// refers to. The response schema is embedded in the prompt text, so models
// answer in JSON regardless of backend.
type Request struct {
	System    string
	Prompt    string
	Images    [][]byte
	MaxTokens int // 0 means the configured default
}

// Response carries the raw model output.
type Response struct {
	Text       string
	TokensUsed int
}

// Service provides vision generation with automatic client selection
type Service struct {
	client  Client
	log     *slog.Logger
	timeout time.Duration
	enabled bool
}

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		timeout: time.Minute,
		enabled: false,
	}
}

// NewService creates a new vision service
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	visionCfg := cfg.Vision

	svc := &Service{
		client:  NewNoopClient(),
		log:     log,
		timeout: visionCfg.Timeout,
		enabled: false,
	}

	if visionCfg.NetworkDisabled {
		log.Info("vision service disabled by VISION_NETWORK_DISABLED")
		return svc
	}
	if !visionCfg.IsEnabled() {
		log.Info("vision service disabled - no provider configured")
		return svc
	}

	// Initialize client on startup
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			switch visionCfg.Provider {
			case "anthropic":
				client, err := claude.NewClient(claude.Config{
					APIKey:          visionCfg.AnthropicAPIKey,
					Model:           visionCfg.AnthropicModel,
					MaxOutputTokens: visionCfg.MaxOutputTokens,
				}, claude.WithLogger(log))
				if err != nil {
					log.Error("failed to initialize Anthropic vision client", slog.String("error", err.Error()))
					// Keep noop client
					return nil // Don't fail startup
				}
				svc.client = client
				svc.enabled = true
				log.Info("Anthropic vision client initialized",
					slog.String("model", visionCfg.AnthropicModel),
				)
			default:
				client, err := gemini.NewClient(ctx, gemini.Config{
					APIKey:          visionCfg.GeminiAPIKey,
					Model:           visionCfg.GeminiModel,
					MaxOutputTokens: visionCfg.MaxOutputTokens,
				}, gemini.WithLogger(log))
				if err != nil {
					log.Error("failed to initialize Gemini vision client", slog.String("error", err.Error()))
					return nil
				}
				svc.client = client
				svc.enabled = true
				log.Info("Gemini vision client initialized",
					slog.String("model", visionCfg.GeminiModel),
				)
			}
			return nil
		},
	})

	return svc
}

// IsEnabled returns true if a vision provider is available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Provider returns the active backend name
func (s *Service) Provider() string {
	return s.client.Name()
}

// Generate runs one vision call under the configured deadline. Failures come
// back classified: retryable ones wrapped in *TransientError, the rest
// permanent.
func (s *Service) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, tokens, err := s.client.Generate(ctx, req.System, req.Prompt, req.Images, req.MaxTokens)
	if err != nil {
		return nil, Classify(err)
	}
	return &Response{Text: text, TokensUsed: tokens}, nil
}
