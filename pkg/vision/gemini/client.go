// Package gemini provides a Google Gemini vision client.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default vision model
	DefaultModel = "gemini-3-flash-preview"

	// DefaultMaxOutputTokens caps the model response size
	DefaultMaxOutputTokens = 16384
)

// Config holds the configuration for the Gemini vision client
type Config struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
}

// Client is a Google Gemini vision client
type Client struct {
	client          *genai.Client
	model           string
	maxOutputTokens int
	log             *slog.Logger
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Gemini vision client
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := &Client{
		client:          client,
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		log:             slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Generate runs one vision call with the prompt and page images. Temperature
// is pinned to zero and the response MIME type to JSON, so identical inputs
// produce stable structured output.
func (c *Client) Generate(ctx context.Context, system, prompt string, images [][]byte, maxTokens int) (string, int, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0)),
		MaxOutputTokens:  int32(maxTokens),
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", 0, fmt.Errorf("gemini generation failed: %w", err)
	}

	var text string
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				text += part.Text
			}
			if text != "" {
				break
			}
		}
	}
	if text == "" {
		return "", 0, fmt.Errorf("no response generated from vision model")
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text, tokensUsed, nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "gemini"
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}
