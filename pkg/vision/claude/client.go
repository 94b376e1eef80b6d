// Package claude provides an Anthropic Claude vision client.
package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the default vision model
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxOutputTokens caps the model response size
	DefaultMaxOutputTokens = 16384
)

// Config holds the configuration for the Claude vision client
type Config struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
}

// Client is an Anthropic Claude vision client
type Client struct {
	client          anthropic.Client
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

// NewClient creates a new Claude vision client
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}

	c := &Client{
		client:          anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
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
// is pinned to zero so identical inputs produce stable structured output.
func (c *Client) Generate(ctx context.Context, system, prompt string, images [][]byte, maxTokens int) (string, int, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	blocks = append(blocks, anthropic.NewTextBlock(prompt))
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(img)))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(0),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, fmt.Errorf("claude generation failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", 0, fmt.Errorf("no response generated from vision model")
	}

	tokensUsed := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return text.String(), tokensUsed, nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}
