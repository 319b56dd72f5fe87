// Package ai wraps the Anthropic completion API behind a single Complete
// call with a typed error taxonomy (config, upstream, network). The client
// performs no retries: failures propagate to the caller immediately.
package ai

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelDefault is the model used when none is configured.
	ModelDefault = "claude-sonnet-4-5-20250929"

	// DefaultMaxTokens bounds the response size of a single completion.
	DefaultMaxTokens = 4096
)

// GetDefaultModel returns the configured model, checking FACTOTUM_MODEL first.
func GetDefaultModel() string {
	if model := os.Getenv("FACTOTUM_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Config holds completion client configuration.
type Config struct {
	APIKey             string       // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model              string       // Model to use (default: GetDefaultModel())
	MaxTokens          int          // Max tokens per response (default: DefaultMaxTokens)
	MaxConcurrentCalls int          // Max in-flight API calls across runs (0 = unlimited)
	RequestsPerSecond  float64      // Client-side rate limit (0 = unlimited)
	Logger             *slog.Logger // Structured logger (default: slog.Default())
}

// Client issues text completions against the Anthropic Messages API.
// Safe for concurrent use; each call is independent.
type Client struct {
	api     *anthropic.Client
	model   string
	maxTok  int64
	logger  *slog.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewClient creates a completion client. A missing API key is a ConfigError.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, &ConfigError{Msg: "ANTHROPIC_API_KEY not set"}
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	maxTok := cfg.MaxTokens
	if maxTok == 0 {
		maxTok = DefaultMaxTokens
	}
	if maxTok < 0 {
		return nil, &ConfigError{Msg: "MaxTokens cannot be negative"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		api:     &client,
		model:   model,
		maxTok:  int64(maxTok),
		logger:  logger,
		sem:     sem,
		limiter: limiter,
	}, nil
}

// Model returns the model name this client sends completions to.
func (c *Client) Model() string { return c.model }

// Complete sends a single prompt and returns the text of the response.
// Errors are classified as ConfigError, UpstreamError, or NetworkError and
// returned without retry.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer c.sem.Release(1)
	}

	start := time.Now()
	c.logger.Debug("completion call started",
		"model", c.model,
		"prompt_chars", len(prompt))

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTok,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		classified := classify(err)
		c.logger.Error("completion call failed",
			"model", c.model,
			"duration", time.Since(start),
			"error", classified)
		return "", classified
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	c.logger.Info("completion call finished",
		"model", c.model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start))

	return text, nil
}
