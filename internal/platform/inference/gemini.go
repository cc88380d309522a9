package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGeminiClient creates a Gemini-backed Completer.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration, logger zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger.With().Str("provider", "gemini").Str("model", model).Logger(),
	}, nil
}

func (c *GeminiClient) Available() bool { return c != nil && c.client != nil }

// Complete sends one system instruction and one user message.
func (c *GeminiClient) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	o := Apply(opts)
	temp := float32(o.Temperature)
	noThinking := int32(0)

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(o.MaxTokens),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: &noThinking},
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("response_len", len(text)).
		Msg("completion")
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}
