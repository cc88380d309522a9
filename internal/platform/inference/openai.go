package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAIClient speaks the chat completions protocol used by OpenAI and by
// compatible local servers (ollama, vllm, llama.cpp).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var errRateLimited = errors.New("rate limit exceeded (429)")

// NewOpenAIClient creates an OpenAI-compatible Completer.
func NewOpenAIClient(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: 3,
		backoff:    time.Second,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("provider", "openai").Str("model", cfg.Model).Logger(),
	}
}

func (c *OpenAIClient) Available() bool { return c != nil && c.baseURL != "" }

// Complete sends one system and one user message. 429 and 5xx responses and
// transport errors are retried with exponential backoff.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string, opts ...Option) (string, error) {
	if !c.Available() {
		return "", ErrNotConfigured
	}
	o := Apply(opts)
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			wait := c.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		text, err := c.do(ctx, body)
		if err == nil {
			c.logger.Debug().
				Dur("latency", time.Since(start)).
				Int("attempts", i+1).
				Int("response_len", len(text)).
				Msg("completion")
			return text, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// serverError is a 5xx answer from the provider.
type serverError struct {
	status int
	body   string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var te *transportError
	var se *serverError
	return errors.Is(err, errRateLimited) || errors.As(err, &te) || errors.As(err, &se)
}

func (c *OpenAIClient) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transportError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transportError{fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errRateLimited
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", &serverError{status: resp.StatusCode, body: truncate(string(raw), 200)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion returned")
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
