// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/fsagent/internal/domain"
)

const (
	defaultEndpoint = "/chat/completions"
	defaultTimeout  = 120 * time.Second
	maxResponseSize = 4 << 20
	maxErrorBody    = 2048
)

// ErrTransport marks a failed model call. It is fatal for a run.
var ErrTransport = errors.New("model transport failed")

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a non-streaming chat completions client.
type Client struct {
	endpointURL string
	model       string
	apiKey      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a client. BaseURL and Model are required; APIKey is optional
// because local servers such as llama-server accept anonymous requests.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("new model client: base url is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new model client: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpointURL: strings.TrimRight(baseURL, "/") + defaultEndpoint,
		model:       model,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

type chatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the full conversation and returns the first choice's text.
// Every failure wraps ErrTransport.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	encoded, err := json.Marshal(chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close model response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrTransport, resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: decode response: no choices", ErrTransport)
	}

	content := ""
	if parsed.Choices[0].Message.Content != nil {
		content = *parsed.Choices[0].Message.Content
	}

	c.logger.Debug("Model call completed",
		"model", c.model,
		"messages", len(messages),
		"reply_length", len(content),
		"duration", time.Since(started),
	)
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
