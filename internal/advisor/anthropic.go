package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sccpilot/sccpilot/internal/errors"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicBaseURL overrides the API endpoint, used in tests.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = url }
}

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(c *AnthropicClient) { c.model = model }
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeAdvisorConfig, "anthropic api key is empty").
			WithSuggestion("set SCCPILOT_ADVISOR_API_KEY or advisor.api_key in the config file")
	}
	c := &AnthropicClient{
		apiKey:    apiKey,
		baseURL:   "https://api.anthropic.com/v1",
		model:     "claude-sonnet-4-20250514",
		maxTokens: 2048,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(errors.ErrCodeAdvisorTimeout, "anthropic request cancelled", err)
		}
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "anthropic request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "reading anthropic response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", errors.New(errors.ErrCodeAdvisorAuth, "anthropic rejected the api key").
			WithSuggestion("check the advisor.api_key value")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.ErrCodeAdvisorAPI,
			fmt.Sprintf("anthropic returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "decoding anthropic response", err)
	}
	if parsed.Error != nil {
		return "", errors.New(errors.ErrCodeAdvisorAPI, "anthropic error: "+parsed.Error.Message)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
