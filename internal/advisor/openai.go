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

// OpenAIClient talks to the OpenAI Chat Completions API.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIBaseURL overrides the API endpoint, used in tests.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithOpenAIModel overrides the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIClient) { c.model = model }
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeAdvisorConfig, "openai api key is empty").
			WithSuggestion("set SCCPILOT_ADVISOR_API_KEY or advisor.api_key in the config file")
	}
	c := &OpenAIClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return "openai" }

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(openaiRequest{
		Model: c.model,
		Messages: []openaiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(errors.ErrCodeAdvisorTimeout, "openai request cancelled", err)
		}
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "openai request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "reading openai response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errors.New(errors.ErrCodeAdvisorAuth, "openai rejected the api key")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.ErrCodeAdvisorAPI,
			fmt.Sprintf("openai returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "decoding openai response", err)
	}
	if parsed.Error != nil {
		return "", errors.New(errors.ErrCodeAdvisorAPI, "openai error: "+parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New(errors.ErrCodeAdvisorAPI, "openai returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
