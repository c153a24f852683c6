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

// OllamaClient talks to a local Ollama server. No API key involved.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithOllamaBaseURL overrides the server address.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) { c.baseURL = url }
}

// WithOllamaModel overrides the default model.
func WithOllamaModel(model string) OllamaOption {
	return func(c *OllamaClient) { c.model = model }
}

// NewOllamaClient creates an Ollama client against localhost by default.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: "http://localhost:11434",
		model:   "llama3.1",
		client:  &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *OllamaClient) Name() string { return "ollama" }

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(errors.ErrCodeAdvisorTimeout, "ollama request cancelled", err)
		}
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "ollama request failed", err).
			WithSuggestion("check that the ollama server is running")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "reading ollama response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.ErrCodeAdvisorAPI,
			fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(errors.ErrCodeAdvisorAPI, "decoding ollama response", err)
	}
	return parsed.Response, nil
}
