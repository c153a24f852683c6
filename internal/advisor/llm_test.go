package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

// stubClient returns a canned completion.
type stubClient struct {
	response string
	err      error
}

func (s *stubClient) Name() string { return "stub" }
func (s *stubClient) Complete(context.Context, string) (string, error) {
	return s.response, s.err
}

func TestSuggestParsesWellFormedResponse(t *testing.T) {
	a := NewLLMAdvisor(&stubClient{response: `Here is my analysis:
{
  "analysis": "the workload needs SYS_TIME",
  "root_cause": "capability denied by the restricted SCC",
  "confidence": 0.9,
  "adjustments": [
    {"type": "capability", "value": "sys_time"},
    {"type": "host-path-volume", "value": "/var/log", "readOnly": true}
  ]
}
Let me know if you need more.`}, nil)

	got, err := a.Suggest(context.Background(), "capability SYS_TIME may not be used", policy.Baseline("p"))
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v", got.Confidence)
	}
	if len(got.Delta) != 2 {
		t.Fatalf("delta = %+v", got.Delta)
	}
	if got.Delta[0].Kind != requirement.KindCapability || got.Delta[0].Value != "SYS_TIME" {
		t.Errorf("capability adjustments must be uppercased, got %+v", got.Delta[0])
	}
	if got.Delta[1].Kind != requirement.KindHostPathVolume || !got.Delta[1].ReadOnly {
		t.Errorf("host path adjustment lost its mode: %+v", got.Delta[1])
	}
}

func TestSuggestOpaqueResponseIsConfidenceZero(t *testing.T) {
	for _, response := range []string{
		"I am not sure what went wrong here.",
		`{"analysis": "broken json`,
		`{"confidence": 0.95, "adjustments": []}`,
	} {
		a := NewLLMAdvisor(&stubClient{response: response}, nil)
		got, err := a.Suggest(context.Background(), "???", policy.Baseline("p"))
		if err != nil {
			t.Fatalf("opaque responses must not error, got %v for %q", err, response)
		}
		if got.Confidence != 0 {
			t.Errorf("confidence = %v for %q, want 0", got.Confidence, response)
		}
	}
}

func TestSuggestClampsConfidence(t *testing.T) {
	a := NewLLMAdvisor(&stubClient{response: `{"confidence": 3.5, "adjustments": [{"type": "run-as-root"}]}`}, nil)
	got, err := a.Suggest(context.Background(), "x", policy.Baseline("p"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", got.Confidence)
	}
}

func TestSuggestUnknownAdjustmentTypesAreDropped(t *testing.T) {
	a := NewLLMAdvisor(&stubClient{response: `{"confidence": 0.9, "adjustments": [
		{"type": "delete-namespace", "value": "prod"},
		{"type": "capability", "value": "CHOWN"}
	]}`}, nil)
	got, err := a.Suggest(context.Background(), "x", policy.Baseline("p"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Delta) != 1 || got.Delta[0].Value != "CHOWN" {
		t.Errorf("delta = %+v, want only the capability", got.Delta)
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: `{"confidence": 0.5}`}},
		})
	}))
	defer srv.Close()

	c, err := NewAnthropicClient("test-key", WithAnthropicBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), "why did it fail")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"confidence": 0.5}` {
		t.Errorf("unexpected completion %q", out)
	}
}

func TestAnthropicClientAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewAnthropicClient("bad-key", WithAnthropicBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), "x")
	if !errors.IsCode(err, errors.ErrCodeAdvisorAuth) {
		t.Errorf("expected ADVISOR-003, got %v", err)
	}
}

func TestAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(""); !errors.IsCode(err, errors.ErrCodeAdvisorConfig) {
		t.Errorf("expected ADVISOR-002 for empty key, got %v", err)
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "answer"}}},
		})
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("test-key", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "answer" {
		t.Errorf("unexpected completion %q", out)
	}
}

func TestOllamaClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "local answer", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(WithOllamaBaseURL(srv.URL))
	out, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "local answer" {
		t.Errorf("unexpected completion %q", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubClient{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubClient{}); err == nil {
		t.Error("duplicate registration must fail")
	}
	if _, err := r.Get("stub"); err != nil {
		t.Errorf("Get(stub) error = %v", err)
	}
	if _, err := r.Get("nope"); err == nil {
		t.Error("unknown provider must not resolve")
	}
	if len(r.List()) != 1 {
		t.Errorf("List() = %v", r.List())
	}
}

func TestRegistryLoadFromConfig(t *testing.T) {
	r := NewRegistry()

	if err := r.LoadFromConfig(ClientConfig{Provider: "ollama", Model: "mistral"}); err != nil {
		t.Fatalf("LoadFromConfig(ollama) error = %v", err)
	}
	client, err := r.Get("ollama")
	if err != nil {
		t.Fatalf("Get(ollama) error = %v", err)
	}
	if client.Name() != "ollama" {
		t.Errorf("Name() = %q", client.Name())
	}

	if err := r.LoadFromConfig(ClientConfig{Provider: "anthropic", APIKey: "sk-test"}); err != nil {
		t.Fatalf("LoadFromConfig(anthropic) error = %v", err)
	}
	if len(r.List()) != 2 {
		t.Errorf("List() = %v", r.List())
	}
}

func TestRegistryLoadFromConfigRejectsBadConfig(t *testing.T) {
	r := NewRegistry()

	err := r.LoadFromConfig(ClientConfig{Provider: "anthropic"})
	if !errors.IsCode(err, errors.ErrCodeAdvisorConfig) {
		t.Errorf("anthropic without a key should fail with the config code, got %v", err)
	}

	err = r.LoadFromConfig(ClientConfig{Provider: "copilot"})
	if !errors.IsCode(err, errors.ErrCodeAdvisorNotFound) {
		t.Errorf("unknown provider should fail with the not-found code, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Errorf("failed loads must not register anything, List() = %v", r.List())
	}
}
