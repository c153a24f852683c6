package advisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sccpilot/sccpilot/internal/errors"
)

// Client is a minimal LLM completion client. Provider implementations wrap
// one HTTP API each.
type Client interface {
	// Name identifies the provider (anthropic, openai, ollama).
	Name() string

	// Complete sends a prompt and returns the model's raw text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Registry holds the configured provider clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client under its name.
func (r *Registry) Register(client Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[client.Name()]; exists {
		return fmt.Errorf("provider %s already registered", client.Name())
	}
	r.clients[client.Name()] = client
	return nil
}

// Get retrieves a client by name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return client, nil
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}

// ClientConfig selects and configures one provider client. Model and BaseURL
// are optional; each provider falls back to its default.
type ClientConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// LoadFromConfig constructs the configured provider client and registers it.
func (r *Registry) LoadFromConfig(cfg ClientConfig) error {
	var client Client
	var err error

	switch cfg.Provider {
	case "anthropic":
		var opts []AnthropicOption
		if cfg.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		client, err = NewAnthropicClient(cfg.APIKey, opts...)

	case "openai":
		var opts []OpenAIOption
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		client, err = NewOpenAIClient(cfg.APIKey, opts...)

	case "ollama":
		var opts []OllamaOption
		if cfg.Model != "" {
			opts = append(opts, WithOllamaModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(cfg.BaseURL))
		}
		client = NewOllamaClient(opts...)

	default:
		return errors.New(errors.ErrCodeAdvisorNotFound,
			fmt.Sprintf("unknown advisor provider %q", cfg.Provider)).
			WithSuggestion("valid providers: anthropic, openai, ollama, rules, none")
	}

	if err != nil {
		return err
	}
	return r.Register(client)
}
