package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/strata-dev/strata/internal/config"
)

// Provider is an interface for model API providers
type Provider interface {
	// Complete makes a model API call
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// ParseModelID splits a "provider:model" identifier. A bare model name
// defaults to anthropic.
func ParseModelID(modelID string) (providerName, model string, err error) {
	if modelID == "" {
		return "", "", fmt.Errorf("model id cannot be empty")
	}
	providerName, model, found := strings.Cut(modelID, ":")
	if !found {
		return "anthropic", modelID, nil
	}
	if providerName == "" || model == "" {
		return "", "", fmt.Errorf("invalid model id %q", modelID)
	}
	return providerName, model, nil
}

// Factory creates and caches providers from configured credentials.
type Factory struct {
	creds config.ProvidersConfig

	mu      sync.Mutex
	clients map[string]Provider
}

// NewFactory creates a provider factory.
func NewFactory(creds config.ProvidersConfig) *Factory {
	return &Factory{
		creds:   creds,
		clients: make(map[string]Provider),
	}
}

// ForModel resolves a "provider:model" identifier to a provider client
// and the bare model name.
func (f *Factory) ForModel(modelID string) (Provider, string, error) {
	providerName, model, err := ParseModelID(modelID)
	if err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.clients[providerName]; ok {
		return p, model, nil
	}

	p, err := f.newProvider(providerName)
	if err != nil {
		return nil, "", err
	}
	f.clients[providerName] = p
	return p, model, nil
}

func (f *Factory) newProvider(name string) (Provider, error) {
	switch name {
	case "anthropic":
		if f.creds.Anthropic.APIKey == "" {
			return nil, &Error{Provider: name, Kind: KindAuth, Err: fmt.Errorf("no API key configured")}
		}
		return NewAnthropicProvider(f.creds.Anthropic.APIKey, f.creds.Anthropic.BaseURL), nil
	case "openai":
		if f.creds.OpenAI.APIKey == "" {
			return nil, &Error{Provider: name, Kind: KindAuth, Err: fmt.Errorf("no API key configured")}
		}
		return NewOpenAIProvider(name, f.creds.OpenAI.APIKey, f.creds.OpenAI.BaseURL), nil
	case "openrouter":
		if f.creds.OpenRouter.APIKey == "" {
			return nil, &Error{Provider: name, Kind: KindAuth, Err: fmt.Errorf("no API key configured")}
		}
		baseURL := f.creds.OpenRouter.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(name, f.creds.OpenRouter.APIKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
