// Package mistral provides Mistral AI integration for the LLM gateway.
// Mistral exposes an OpenAI-compatible chat completions API.
package mistral

import (
	"context"
	"net/http"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/providers"
)

// Registration provides factory registration for the Mistral provider.
var Registration = providers.Registration{
	Type: core.ProviderMistral,
	New:  New,
}

const (
	defaultBaseURL = "https://api.mistral.ai/v1"
)

// Provider implements core.Client for Mistral
type Provider struct {
	providers.Base
	client *llmclient.Client
}

// New creates a new Mistral provider.
func New(apiKey string, opts providers.ProviderOptions) core.Client {
	p := &Provider{Base: providers.NewBase(core.ProviderMistral, apiKey, opts)}
	p.client = llmclient.New(opts.HTTPClient, llmclient.Config{
		ProviderName: core.ProviderMistral.String(),
		BaseURL:      defaultBaseURL,
		Hooks:        opts.Hooks,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.APIKey())
	req.Header.Set("Accept", "application/json")
}

// Query sends a single-turn chat completion.
func (p *Provider) Query(ctx context.Context, prompt, modelVersion string) (*core.QueryResult, error) {
	return p.Base.Query(ctx, prompt, modelVersion, func(ctx context.Context, prompt, model string) (*core.QueryResult, error) {
		resp, err := p.client.Do(ctx, llmclient.Request{
			Method:   http.MethodPost,
			Endpoint: "/chat/completions",
			Body:     providers.NewChatRequest(model, prompt),
		})
		if err != nil {
			return nil, err
		}
		return providers.ParseChatCompletion(core.ProviderMistral, resp.Body)
	})
}

// CheckAvailability lists models as a lightweight probe.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	return p.Base.CheckAvailability(ctx, func(ctx context.Context) error {
		_, err := p.client.Do(ctx, llmclient.Request{Method: http.MethodGet, Endpoint: "/models"})
		return err
	})
}
