// Package openai provides OpenAI API integration for the LLM gateway.
package openai

import (
	"context"
	"net/http"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/providers"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type: core.ProviderOpenAI,
	New:  New,
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements core.Client for OpenAI
type Provider struct {
	providers.Base
	client *llmclient.Client
}

// New creates a new OpenAI provider.
func New(apiKey string, opts providers.ProviderOptions) core.Client {
	p := &Provider{Base: providers.NewBase(core.ProviderOpenAI, apiKey, opts)}
	p.client = llmclient.New(opts.HTTPClient, llmclient.Config{
		ProviderName: core.ProviderOpenAI.String(),
		BaseURL:      defaultBaseURL,
		Hooks:        opts.Hooks,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.APIKey())

	// Forward request ID if present in context using OpenAI's X-Client-Request-Id header.
	// OpenAI requires ASCII-only characters and max 512 bytes, otherwise returns 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
// OpenAI requires: ASCII characters only, max 512 characters.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// Query sends a single-turn chat completion.
func (p *Provider) Query(ctx context.Context, prompt, modelVersion string) (*core.QueryResult, error) {
	return p.Base.Query(ctx, prompt, modelVersion, p.complete)
}

func (p *Provider) complete(ctx context.Context, prompt, model string) (*core.QueryResult, error) {
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     providers.NewChatRequest(model, prompt),
	})
	if err != nil {
		return nil, err
	}
	return providers.ParseChatCompletion(core.ProviderOpenAI, resp.Body)
}

// CheckAvailability lists models as a lightweight probe.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	return p.Base.CheckAvailability(ctx, func(ctx context.Context) error {
		_, err := p.client.Do(ctx, llmclient.Request{Method: http.MethodGet, Endpoint: "/models"})
		return err
	})
}
