// Package anthropic provides Claude (Anthropic) API integration for the LLM gateway.
package anthropic

import (
	"context"
	"net/http"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/providers"
)

// Registration provides factory registration for the Claude provider.
var Registration = providers.Registration{
	Type: core.ProviderClaude,
	New:  New,
}

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Provider implements core.Client for Claude
type Provider struct {
	providers.Base
	client *llmclient.Client
}

// New creates a new Claude provider.
func New(apiKey string, opts providers.ProviderOptions) core.Client {
	p := &Provider{Base: providers.NewBase(core.ProviderClaude, apiKey, opts)}
	p.client = llmclient.New(opts.HTTPClient, llmclient.Config{
		ProviderName: core.ProviderClaude.String(),
		BaseURL:      defaultBaseURL,
		Hooks:        opts.Hooks,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sends the key both as a bearer token and as x-api-key.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.APIKey())
	req.Header.Set("x-api-key", p.APIKey())
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// Query sends a single-turn messages request.
func (p *Provider) Query(ctx context.Context, prompt, modelVersion string) (*core.QueryResult, error) {
	return p.Base.Query(ctx, prompt, modelVersion, p.complete)
}

func (p *Provider) complete(ctx context.Context, prompt, model string) (*core.QueryResult, error) {
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     providers.NewChatRequest(model, prompt),
	})
	if err != nil {
		return nil, err
	}
	return parseMessagesResponse(resp.Body)
}

// parseMessagesResponse reads content[0].text and usage; the total is computed.
func parseMessagesResponse(body []byte) (*core.QueryResult, error) {
	doc, err := providers.ParseJSON(core.ProviderClaude, body)
	if err != nil {
		return nil, err
	}

	text := doc.Get("content.0.text").String()
	if text == "" {
		return nil, core.NewEmptyResponseError(core.ProviderClaude.String())
	}

	input := int(doc.Get("usage.input_tokens").Int())
	output := int(doc.Get("usage.output_tokens").Int())
	return &core.QueryResult{
		Text:         text,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		NumTokens:    input + output,
	}, nil
}

// CheckAvailability lists models as a lightweight probe.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	return p.Base.CheckAvailability(ctx, func(ctx context.Context) error {
		_, err := p.client.Do(ctx, llmclient.Request{Method: http.MethodGet, Endpoint: "/models"})
		return err
	})
}
