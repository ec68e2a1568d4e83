// Package gemini provides Google Gemini API integration for the LLM gateway.
package gemini

import (
	"context"
	"net/http"
	"net/url"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/providers"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type: core.ProviderGemini,
	New:  New,
}

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1"
)

// Provider implements core.Client for Google Gemini
type Provider struct {
	providers.Base
	client *llmclient.Client
}

// New creates a new Gemini provider.
func New(apiKey string, opts providers.ProviderOptions) core.Client {
	p := &Provider{Base: providers.NewBase(core.ProviderGemini, apiKey, opts)}
	p.client = llmclient.New(opts.HTTPClient, llmclient.Config{
		ProviderName: core.ProviderGemini.String(),
		BaseURL:      defaultBaseURL,
		Hooks:        opts.Hooks,
	}, nil)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

// generateContentRequest is the native generateContent body.
type generateContentRequest struct {
	Contents        content `json:"contents"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// keyQuery renders the API key query parameter.
// NOTE: Google's native API takes the key in the URL, so it can end up in proxy logs.
func (p *Provider) keyQuery() string {
	return "key=" + url.QueryEscape(p.APIKey())
}

// Query calls models/{version}:generateContent.
func (p *Provider) Query(ctx context.Context, prompt, modelVersion string) (*core.QueryResult, error) {
	return p.Base.Query(ctx, prompt, modelVersion, p.complete)
}

func (p *Provider) complete(ctx context.Context, prompt, model string) (*core.QueryResult, error) {
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + url.PathEscape(model) + ":generateContent?" + p.keyQuery(),
		Body: generateContentRequest{
			Contents:        content{Parts: []part{{Text: prompt}}},
			Temperature:     providers.DefaultTemperature,
			MaxOutputTokens: providers.DefaultMaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}
	return parseGenerateContentResponse(resp.Body)
}

// parseGenerateContentResponse reads the first candidate's text. Usage is
// only copied when usageMetadata is present; otherwise the estimator fills it.
func parseGenerateContentResponse(body []byte) (*core.QueryResult, error) {
	doc, err := providers.ParseJSON(core.ProviderGemini, body)
	if err != nil {
		return nil, err
	}

	text := doc.Get("candidates.0.content.parts.0.text").String()
	if text == "" {
		return nil, core.NewEmptyResponseError(core.ProviderGemini.String())
	}

	result := &core.QueryResult{Text: text}
	if meta := doc.Get("usageMetadata"); meta.Exists() {
		result.InputTokens = int(meta.Get("promptTokenCount").Int())
		result.OutputTokens = int(meta.Get("candidatesTokenCount").Int())
		result.TotalTokens = result.InputTokens + result.OutputTokens
		result.NumTokens = result.TotalTokens
	}
	return result, nil
}

// CheckAvailability lists models as a lightweight probe.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	return p.Base.CheckAvailability(ctx, func(ctx context.Context) error {
		_, err := p.client.Do(ctx, llmclient.Request{Method: http.MethodGet, Endpoint: "/models?" + p.keyQuery()})
		return err
	})
}
