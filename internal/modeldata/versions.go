// Package modeldata holds the per-provider catalogs of accepted model versions
// and canonicalizes the optional version string of a request.
package modeldata

import (
	"slices"
	"strings"

	"llmproxy/internal/core"
)

// Default model version per provider.
const (
	DefaultOpenAIVersion  = "gpt-4o"
	DefaultGeminiVersion  = "gemini-1.5-pro"
	DefaultMistralVersion = "mistral-large-latest"
	DefaultClaudeVersion  = "claude-3-sonnet-20240229"
)

type catalog struct {
	versions     []string
	valid        map[string]struct{}
	defaultValue string
}

func newCatalog(defaultValue string, versions ...string) catalog {
	valid := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		valid[v] = struct{}{}
	}
	return catalog{versions: versions, valid: valid, defaultValue: defaultValue}
}

// Validator resolves requested model versions. It is immutable after
// construction and safe for concurrent use.
type Validator struct {
	catalogs map[core.ProviderType]catalog
}

// NewValidator builds the validator with the built-in catalogs.
func NewValidator() *Validator {
	return &Validator{
		catalogs: map[core.ProviderType]catalog{
			core.ProviderOpenAI: newCatalog(DefaultOpenAIVersion,
				"gpt-4o",
				"gpt-4o-mini",
				"gpt-4-turbo",
				"gpt-4",
				"gpt-4-vision-preview",
				"gpt-3.5-turbo",
				"gpt-3.5-turbo-16k",
			),
			core.ProviderGemini: newCatalog(DefaultGeminiVersion,
				"gemini-2.5-flash-preview-04-17",
				"gemini-2.5-pro-preview-03-25",
				"gemini-2.0-flash",
				"gemini-2.0-flash-lite",
				"gemini-1.5-flash",
				"gemini-1.5-flash-8b",
				"gemini-1.5-pro",
				"gemini-pro",
				"gemini-pro-vision",
			),
			core.ProviderMistral: newCatalog(DefaultMistralVersion,
				"codestral-latest",
				"mistral-large-latest",
				"mistral-saba-latest",
				"mistral-tiny",
				"mistral-small",
				"mistral-medium",
				"mistral-large",
			),
			core.ProviderClaude: newCatalog(DefaultClaudeVersion,
				"claude-3-opus-20240229",
				"claude-3-sonnet-20240229",
				"claude-3-haiku-20240307",
				"claude-3-opus",
				"claude-3-sonnet",
				"claude-3-haiku",
				"claude-2.1",
				"claude-2.0",
			),
		},
	}
}

// Validate returns version when it is an exact (case-sensitive) match in the
// provider's catalog, and the provider default otherwise.
func (v *Validator) Validate(provider core.ProviderType, version string) string {
	c, ok := v.catalogs[provider]
	if !ok {
		return ""
	}
	if strings.TrimSpace(version) == "" {
		return c.defaultValue
	}
	if _, ok := c.valid[version]; ok {
		return version
	}
	return c.defaultValue
}

// DefaultVersion returns the version used when a request names none.
func (v *Validator) DefaultVersion(provider core.ProviderType) string {
	return v.catalogs[provider].defaultValue
}

// SupportedVersions returns the ordered catalog for provider, or nil for an unknown provider.
func (v *Validator) SupportedVersions(provider core.ProviderType) []string {
	c, ok := v.catalogs[provider]
	if !ok {
		return nil
	}
	return slices.Clone(c.versions)
}
