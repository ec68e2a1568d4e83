// Package providers provides the shared provider base, a factory for creating
// provider instances and the registry that resolves a provider to its client.
package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/modeldata"
)

// ProviderOptions are the shared settings handed to every provider constructor.
type ProviderOptions struct {
	HTTPClient       *http.Client
	Hooks            llmclient.Hooks
	Retry            llmclient.RetryConfig
	Validator        *modeldata.Validator
	SimulatedLatency time.Duration
	Logger           *slog.Logger
}

// ProviderConfig is the resolved configuration of one provider.
type ProviderConfig struct {
	Type    core.ProviderType
	APIKey  string
	BaseURL string
}

// Registration describes how to build one provider type.
type Registration struct {
	Type core.ProviderType
	New  func(apiKey string, opts ProviderOptions) core.Client
}

// ProviderFactory builds providers from their registrations.
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[core.ProviderType]Registration
}

// NewProviderFactory creates an empty factory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[core.ProviderType]Registration)}
}

// Add registers a provider type. A later registration for the same type wins.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[reg.Type] = reg
}

// Create instantiates a provider and applies its base URL override.
func (f *ProviderFactory) Create(cfg ProviderConfig, opts ProviderOptions) (core.Client, error) {
	f.mu.RLock()
	reg, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	p := reg.New(cfg.APIKey, opts)
	if cfg.BaseURL != "" {
		if setter, ok := p.(interface{ SetBaseURL(string) }); ok {
			setter.SetBaseURL(cfg.BaseURL)
		}
	}
	return p, nil
}

// RegisteredTypes returns the registered provider types in sorted order.
func (f *ProviderFactory) RegisteredTypes() []core.ProviderType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]core.ProviderType, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
