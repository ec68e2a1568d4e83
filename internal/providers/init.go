package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"llmproxy/config"
	"llmproxy/internal/core"
)

// InitConfig holds options for provider initialization.
type InitConfig struct {
	// Factory is the provider factory with registered providers.
	Factory *ProviderFactory

	// Options are handed to every provider constructor.
	Options ProviderOptions
}

// Init creates one client per known provider from the API configuration and
// returns the registry holding them. Providers without a key are still
// registered; they report unavailable and fail queries with api_key_missing.
func Init(cfg *config.Config, initCfg InitConfig) (*Registry, error) {
	if initCfg.Factory == nil {
		return nil, fmt.Errorf("InitConfig.Factory is required")
	}
	logger := initCfg.Options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry()
	for _, p := range core.Providers() {
		creds := cfg.API.For(p)
		client, err := initCfg.Factory.Create(ProviderConfig{
			Type:    p,
			APIKey:  creds.Key,
			BaseURL: creds.BaseURL,
		}, initCfg.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", p, err)
		}
		registry.Register(client)

		logger.Info("provider initialized",
			"provider", p,
			"configured", creds.Key != "",
			"simulated", strings.HasPrefix(creds.Key, SimulationKeyPrefix),
			"base_url", creds.BaseURL,
		)
	}
	return registry, nil
}
