// Package core defines the core interfaces and types for the LLM gateway.
package core

import "context"

// Client is implemented by every upstream provider.
type Client interface {
	// Type returns the provider this client talks to.
	Type() ProviderType

	// Query issues one completion call. Failures are returned as *ProviderError.
	Query(ctx context.Context, prompt, modelVersion string) (*QueryResult, error)

	// CheckAvailability probes the provider. It never returns an error;
	// failures are logged and reported as false.
	CheckAvailability(ctx context.Context) bool
}

// ClientResolver resolves a provider to its client.
type ClientResolver interface {
	Get(provider ProviderType) (Client, error)
}
