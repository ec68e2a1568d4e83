package providers

import (
	"log/slog"
	"sync"

	"llmproxy/internal/core"
)

// Registry maps each provider to its client. It is built once at startup.
type Registry struct {
	mu      sync.RWMutex
	clients map[core.ProviderType]core.Client
}

// NewRegistry creates a registry holding the given clients.
func NewRegistry(clients ...core.Client) *Registry {
	r := &Registry{clients: make(map[core.ProviderType]core.Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register binds a client to its provider type, replacing any previous binding.
func (r *Registry) Register(c core.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.Type()]; exists {
		slog.Warn("provider registered twice, replacing", "provider", c.Type())
	}
	r.clients[c.Type()] = c
}

// Get returns the client for provider, or an unavailable error if none is bound.
func (r *Registry) Get(provider core.ProviderType) (core.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	if !ok {
		return nil, core.NewUnavailableError(provider.String())
	}
	return c, nil
}

// Clients returns the registered clients in provider declaration order.
func (r *Registry) Clients() []core.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]core.Client, 0, len(r.clients))
	for _, p := range core.Providers() {
		if c, ok := r.clients[p]; ok {
			clients = append(clients, c)
		}
	}
	return clients
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
