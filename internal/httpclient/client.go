// Package httpclient provides the HTTP client factory used for upstream providers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Upstream timeouts used when nothing else is configured.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers and, together with
	// ConnectTimeout, the whole exchange.
	ReadTimeout time.Duration

	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive) connection will remain idle before closing itself
	IdleConnTimeout time.Duration
}

// DefaultConfig returns a ClientConfig with a 10s connect and 30s read timeout.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:      DefaultConnectTimeout,
		ReadTimeout:         DefaultReadTimeout,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used. Zero fields fall back to their defaults.
func NewHTTPClient(config *ClientConfig) *http.Client {
	cfg := DefaultConfig()
	if config != nil {
		if config.ConnectTimeout > 0 {
			cfg.ConnectTimeout = config.ConnectTimeout
		}
		if config.ReadTimeout > 0 {
			cfg.ReadTimeout = config.ReadTimeout
		}
		if config.MaxIdleConnsPerHost > 0 {
			cfg.MaxIdleConnsPerHost = config.MaxIdleConnsPerHost
		}
		if config.IdleConnTimeout > 0 {
			cfg.IdleConnTimeout = config.IdleConnTimeout
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}
