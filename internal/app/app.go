// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the proxy server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmproxy/config"
	"llmproxy/internal/cache"
	"llmproxy/internal/core"
	"llmproxy/internal/gateway"
	"llmproxy/internal/httpclient"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/modeldata"
	"llmproxy/internal/observability"
	"llmproxy/internal/providers"
	"llmproxy/internal/ratelimit"
	"llmproxy/internal/router"
	"llmproxy/internal/server"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	registry *providers.Registry
	router   *router.Router
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	gateway  *gateway.Gateway
	metrics  *observability.Metrics
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Factory provides the ProviderFactory used to construct provider instances.
	Factory *providers.ProviderFactory

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the metric collectors. Nil creates a private
	// registry with the Go and process collectors. Gatherer backs the
	// metrics endpoint and defaults to the prometheus default gatherer.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// New creates a new App with all dependencies initialized.
func New(cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	appCfg := cfg.AppConfig

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg, gatherer := cfg.Registerer, cfg.Gatherer
	if reg == nil {
		private := prometheus.NewRegistry()
		private.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg, gatherer = private, private
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	app := &App{
		config:  appCfg,
		logger:  logger,
		metrics: observability.NewMetrics(reg),
	}

	httpClient := httpclient.NewHTTPClient(&httpclient.ClientConfig{
		ConnectTimeout: appCfg.HTTP.ConnectTimeout,
		ReadTimeout:    appCfg.HTTP.ReadTimeout,
	})

	registry, err := providers.Init(appCfg, providers.InitConfig{
		Factory: cfg.Factory,
		Options: providers.ProviderOptions{
			HTTPClient:       httpClient,
			Hooks:            app.metrics.Hooks(),
			Retry:            retryConfig(appCfg.Retry),
			Validator:        modeldata.NewValidator(),
			SimulatedLatency: appCfg.Provider.SimulatedLatency,
			Logger:           logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.registry = registry

	app.router = router.New(registry, router.Config{
		AvailabilityTTL: time.Duration(appCfg.Router.Availability.TTL) * time.Second,
		TestMode:        appCfg.Router.TestMode,
		OnRefresh:       app.metrics.SetAvailability,
		Logger:          logger,
	})
	if appCfg.Router.TestMode {
		// Probing is off, so every provider is treated as reachable.
		for _, p := range core.Providers() {
			app.router.SetAvailability(p, true)
		}
	}

	app.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: appCfg.RateLimit.RequestsPerMinute,
		Burst:             appCfg.RateLimit.Burst,
		Logger:            logger,
	})

	app.cache = cache.New(cache.Config{
		Enabled:  appCfg.Cache.Enabled,
		TTL:      time.Duration(appCfg.Cache.TTL.Seconds) * time.Second,
		MaxItems: appCfg.Cache.MaxItems,
		Logger:   logger,
	})

	app.gateway, err = gateway.New(gateway.Config{
		Limiter:  app.limiter,
		Cache:    app.cache,
		Router:   app.router,
		Clients:  registry,
		Observer: app.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	app.logStartupInfo()

	app.server = server.New(app.gateway, app.router, &server.Config{
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		MetricsHandler:  promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		BodyLimit:       appCfg.Server.BodyLimit,
		Logger:          logger,
	})

	return app, nil
}

func retryConfig(c config.RetryConfig) llmclient.RetryConfig {
	return llmclient.RetryConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		Multiplier:     c.BackoffMultiplier,
		Jitter:         c.Jitter,
	}
}

// Router returns the provider router.
func (a *App) Router() *router.Router {
	return a.router
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Addr returns the listen address derived from server.port.
func (a *App) Addr() string {
	return net.JoinHostPort("", a.config.Server.Port)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, honoring the context deadline,
// then drops the response cache.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	// Stop accepting new requests first
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.cache != nil {
		a.cache.Flush()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	configured := 0
	for _, p := range core.Providers() {
		if cfg.API.For(p).Key != "" {
			configured++
		}
	}
	if configured == 0 {
		a.logger.Warn("no provider API keys configured; every provider will report unavailable",
			"recommendation", "set OPENAI_API_KEY, GEMINI_API_KEY, MISTRAL_API_KEY or CLAUDE_API_KEY")
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	if cfg.Cache.Enabled {
		a.logger.Info("response cache enabled",
			"ttl_seconds", cfg.Cache.TTL.Seconds,
			"max_items", cfg.Cache.MaxItems,
		)
	} else {
		a.logger.Info("response cache disabled")
	}

	a.logger.Info("rate limiting configured",
		"requests_per_minute", cfg.RateLimit.RequestsPerMinute,
		"burst", cfg.RateLimit.Burst,
	)

	if cfg.Router.TestMode {
		a.logger.Warn("router test mode enabled; availability probing is off")
	}
}
