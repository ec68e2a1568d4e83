package providers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/modeldata"
	"llmproxy/internal/usage"
)

// SimulationKeyPrefix marks an API key that switches a provider into simulation mode.
const SimulationKeyPrefix = "test_"

// Request parameters shared by every provider.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150
)

// DefaultSimulatedLatency is how long a simulated completion takes.
const DefaultSimulatedLatency = 300 * time.Millisecond

// CompletionFunc performs one upstream completion with an already resolved model version.
type CompletionFunc func(ctx context.Context, prompt, modelVersion string) (*core.QueryResult, error)

// ProbeFunc performs one lightweight upstream availability request.
type ProbeFunc func(ctx context.Context) error

// Base carries the behaviour common to all providers: the API key gate,
// simulation mode, version resolution, retry and timing.
type Base struct {
	provider         core.ProviderType
	apiKey           string
	retry            llmclient.RetryConfig
	validator        *modeldata.Validator
	simulatedLatency time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// NewBase creates the shared part of a provider.
func NewBase(provider core.ProviderType, apiKey string, opts ProviderOptions) Base {
	b := Base{
		provider:         provider,
		apiKey:           apiKey,
		retry:            opts.Retry,
		validator:        opts.Validator,
		simulatedLatency: opts.SimulatedLatency,
		logger:           opts.Logger,
		now:              time.Now,
	}
	if b.retry.MaxAttempts == 0 {
		b.retry = llmclient.DefaultRetryConfig()
	}
	if b.validator == nil {
		b.validator = modeldata.NewValidator()
	}
	if b.simulatedLatency == 0 {
		b.simulatedLatency = DefaultSimulatedLatency
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Type returns the provider this base belongs to.
func (b *Base) Type() core.ProviderType {
	return b.provider
}

// APIKey returns the configured credential.
func (b *Base) APIKey() string {
	return b.apiKey
}

// Simulated reports whether the provider runs in simulation mode.
func (b *Base) Simulated() bool {
	return strings.HasPrefix(b.apiKey, SimulationKeyPrefix)
}

// Query runs call under the shared policy. A missing key fails before any
// timing starts; a simulation key short-circuits without network I/O.
func (b *Base) Query(ctx context.Context, prompt, modelVersion string, call CompletionFunc) (*core.QueryResult, error) {
	if b.apiKey == "" {
		return nil, core.NewAPIKeyMissingError(b.provider.String())
	}

	start := b.now()
	version := b.validator.Validate(b.provider, modelVersion)

	if b.Simulated() {
		return b.simulate(ctx, prompt, start)
	}

	var result *core.QueryResult
	retries, err := llmclient.Retry(ctx, b.retry, func(ctx context.Context) error {
		r, err := call(ctx, prompt, version)
		if err != nil {
			b.logger.Warn("provider call failed",
				"provider", b.provider,
				"model_version", version,
				"error", err,
			)
			return err
		}
		result = r
		return nil
	})
	elapsed := b.now().Sub(start).Milliseconds()

	if err != nil {
		b.logger.Error("provider query failed",
			"provider", b.provider,
			"retries", retries,
			"response_time_ms", elapsed,
			"error", err,
		)
		return nil, err
	}

	result.Provider = b.provider
	result.StatusCode = http.StatusOK
	result.NumRetries = retries
	result.ResponseTimeMs = elapsed
	usage.Fill(result, prompt, result.Text)
	return result, nil
}

// SimulatedText is the fixed completion returned in simulation mode.
func SimulatedText(provider core.ProviderType) string {
	return "This is a simulated response for testing purposes. The actual " +
		provider.DisplayName() + " model is currently unavailable."
}

func (b *Base) simulate(ctx context.Context, prompt string, start time.Time) (*core.QueryResult, error) {
	b.logger.Info("using test API key, returning simulated response", "provider", b.provider)

	timer := time.NewTimer(b.simulatedLatency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, core.NewTimeoutError(b.provider.String(), ctx.Err())
	case <-timer.C:
	}

	text := SimulatedText(b.provider)
	result := &core.QueryResult{
		Text:       text,
		Provider:   b.provider,
		StatusCode: http.StatusOK,
	}
	usage.Fill(result, prompt, text)
	result.ResponseTimeMs = b.now().Sub(start).Milliseconds()
	return result, nil
}

// CheckAvailability reports false without a key, true in simulation mode,
// and otherwise whether probe succeeds. Probe failures are logged, never returned.
func (b *Base) CheckAvailability(ctx context.Context, probe ProbeFunc) bool {
	if b.apiKey == "" {
		return false
	}
	if b.Simulated() {
		b.logger.Info("using test API key, assuming service is available", "provider", b.provider)
		return true
	}
	if err := probe(ctx); err != nil {
		b.logger.Error("availability check failed", "provider", b.provider, "error", err)
		return false
	}
	return true
}
