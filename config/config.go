// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"llmproxy/internal/core"
)

// EnvPrefix prefixes every environment override, e.g. LLMPROXY_CACHE_TTL_SECONDS.
const EnvPrefix = "LLMPROXY"

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate-limit" yaml:"rate-limit"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Router    RouterConfig    `mapstructure:"router" yaml:"router"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	BodyLimit       string        `mapstructure:"body-limit" yaml:"body-limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`
}

// APIConfig holds the credentials of every provider.
type APIConfig struct {
	OpenAI  ProviderCredentials `mapstructure:"openai" yaml:"openai"`
	Gemini  ProviderCredentials `mapstructure:"gemini" yaml:"gemini"`
	Mistral ProviderCredentials `mapstructure:"mistral" yaml:"mistral"`
	Claude  ProviderCredentials `mapstructure:"claude" yaml:"claude"`
}

// ProviderCredentials configures one upstream provider.
// An empty key leaves the provider unavailable; a key prefixed with
// "test_" puts it in simulation mode.
type ProviderCredentials struct {
	Key     string `mapstructure:"key" yaml:"key"`
	BaseURL string `mapstructure:"base-url" yaml:"base-url,omitempty"`
}

// For returns the credentials of provider.
func (a APIConfig) For(provider core.ProviderType) ProviderCredentials {
	switch provider {
	case core.ProviderOpenAI:
		return a.OpenAI
	case core.ProviderGemini:
		return a.Gemini
	case core.ProviderMistral:
		return a.Mistral
	case core.ProviderClaude:
		return a.Claude
	}
	return ProviderCredentials{}
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	Enabled  bool      `mapstructure:"enabled" yaml:"enabled"`
	TTL      TTLConfig `mapstructure:"ttl" yaml:"ttl"`
	MaxItems int       `mapstructure:"max-items" yaml:"max-items"`
}

// TTLConfig is a time-to-live expressed in seconds.
type TTLConfig struct {
	Seconds int `mapstructure:"seconds" yaml:"seconds"`
}

// RateLimitConfig tunes the token buckets.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests-per-minute" yaml:"requests-per-minute"`
	Burst             int `mapstructure:"burst" yaml:"burst"`
}

// RetryConfig tunes the retry applied to each provider call.
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max-attempts" yaml:"max-attempts"`
	InitialBackoffMs  int64   `mapstructure:"initial-backoff-ms" yaml:"initial-backoff-ms"`
	MaxBackoffMs      int64   `mapstructure:"max-backoff-ms" yaml:"max-backoff-ms"`
	BackoffMultiplier float64 `mapstructure:"backoff-multiplier" yaml:"backoff-multiplier"`
	Jitter            float64 `mapstructure:"jitter" yaml:"jitter"`
}

// RouterConfig tunes availability tracking.
type RouterConfig struct {
	Availability AvailabilityConfig `mapstructure:"availability" yaml:"availability"`
	// TestMode disables availability refresh.
	TestMode bool `mapstructure:"test-mode" yaml:"test-mode"`
}

// AvailabilityConfig holds the probe TTL in seconds.
type AvailabilityConfig struct {
	TTL int `mapstructure:"ttl" yaml:"ttl"`
}

// HTTPConfig holds upstream HTTP client timeouts.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" yaml:"connect-timeout"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout" yaml:"read-timeout"`
}

// ProviderConfig holds settings shared by all providers.
type ProviderConfig struct {
	SimulatedLatency time.Duration `mapstructure:"simulated-latency" yaml:"simulated-latency"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// setDefaults registers the default of every recognized key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.body-limit", "1M")
	v.SetDefault("server.shutdown-timeout", 30*time.Second)

	for _, p := range core.Providers() {
		v.SetDefault("api."+p.String()+".key", "")
		v.SetDefault("api."+p.String()+".base-url", "")
	}

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl.seconds", 300)
	v.SetDefault("cache.max-items", 1000)

	v.SetDefault("rate-limit.requests-per-minute", 60)
	v.SetDefault("rate-limit.burst", 10)

	v.SetDefault("retry.max-attempts", 3)
	v.SetDefault("retry.initial-backoff-ms", 1000)
	v.SetDefault("retry.max-backoff-ms", 30000)
	v.SetDefault("retry.backoff-multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.1)

	v.SetDefault("router.availability.ttl", 300)
	v.SetDefault("router.test-mode", false)

	v.SetDefault("http.connect-timeout", 10*time.Second)
	v.SetDefault("http.read-timeout", 30*time.Second)

	v.SetDefault("provider.simulated-latency", 300*time.Millisecond)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// conventionalEnv lists the well-known variable names accepted next to the
// prefixed form. The first one set wins.
var conventionalEnv = map[string][]string{
	"server.port":     {"PORT"},
	"api.openai.key":  {"OPENAI_API_KEY"},
	"api.gemini.key":  {"GEMINI_API_KEY"},
	"api.mistral.key": {"MISTRAL_API_KEY"},
	"api.claude.key":  {"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
}

// Load reads configuration from defaults, an optional YAML file, an optional
// .env file and the environment, in increasing order of precedence.
// An empty path looks for config.yaml in "." and "./config".
func Load(path string) (*Config, error) {
	// Load .env file (optional, won't fail if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range conventionalEnv {
		prefixed := EnvPrefix + "_" + strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Expand ${VAR} and ${VAR:-default} placeholders in string values.
	for _, key := range v.AllKeys() {
		if s, ok := v.Get(key).(string); ok && strings.Contains(s, "${") {
			v.Set(key, expandString(s))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate-limit.requests-per-minute must not be negative"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate-limit.burst must not be negative"))
	}
	if c.Cache.TTL.Seconds < 0 {
		errs = append(errs, errors.New("cache.ttl.seconds must not be negative"))
	}
	if c.Cache.MaxItems < 0 {
		errs = append(errs, errors.New("cache.max-items must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max-attempts must be at least 1"))
	}
	if c.Retry.InitialBackoffMs < 0 || c.Retry.MaxBackoffMs < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("retry.backoff-multiplier must be at least 1"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, errors.New("retry.jitter must be between 0 and 1"))
	}
	if c.Router.Availability.TTL < 0 {
		errs = append(errs, errors.New("router.availability.ttl must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Masked returns a copy with every API key redacted, for display.
func (c Config) Masked() Config {
	mask := func(p *ProviderCredentials) {
		if p.Key == "" {
			return
		}
		if len(p.Key) <= 8 {
			p.Key = "****"
			return
		}
		p.Key = p.Key[:4] + "****"
	}
	mask(&c.API.OpenAI)
	mask(&c.API.Gemini)
	mask(&c.API.Mistral)
	mask(&c.API.Claude)
	return c
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the value of VAR and ${VAR:-default} with
// the value of VAR or default when VAR is unset or empty. Placeholders without
// a default whose variable is unset or empty are left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}
