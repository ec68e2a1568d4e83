package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/modeldata"
)

func testOptions() ProviderOptions {
	return ProviderOptions{
		Retry: llmclient.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
		SimulatedLatency: 5 * time.Millisecond,
	}
}

func TestBaseQuery_MissingKey(t *testing.T) {
	b := NewBase(core.ProviderOpenAI, "", testOptions())
	called := false

	_, err := b.Query(context.Background(), "hi", "", func(context.Context, string, string) (*core.QueryResult, error) {
		called = true
		return nil, nil
	})

	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, core.KindAPIKeyMissing, pe.Kind)
	assert.Equal(t, 401, pe.StatusCode)
	assert.False(t, pe.Retryable)
	assert.False(t, called)
}

func TestBaseQuery_Simulation(t *testing.T) {
	for _, p := range core.Providers() {
		t.Run(p.String(), func(t *testing.T) {
			b := NewBase(p, "test_key", testOptions())

			start := time.Now()
			result, err := b.Query(context.Background(), "12345678", "", func(context.Context, string, string) (*core.QueryResult, error) {
				t.Fatal("upstream must not be called in simulation mode")
				return nil, nil
			})
			require.NoError(t, err)

			assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
			assert.Equal(t, SimulatedText(p), result.Text)
			assert.Contains(t, result.Text, "The actual "+p.DisplayName()+" model")
			assert.Equal(t, p, result.Provider)
			assert.Equal(t, 2, result.InputTokens)
			assert.Equal(t, len(result.Text)/4, result.OutputTokens)
			assert.Equal(t, result.InputTokens+result.OutputTokens, result.TotalTokens)
			assert.Equal(t, result.TotalTokens, result.NumTokens)
			assert.Zero(t, result.NumRetries)
		})
	}
}

func TestBaseQuery_SimulationHonoursContext(t *testing.T) {
	opts := testOptions()
	opts.SimulatedLatency = time.Hour
	b := NewBase(core.ProviderGemini, "test_key", opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Query(ctx, "x", "", nil)
	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, core.KindTimeout, pe.Kind)
}

func TestBaseQuery_ResolvesVersion(t *testing.T) {
	b := NewBase(core.ProviderClaude, "real-key", testOptions())

	var versions []string
	call := func(_ context.Context, _ string, version string) (*core.QueryResult, error) {
		versions = append(versions, version)
		return &core.QueryResult{Text: "ok", TotalTokens: 3}, nil
	}

	_, err := b.Query(context.Background(), "q", "claude-3-haiku", call)
	require.NoError(t, err)
	_, err = b.Query(context.Background(), "q", "claude-99", call)
	require.NoError(t, err)

	assert.Equal(t, []string{"claude-3-haiku", modeldata.DefaultClaudeVersion}, versions)
}

func TestBaseQuery_RetriesAndCountsThem(t *testing.T) {
	b := NewBase(core.ProviderOpenAI, "real-key", testOptions())

	calls := 0
	result, err := b.Query(context.Background(), "Hello", "", func(context.Context, string, string) (*core.QueryResult, error) {
		calls++
		if calls < 3 {
			return nil, core.NewUpstreamError("openai", 502, "bad gateway", true, nil)
		}
		return &core.QueryResult{Text: "Hi", InputTokens: 5, OutputTokens: 2, TotalTokens: 7, NumTokens: 7}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, result.NumRetries)
	assert.Equal(t, 7, result.TotalTokens)
	assert.Equal(t, core.ProviderOpenAI, result.Provider)
	assert.Equal(t, 200, result.StatusCode)
}

func TestBaseQuery_NonRetryableNotRetried(t *testing.T) {
	b := NewBase(core.ProviderOpenAI, "real-key", testOptions())

	calls := 0
	_, err := b.Query(context.Background(), "Hello", "", func(context.Context, string, string) (*core.QueryResult, error) {
		calls++
		return nil, core.NewUpstreamError("openai", 400, "bad request", false, nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBaseQuery_EstimatesMissingUsage(t *testing.T) {
	b := NewBase(core.ProviderGemini, "real-key", testOptions())

	result, err := b.Query(context.Background(), "12345678", "", func(context.Context, string, string) (*core.QueryResult, error) {
		return &core.QueryResult{Text: "abcd"}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.InputTokens)
	assert.Equal(t, 1, result.OutputTokens)
	assert.Equal(t, 3, result.TotalTokens)
	assert.Equal(t, 3, result.NumTokens)
}

func TestBaseQuery_ResponseTime(t *testing.T) {
	b := NewBase(core.ProviderMistral, "real-key", testOptions())
	now := time.Unix(0, 0)
	b.now = func() time.Time {
		now = now.Add(40 * time.Millisecond)
		return now
	}

	result, err := b.Query(context.Background(), "q", "", func(context.Context, string, string) (*core.QueryResult, error) {
		return &core.QueryResult{Text: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), result.ResponseTimeMs)
}

func TestBaseCheckAvailability(t *testing.T) {
	probeErr := errors.New("connection refused")

	tests := []struct {
		name   string
		key    string
		probe  error
		want   bool
		probed bool
	}{
		{"missing key", "", nil, false, false},
		{"simulation key", "test_abc", probeErr, true, false},
		{"probe ok", "sk-real", nil, true, true},
		{"probe fails", "sk-real", probeErr, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBase(core.ProviderOpenAI, tt.key, testOptions())
			probed := false
			got := b.CheckAvailability(context.Background(), func(context.Context) error {
				probed = true
				return tt.probe
			})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.probed, probed)
		})
	}
}

func TestNewBase_Defaults(t *testing.T) {
	b := NewBase(core.ProviderOpenAI, "k", ProviderOptions{})
	assert.Equal(t, llmclient.DefaultRetryConfig(), b.retry)
	assert.Equal(t, DefaultSimulatedLatency, b.simulatedLatency)
	assert.NotNil(t, b.validator)
	assert.NotNil(t, b.logger)
}
