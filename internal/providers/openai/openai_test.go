package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"llmproxy/internal/core"
	"llmproxy/internal/llmclient"
	"llmproxy/internal/modeldata"
	"llmproxy/internal/providers"
)

func fastOptions() providers.ProviderOptions {
	return providers.ProviderOptions{
		Retry: llmclient.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
		SimulatedLatency: time.Millisecond,
	}
}

func newTestProvider(apiKey, baseURL string) *Provider {
	p := New(apiKey, fastOptions()).(*Provider)
	p.SetBaseURL(baseURL)
	return p
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody string
		wantText     string
		wantKind     core.ErrorKind
		wantCalls    int32
	}{
		{
			name:       "successful request",
			statusCode: http.StatusOK,
			responseBody: `{
				"id": "chatcmpl-123",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello! How can I help you today?"}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
			}`,
			wantText:  "Hello! How can I help you today?",
			wantCalls: 1,
		},
		{
			name:         "invalid API key",
			statusCode:   http.StatusUnauthorized,
			responseBody: `{"error": {"message": "Invalid API key"}}`,
			wantKind:     core.KindUpstream,
			wantCalls:    1,
		},
		{
			name:         "rate limited is retried",
			statusCode:   http.StatusTooManyRequests,
			responseBody: `{"error": {"message": "Rate limit exceeded"}}`,
			wantKind:     core.KindRateLimited,
			wantCalls:    3,
		},
		{
			name:         "server error is retried",
			statusCode:   http.StatusInternalServerError,
			responseBody: `{"error": {"message": "Internal server error"}}`,
			wantKind:     core.KindUpstream,
			wantCalls:    3,
		},
		{
			name:         "empty choices",
			statusCode:   http.StatusOK,
			responseBody: `{"choices": []}`,
			wantKind:     core.KindEmptyResponse,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if r.URL.Path != "/chat/completions" {
					t.Errorf("Path = %q, want %q", r.URL.Path, "/chat/completions")
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("Content-Type = %q, want %q", r.Header.Get("Content-Type"), "application/json")
				}
				if got := r.Header.Get("Authorization"); got != "Bearer sk-real" {
					t.Errorf("Authorization = %q, want %q", got, "Bearer sk-real")
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			provider := newTestProvider("sk-real", server.URL)
			result, err := provider.Query(context.Background(), "Hello", "")

			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", got, tt.wantCalls)
			}

			if tt.wantKind != "" {
				var pe *core.ProviderError
				if !errors.As(err, &pe) {
					t.Fatalf("error = %v, want *core.ProviderError", err)
				}
				if pe.Kind != tt.wantKind {
					t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", result.Text, tt.wantText)
			}
			if result.InputTokens != 10 || result.OutputTokens != 20 || result.TotalTokens != 30 {
				t.Errorf("usage = %d/%d/%d, want 10/20/30", result.InputTokens, result.OutputTokens, result.TotalTokens)
			}
			if result.Provider != core.ProviderOpenAI {
				t.Errorf("Provider = %q, want %q", result.Provider, core.ProviderOpenAI)
			}
		})
	}
}

func TestQuery_RequestBody(t *testing.T) {
	var got providers.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := newTestProvider("sk-real", server.URL)
	if _, err := provider.Query(context.Background(), "What is Go?", "gpt-4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Model != "gpt-4" {
		t.Errorf("model = %q, want %q", got.Model, "gpt-4")
	}
	if got.MaxTokens != 150 {
		t.Errorf("max_tokens = %d, want 150", got.MaxTokens)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "What is Go?" {
		t.Errorf("messages = %+v, want one user message", got.Messages)
	}
}

func TestQuery_UnsupportedVersionFallsBack(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req providers.ChatRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		model = req.Model
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := newTestProvider("sk-real", server.URL)
	if _, err := provider.Query(context.Background(), "q", "gpt-99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != modeldata.DefaultOpenAIVersion {
		t.Errorf("model = %q, want default %q", model, modeldata.DefaultOpenAIVersion)
	}
}

func TestQuery_ForwardsRequestID(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Client-Request-Id")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := newTestProvider("sk-real", server.URL)
	ctx := core.WithRequestID(context.Background(), "req-42")
	if _, err := provider.Query(ctx, "q", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header != "req-42" {
		t.Errorf("X-Client-Request-Id = %q, want %q", header, "req-42")
	}
}

func TestQuery_MissingKey(t *testing.T) {
	provider := newTestProvider("", "http://127.0.0.1:1")
	_, err := provider.Query(context.Background(), "q", "")

	var pe *core.ProviderError
	if !errors.As(err, &pe) || pe.Kind != core.KindAPIKeyMissing {
		t.Fatalf("error = %v, want api_key_missing", err)
	}
}

func TestQuery_Simulated(t *testing.T) {
	provider := newTestProvider("test_openai", "http://127.0.0.1:1")
	result, err := provider.Query(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Text, "The actual OpenAI model is currently unavailable") {
		t.Errorf("Text = %q, want simulated text", result.Text)
	}
}

func TestCheckAvailability(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       bool
	}{
		{"models listed", http.StatusOK, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"server error", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/models" {
					t.Errorf("probe = %s %s, want GET /models", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"data":[]}`))
			}))
			defer server.Close()

			provider := newTestProvider("sk-real", server.URL)
			if got := provider.CheckAvailability(context.Background()); got != tt.want {
				t.Errorf("CheckAvailability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAvailability_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	provider := newTestProvider("sk-real", url)
	if provider.CheckAvailability(context.Background()) {
		t.Error("CheckAvailability() = true for a closed server")
	}
}

func TestIsValidClientRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc-123", true},
		{strings.Repeat("a", 512), true},
		{strings.Repeat("a", 513), false},
		{"naïve", false},
	}
	for _, tt := range tests {
		if got := isValidClientRequestID(tt.id); got != tt.want {
			t.Errorf("isValidClientRequestID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
