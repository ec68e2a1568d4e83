// Package llmclient provides a base HTTP client for LLM providers with:
// - JSON request encoding
// - Standardized classification of upstream failures into core.ProviderError
// - Bounded retries with exponential backoff and jitter
// - Request hooks for metrics
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"llmproxy/internal/core"
	"llmproxy/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Hooks observe every upstream exchange. Zero value is a no-op.
	Hooks Hooks
}

// RequestInfo describes a finished upstream exchange.
type RequestInfo struct {
	Provider   string
	Method     string
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks are invoked around upstream requests.
type Hooks struct {
	OnRequestEnd func(ctx context.Context, info RequestInfo)
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client. A nil httpClient uses httpclient defaults.
func New(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewHTTPClient(nil)
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     any // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a single request. Any non-2xx status is returned as a
// *core.ProviderError classified by core.ParseProviderError; transport
// failures become timeout or unavailable errors.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.do(ctx, req)

	if c.config.Hooks.OnRequestEnd != nil {
		info := RequestInfo{
			Provider: c.config.ProviderName,
			Method:   req.Method,
			Endpoint: req.Endpoint,
			Duration: time.Since(start),
			Err:      err,
		}
		if resp != nil {
			info.StatusCode = resp.StatusCode
		} else {
			var pe *core.ProviderError
			if errors.As(err, &pe) {
				info.StatusCode = pe.StatusCode
			}
		}
		c.config.Hooks.OnRequestEnd(ctx, info)
	}

	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.config.ProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(c.config.ProviderName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, body, nil)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidResponseError(c.config.ProviderName, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidResponseError(c.config.ProviderName, err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// Apply provider-specific headers
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	// Apply request-specific headers
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// classifyTransportError turns a network failure into a retryable provider error.
func classifyTransportError(provider string, err error) *core.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTimeoutError(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewTimeoutError(provider, err)
	}
	unavailable := core.NewUnavailableError(provider)
	unavailable.Err = err
	return unavailable
}
