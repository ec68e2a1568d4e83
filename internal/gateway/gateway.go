// Package gateway implements the completion pipeline: admission, validation,
// caching, routing, the provider call and the one-shot fallback. It is
// transport agnostic; the HTTP layer only renders what Process returns.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"llmproxy/internal/core"
)

// MaxQueryLength is the longest accepted query, in characters after trimming.
const MaxQueryLength = 32000

// User-facing error texts.
const (
	RateLimitMessage  = "Rate limit exceeded. Please try again later."
	EmptyQueryMessage = "Query cannot be empty"
)

var tooLongMessage = "Query exceeds maximum length of " + strconv.Itoa(MaxQueryLength) + " characters"

// Limiter admits requests per client.
type Limiter interface {
	AllowClient(clientID string) bool
}

// ResponseCache stores completed responses by request fingerprint.
type ResponseCache interface {
	Get(req *core.QueryRequest) (*core.QueryResponse, bool)
	Set(req *core.QueryRequest, resp *core.QueryResponse)
}

// Router selects providers.
type Router interface {
	Route(ctx context.Context, req *core.QueryRequest) (core.ProviderType, error)
	FallbackOnError(ctx context.Context, failed core.ProviderType, req *core.QueryRequest, err error) (core.ProviderType, error)
}

// Observer receives pipeline events, typically to update metrics.
type Observer interface {
	RateLimited()
	CacheLookup(hit bool)
	Completed(provider core.ProviderType, status int)
	Fallback(from, to core.ProviderType)
}

type nopObserver struct{}

func (nopObserver) RateLimited() {}
func (nopObserver) CacheLookup(bool) {}
func (nopObserver) Completed(core.ProviderType, int) {}
func (nopObserver) Fallback(core.ProviderType, core.ProviderType) {}

// Config wires the pipeline's collaborators.
type Config struct {
	Limiter  Limiter
	Cache    ResponseCache
	Router   Router
	Clients  core.ClientResolver
	Observer Observer
	Logger   *slog.Logger

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
	// NewRequestID generates IDs for requests that carry none. Nil uses UUIDv4.
	NewRequestID func() string
}

// Gateway processes completion requests.
type Gateway struct {
	limiter  Limiter
	cache    ResponseCache
	router   Router
	clients  core.ClientResolver
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a Gateway. Limiter, Cache, Router and Clients are required.
func New(cfg Config) (*Gateway, error) {
	if cfg.Limiter == nil || cfg.Cache == nil || cfg.Router == nil || cfg.Clients == nil {
		return nil, errors.New("gateway: limiter, cache, router and clients are required")
	}
	g := &Gateway{
		limiter:  cfg.Limiter,
		cache:    cfg.Cache,
		router:   cfg.Router,
		clients:  cfg.Clients,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewRequestID,
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	return g, nil
}

// Admit applies per-client rate limiting. It returns the rejection body when
// the client is over its limit.
func (g *Gateway) Admit(clientIP string) (*core.QueryResponse, bool) {
	if g.limiter.AllowClient(clientIP) {
		return nil, true
	}
	g.observer.RateLimited()
	g.logger.Warn("rate limit exceeded", "client", clientIP)
	return &core.QueryResponse{
		Error:     RateLimitMessage,
		ErrorType: core.ErrorTypeRateLimit,
		Timestamp: g.now(),
	}, false
}

// Process runs one completion request from clientIP and returns the HTTP
// status with the response body. req is modified in place: its query is
// trimmed and a request ID is assigned when missing.
func (g *Gateway) Process(ctx context.Context, clientIP string, req *core.QueryRequest) (int, *core.QueryResponse) {
	if resp, ok := g.Admit(clientIP); !ok {
		return http.StatusTooManyRequests, resp
	}

	req.Query = strings.TrimSpace(req.Query)
	if msg := validate(req.Query); msg != "" {
		return http.StatusBadRequest, &core.QueryResponse{
			Error:     msg,
			ErrorType: core.ErrorTypeValidation,
			Timestamp: g.now(),
			RequestID: req.RequestID,
		}
	}
	if req.RequestID == "" {
		req.RequestID = g.newID()
	}
	ctx = core.WithRequestID(ctx, req.RequestID)

	g.logger.Info("processing query request",
		"model", req.Model,
		"task_type", req.TaskType,
		"request_id", req.RequestID,
	)

	if cached, ok := g.cache.Get(req); ok {
		g.observer.CacheLookup(true)
		g.logger.Info("returning cached response", "request_id", req.RequestID)
		cached.Cached = true
		cached.RequestID = req.RequestID
		return http.StatusOK, cached
	}
	g.observer.CacheLookup(false)

	start := g.now()

	provider, err := g.router.Route(ctx, req)
	var result *core.QueryResult
	if err == nil {
		result, err = g.call(ctx, provider, req)
	}
	if err == nil {
		resp := g.success(req, provider, "", start, result)
		g.logger.Info("query completed",
			"model", provider,
			"response_time_ms", resp.ResponseTimeMs,
			"tokens", resp.TotalTokens,
			"request_id", req.RequestID,
		)
		return http.StatusOK, resp
	}

	var pe *core.ProviderError
	if !errors.As(err, &pe) {
		g.logger.Error("unexpected error processing query", "error", err, "request_id", req.RequestID)
		return http.StatusInternalServerError, &core.QueryResponse{
			Error:     "Internal server error: " + err.Error(),
			ErrorType: core.ErrorTypeInternal,
			Timestamp: g.now(),
			RequestID: req.RequestID,
		}
	}

	if pe.Retryable {
		if resp, ok := g.fallback(ctx, req, pe, start); ok {
			return http.StatusOK, resp
		}
	}

	g.logger.Error("error processing query", "error", pe, "request_id", req.RequestID)
	status := pe.HTTPStatusCode()
	failed, _ := core.ParseProviderType(pe.Provider)
	g.observer.Completed(failed, status)
	return status, &core.QueryResponse{
		Error:     pe.Message,
		ErrorType: core.ErrorTypeProvider,
		Model:     failed,
		Timestamp: g.now(),
		RequestID: req.RequestID,
	}
}

func validate(query string) string {
	if query == "" {
		return EmptyQueryMessage
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return tooLongMessage
	}
	return ""
}

func (g *Gateway) call(ctx context.Context, provider core.ProviderType, req *core.QueryRequest) (*core.QueryResult, error) {
	client, err := g.clients.Get(provider)
	if err != nil {
		return nil, err
	}
	result, err := client.Query(ctx, req.Query, req.ModelVersion)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("provider %s returned no result", provider)
	}
	return result, nil
}

// fallback retries once on another provider after a retryable failure.
func (g *Gateway) fallback(ctx context.Context, req *core.QueryRequest, cause *core.ProviderError, start time.Time) (*core.QueryResponse, bool) {
	failed, _ := core.ParseProviderType(cause.Provider)

	next, err := g.router.FallbackOnError(ctx, failed, req, cause)
	if err != nil {
		g.logger.Error("fallback failed", "from", failed, "error", err, "request_id", req.RequestID)
		return nil, false
	}
	g.observer.Fallback(failed, next)
	g.logger.Warn("falling back to another provider", "from", failed, "to", next, "request_id", req.RequestID)

	result, err := g.call(ctx, next, req)
	if err != nil {
		g.logger.Error("fallback failed", "from", failed, "to", next, "error", err, "request_id", req.RequestID)
		return nil, false
	}

	resp := g.success(req, next, failed, start, result)
	g.logger.Info("fallback query completed",
		"original_model", failed,
		"model", next,
		"response_time_ms", resp.ResponseTimeMs,
		"request_id", req.RequestID,
	)
	return resp, true
}

func (g *Gateway) success(req *core.QueryRequest, provider, original core.ProviderType, start time.Time, result *core.QueryResult) *core.QueryResponse {
	finished := g.now()
	resp := &core.QueryResponse{
		Response:       result.Text,
		Model:          provider,
		OriginalModel:  original,
		ResponseTimeMs: finished.Sub(start).Milliseconds(),
		Timestamp:      finished,
		Cached:         false,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		TotalTokens:    result.TotalTokens,
		NumTokens:      result.NumTokens,
		NumRetries:     result.NumRetries,
		RequestID:      req.RequestID,
	}
	g.cache.Set(req, resp)
	g.observer.Completed(provider, http.StatusOK)
	return resp
}
