// Package router tracks provider availability and decides which provider
// serves a request, including the one-shot fallback after a failure.
package router

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"llmproxy/internal/core"
)

// DefaultAvailabilityTTL is how long probe results are trusted.
const DefaultAvailabilityTTL = 300 * time.Second

// DefaultCheckTimeout bounds a single availability check.
const DefaultCheckTimeout = 10 * time.Second

// taskPreference maps a task type to the provider preferred for it.
var taskPreference = map[core.TaskType]core.ProviderType{
	core.TaskTextGeneration:    core.ProviderOpenAI,
	core.TaskSummarization:     core.ProviderClaude,
	core.TaskSentimentAnalysis: core.ProviderGemini,
	core.TaskQuestionAnswering: core.ProviderMistral,
}

// Config configures a Router.
type Config struct {
	// AvailabilityTTL is the age after which availability is re-probed.
	AvailabilityTTL time.Duration
	// CheckTimeout bounds each provider's availability check. Checks are
	// detached from the cancellation of the request that triggered them.
	CheckTimeout time.Duration
	// TestMode disables probing; availability comes only from SetAvailability.
	TestMode bool

	// OnRefresh, if set, receives every freshly probed snapshot.
	OnRefresh func(map[core.ProviderType]bool)

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
	// IntN returns a uniform int in [0,n). Nil uses math/rand/v2, whose
	// global source is seeded from the OS entropy pool.
	IntN func(n int) int

	Logger *slog.Logger
}

// Router owns the availability map and the selection policy.
type Router struct {
	clients core.ClientResolver

	// mu guards available and lastUpdated.
	mu          sync.RWMutex
	available   map[core.ProviderType]bool
	lastUpdated time.Time

	// refreshMu serializes probe rounds so only one caller probes at a time.
	refreshMu sync.Mutex
	testMode  atomic.Bool

	ttl          time.Duration
	checkTimeout time.Duration
	onRefresh    func(map[core.ProviderType]bool)
	now          func() time.Time
	intN         func(int) int
	logger       *slog.Logger
}

// New creates a Router over clients. Nothing is probed until first use.
func New(clients core.ClientResolver, cfg Config) *Router {
	r := &Router{
		clients:      clients,
		available:    make(map[core.ProviderType]bool, len(core.Providers())),
		ttl:          cfg.AvailabilityTTL,
		checkTimeout: cfg.CheckTimeout,
		onRefresh:    cfg.OnRefresh,
		now:          cfg.Now,
		intN:         cfg.IntN,
		logger:       cfg.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultAvailabilityTTL
	}
	if r.checkTimeout <= 0 {
		r.checkTimeout = DefaultCheckTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.intN == nil {
		r.intN = rand.IntN
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.testMode.Store(cfg.TestMode)
	return r
}

// SetTestMode toggles probing off (true) or back on (false).
func (r *Router) SetTestMode(enabled bool) {
	r.testMode.Store(enabled)
}

// SetAvailability overrides the availability bit of p.
func (r *Router) SetAvailability(p core.ProviderType, available bool) {
	r.mu.Lock()
	r.available[p] = available
	r.mu.Unlock()
}

// Availability returns a snapshot of the availability map, probing first if stale.
// Providers never probed or set are reported as unavailable.
func (r *Router) Availability(ctx context.Context) map[core.ProviderType]bool {
	r.ensureFresh(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[core.ProviderType]bool, len(core.Providers()))
	for _, p := range core.Providers() {
		snapshot[p] = r.available[p]
	}
	return snapshot
}

// Status returns the availability snapshot in its wire form.
func (r *Router) Status(ctx context.Context) core.StatusResponse {
	return core.NewStatusResponse(r.Availability(ctx))
}

// Refresh probes every provider now, regardless of the TTL. It is a no-op in test mode.
func (r *Router) Refresh(ctx context.Context) {
	if r.testMode.Load() {
		return
	}
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	r.probeLocked(ctx)
}

func (r *Router) stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdated.IsZero() || r.now().Sub(r.lastUpdated) >= r.ttl
}

func (r *Router) ensureFresh(ctx context.Context) {
	if r.testMode.Load() || !r.stale() {
		return
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	// A concurrent caller may have refreshed while we waited.
	if !r.stale() {
		return
	}
	r.probeLocked(ctx)
}

// probeLocked must be called with refreshMu held. Probes run without mu so
// readers are never blocked on upstream I/O. Checks ignore the caller's
// cancellation and are each bounded by checkTimeout instead.
func (r *Router) probeLocked(ctx context.Context) {
	r.logger.Debug("updating provider availability")

	ctx = context.WithoutCancel(ctx)

	results := make(map[core.ProviderType]bool, len(core.Providers()))
	for _, p := range core.Providers() {
		client, err := r.clients.Get(p)
		if err != nil {
			results[p] = false
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
		results[p] = client.CheckAvailability(checkCtx)
		cancel()
	}

	r.mu.Lock()
	for p, ok := range results {
		r.available[p] = ok
	}
	r.lastUpdated = r.now()
	r.mu.Unlock()

	if r.onRefresh != nil {
		r.onRefresh(results)
	}
}

func (r *Router) isAvailable(ctx context.Context, p core.ProviderType) bool {
	r.ensureFresh(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available[p]
}

// availableExcept lists available providers in declaration order, skipping exclude.
func (r *Router) availableExcept(ctx context.Context, exclude core.ProviderType) []core.ProviderType {
	r.ensureFresh(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.ProviderType
	for _, p := range core.Providers() {
		if p != exclude && r.available[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) randomAvailable(ctx context.Context) (core.ProviderType, error) {
	candidates := r.availableExcept(ctx, "")
	if len(candidates) == 0 {
		return "", core.NewUnavailableError(core.ProviderAll)
	}
	return candidates[r.intN(len(candidates))], nil
}

// Route picks the provider for req: the requested model if available, then the
// task type's preferred provider if available, then a random available one.
func (r *Router) Route(ctx context.Context, req *core.QueryRequest) (core.ProviderType, error) {
	if req.Model != "" {
		if r.isAvailable(ctx, req.Model) {
			r.logger.Debug("using requested provider", "provider", req.Model)
			return req.Model, nil
		}
		r.logger.Warn("requested provider not available, trying alternatives", "provider", req.Model)
	}

	if preferred, ok := taskPreference[req.TaskType]; ok && r.isAvailable(ctx, preferred) {
		r.logger.Debug("routed by task type", "provider", preferred, "task_type", req.TaskType)
		return preferred, nil
	}

	p, err := r.randomAvailable(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Debug("using random available provider", "provider", p)
	return p, nil
}

// FallbackOnError picks a replacement for failed after err. Only retryable
// provider errors qualify. The result is never failed itself.
func (r *Router) FallbackOnError(ctx context.Context, failed core.ProviderType, req *core.QueryRequest, err error) (core.ProviderType, error) {
	var pe *core.ProviderError
	if !errors.As(err, &pe) || !pe.Retryable {
		return "", core.NewUnavailableError(core.ProviderAll)
	}

	candidates := r.availableExcept(ctx, failed)
	if len(candidates) == 0 {
		return "", core.NewUnavailableError(core.ProviderAll)
	}

	if req.Model != "" && req.Model != failed {
		for _, p := range candidates {
			if p == req.Model {
				r.logger.Debug("falling back to requested provider", "provider", p)
				return p, nil
			}
		}
	}

	fallback := candidates[r.intN(len(candidates))]
	r.logger.Debug("falling back", "from", failed, "to", fallback)
	return fallback, nil
}
