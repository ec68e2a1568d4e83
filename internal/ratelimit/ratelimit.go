// Package ratelimit provides token-bucket admission control for the gateway:
// one global bucket and a bounded directory of per-client buckets.
package ratelimit

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// Directory bounds. The directory is pruned by half whenever it grows past
// MaxClients, or past pruneFloor once pruneInterval has elapsed.
const (
	MaxClients    = 10_000
	pruneFloor    = 100
	pruneInterval = 5 * time.Minute
	shardCount    = 32
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 10
)

// Config configures a Limiter.
type Config struct {
	// RequestsPerMinute is the refill rate. Zero means a drained bucket never refills.
	RequestsPerMinute int
	// Burst is the bucket capacity and initial credit. Zero rejects everything.
	Burst int

	// Now is the clock. Nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// Limiter admits requests globally and per client.
type Limiter struct {
	limit rate.Limit
	burst int

	global *rate.Limiter
	shards [shardCount]*shard
	size   atomic.Int64

	pruneMu     sync.Mutex
	lastCleanup atomic.Int64

	allowClientFunc atomic.Pointer[func(string) bool]

	now    func() time.Time
	logger *slog.Logger
}

// New creates a Limiter with full buckets.
func New(cfg Config) *Limiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		limit:  rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:  cfg.Burst,
		now:    now,
		logger: logger,
	}
	l.global = l.newBucket()
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*rate.Limiter)}
	}
	l.lastCleanup.Store(now().UnixNano())
	return l
}

func (l *Limiter) newBucket() *rate.Limiter {
	b := rate.NewLimiter(l.limit, l.burst)
	// Start the refill clock at our time source, not the wall clock.
	b.SetBurstAt(l.now(), l.burst)
	return b
}

// Allow takes one token from the global bucket.
func (l *Limiter) Allow() bool {
	return l.global.AllowN(l.now(), 1)
}

// AllowClient takes one token from the bucket of clientID, creating it on
// first use. If a predicate was installed with SetAllowClientFunc it decides instead.
func (l *Limiter) AllowClient(clientID string) bool {
	if fn := l.allowClientFunc.Load(); fn != nil {
		return (*fn)(clientID)
	}

	bucket := l.bucket(clientID)
	allowed := bucket.AllowN(l.now(), 1)
	if !allowed {
		l.logger.Warn("rate limit exceeded", "client", clientID)
	}
	return allowed
}

// SetAllowClientFunc replaces the per-client path with fn. A nil fn restores it.
func (l *Limiter) SetAllowClientFunc(fn func(clientID string) bool) {
	if fn == nil {
		l.allowClientFunc.Store(nil)
		return
	}
	l.allowClientFunc.Store(&fn)
}

// Clients returns the number of tracked per-client buckets.
func (l *Limiter) Clients() int {
	return int(l.size.Load())
}

func (l *Limiter) shardFor(clientID string) *shard {
	return l.shards[xxhash.Sum64String(clientID)%shardCount]
}

func (l *Limiter) bucket(clientID string) *rate.Limiter {
	s := l.shardFor(clientID)

	s.mu.Lock()
	b, ok := s.buckets[clientID]
	if !ok {
		b = l.newBucket()
		s.buckets[clientID] = b
		l.size.Add(1)
	}
	s.mu.Unlock()

	if !ok {
		l.maybePrune()
	}
	return b
}

func (l *Limiter) maybePrune() {
	size := l.size.Load()
	now := l.now()
	stale := now.Sub(time.Unix(0, l.lastCleanup.Load())) >= pruneInterval
	if size <= MaxClients && !(size > pruneFloor && stale) {
		return
	}

	l.pruneMu.Lock()
	defer l.pruneMu.Unlock()

	// Another caller may have pruned while we waited.
	size = l.size.Load()
	stale = now.Sub(time.Unix(0, l.lastCleanup.Load())) >= pruneInterval
	if size <= MaxClients && !(size > pruneFloor && stale) {
		return
	}

	target := size / 2
	var removed int64
	for _, s := range l.shards {
		if removed >= target {
			break
		}
		s.mu.Lock()
		for id := range s.buckets {
			if removed >= target {
				break
			}
			delete(s.buckets, id)
			removed++
		}
		s.mu.Unlock()
	}
	l.size.Add(-removed)
	l.lastCleanup.Store(now.UnixNano())

	l.logger.Debug("pruned client rate limiters", "removed", removed, "remaining", l.size.Load())
}
