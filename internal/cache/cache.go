// Package cache provides the in-memory response cache for completed queries.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"

	"llmproxy/internal/core"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultTTL      = 300 * time.Second
	DefaultMaxItems = 1000
)

// Config configures a Cache.
type Config struct {
	Enabled bool
	// TTL is measured from the write; reads do not extend it.
	TTL time.Duration
	// MaxItems bounds the number of live entries.
	MaxItems int

	// Now is the clock. Nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type entry struct {
	response  core.QueryResponse
	expiresAt time.Time
}

// Cache stores query responses keyed by request fingerprint.
// It is safe for concurrent use.
type Cache struct {
	enabled  bool
	ttl      time.Duration
	maxItems int

	// mu serializes writes and purges so the size bound holds; reads go straight to store.
	mu    sync.Mutex
	store *gocache.Cache

	now    func() time.Time
	logger *slog.Logger
}

// New creates a cache. The backing store evicts expired entries in the background.
func New(cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		enabled:  cfg.Enabled,
		ttl:      cfg.TTL,
		maxItems: cfg.MaxItems,
		now:      now,
		logger:   logger,
	}
	cleanup := cfg.TTL
	if cleanup <= 0 {
		cleanup = DefaultTTL
	}
	c.store = gocache.New(cfg.TTL, cleanup)

	logger.Info("cache initialized",
		"enabled", cfg.Enabled,
		"ttl", cfg.TTL,
		"max_items", cfg.MaxItems,
	)
	return c
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns the response stored for req, if any and not expired.
func (c *Cache) Get(req *core.QueryRequest) (*core.QueryResponse, bool) {
	if !c.enabled {
		return nil, false
	}

	key := Fingerprint(req)
	v, ok := c.store.Get(key)
	if !ok {
		c.logger.Debug("cache miss", "key", key)
		return nil, false
	}
	e := v.(entry)
	if !c.now().Before(e.expiresAt) {
		c.deleteExpired(key)
		c.logger.Debug("cache entry expired", "key", key)
		return nil, false
	}

	c.logger.Debug("cache hit", "key", key)
	resp := e.response
	return &resp, true
}

// Set stores a copy of resp under req's fingerprint, replacing any previous entry.
// When the cache is full the entry closest to expiry is evicted.
func (c *Cache) Set(req *core.QueryRequest, resp *core.QueryResponse) {
	if !c.enabled || resp == nil || c.ttl <= 0 || c.maxItems <= 0 {
		return
	}

	key := Fingerprint(req)
	e := entry{response: *resp, expiresAt: c.now().Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store.Get(key); !exists && c.store.ItemCount() >= c.maxItems {
		c.evictLocked()
	}
	c.store.Set(key, e, c.ttl)

	c.logger.Debug("added response to cache", "key", key, "model", resp.Model)
}

// Len returns the number of stored entries, including any not yet purged.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.store.Flush()
}

// deleteExpired removes key only if the stored entry is still expired, so a
// fresh entry written after the read is kept.
func (c *Cache) deleteExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.store.Get(key)
	if !ok {
		return
	}
	if !c.now().Before(v.(entry).expiresAt) {
		c.store.Delete(key)
	}
}

func (c *Cache) evictLocked() {
	c.store.DeleteExpired()

	items := c.store.Items()
	if len(items) < c.maxItems {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
	)
	for k, item := range items {
		e := item.Object.(entry)
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	c.store.Delete(oldestKey)
}

// fingerprintKey fixes the field order of the hashed document.
type fingerprintKey struct {
	Query    string `json:"query"`
	Model    string `json:"model"`
	TaskType string `json:"task_type"`
}

// Fingerprint returns the hex SHA-256 of the request's query, model and task type.
// Request ID and model version are not part of the key.
func Fingerprint(req *core.QueryRequest) string {
	data, err := json.Marshal(fingerprintKey{
		Query:    req.Query,
		Model:    req.Model.String(),
		TaskType: req.TaskType.String(),
	})
	if err != nil {
		// Plain strings always marshal; keep a deterministic key regardless.
		data = []byte(req.Query + ":" + req.Model.String() + ":" + req.TaskType.String())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
