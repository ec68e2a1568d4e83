package cache

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmproxy/internal/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, maxItems int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	c := New(Config{Enabled: true, TTL: time.Minute, MaxItems: maxItems, Now: clock.Now})
	return c, clock
}

func sampleResponse() *core.QueryResponse {
	return &core.QueryResponse{
		Response:       "Hi",
		Model:          core.ProviderOpenAI,
		ResponseTimeMs: 42,
		Timestamp:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		InputTokens:    5,
		OutputTokens:   2,
		TotalTokens:    7,
		NumTokens:      7,
		RequestID:      "req-1",
	}
}

func TestFingerprint(t *testing.T) {
	key := Fingerprint(&core.QueryRequest{Query: "Hello"})
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), key)
}

func TestFingerprint_Identity(t *testing.T) {
	base := core.QueryRequest{Query: "Hello", Model: core.ProviderOpenAI, TaskType: core.TaskSummarization}

	tests := []struct {
		name string
		req  core.QueryRequest
		same bool
	}{
		{"identical", base, true},
		{"different request id", core.QueryRequest{Query: "Hello", Model: core.ProviderOpenAI, TaskType: core.TaskSummarization, RequestID: "other"}, true},
		{"different model version", core.QueryRequest{Query: "Hello", Model: core.ProviderOpenAI, TaskType: core.TaskSummarization, ModelVersion: "gpt-4"}, true},
		{"different query", core.QueryRequest{Query: "Hello!", Model: core.ProviderOpenAI, TaskType: core.TaskSummarization}, false},
		{"different model", core.QueryRequest{Query: "Hello", Model: core.ProviderGemini, TaskType: core.TaskSummarization}, false},
		{"no model", core.QueryRequest{Query: "Hello", TaskType: core.TaskSummarization}, false},
		{"no task type", core.QueryRequest{Query: "Hello", Model: core.ProviderOpenAI}, false},
	}

	want := Fingerprint(&base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(&tt.req)
			if tt.same {
				assert.Equal(t, want, got)
			} else {
				assert.NotEqual(t, want, got)
			}
		})
	}
}

func TestFingerprint_FieldsDoNotBleed(t *testing.T) {
	a := Fingerprint(&core.QueryRequest{Query: "openai", TaskType: ""})
	b := Fingerprint(&core.QueryRequest{Query: "", Model: core.ProviderOpenAI})
	assert.NotEqual(t, a, b)
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(t, 10)
	req := &core.QueryRequest{Query: "Hello", RequestID: "req-1"}

	_, ok := c.Get(req)
	assert.False(t, ok)

	want := sampleResponse()
	c.Set(req, want)

	got, ok := c.Get(&core.QueryRequest{Query: "Hello", RequestID: "req-2"})
	require.True(t, ok)
	assert.Equal(t, *want, *got)
}

func TestSet_StoresCopy(t *testing.T) {
	c, _ := newTestCache(t, 10)
	req := &core.QueryRequest{Query: "Hello"}

	resp := sampleResponse()
	c.Set(req, resp)
	resp.Response = "mutated"

	got, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, "Hi", got.Response)

	got.Cached = true
	again, _ := c.Get(req)
	assert.False(t, again.Cached)
}

func TestSet_Overwrites(t *testing.T) {
	c, _ := newTestCache(t, 10)
	req := &core.QueryRequest{Query: "Hello"}

	c.Set(req, sampleResponse())
	second := sampleResponse()
	second.Response = "Hey"
	c.Set(req, second)

	got, ok := c.Get(req)
	require.True(t, ok)
	assert.Equal(t, "Hey", got.Response)
	assert.Equal(t, 1, c.Len())
}

func TestGet_ExpiresAfterWrite(t *testing.T) {
	c, clock := newTestCache(t, 10)
	req := &core.QueryRequest{Query: "Hello"}
	c.Set(req, sampleResponse())

	clock.Advance(59 * time.Second)
	_, ok := c.Get(req)
	assert.True(t, ok)

	// Reads do not extend the TTL.
	clock.Advance(time.Second)
	_, ok = c.Get(req)
	assert.False(t, ok)
}

func TestGet_ExpiredReadKeepsConcurrentWrite(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	req := &core.QueryRequest{Query: "Hello"}
	fresh := sampleResponse()
	fresh.Response = "fresh"

	// Once armed, the next clock read rewrites the key, as a concurrent Set
	// landing between the expired lookup and the purge would.
	var (
		c     *Cache
		armed bool
	)
	now := func() time.Time {
		if armed {
			armed = false
			c.Set(req, fresh)
		}
		return clock.Now()
	}
	c = New(Config{Enabled: true, TTL: time.Minute, MaxItems: 10, Now: now})
	c.Set(req, sampleResponse())

	clock.Advance(time.Minute)
	armed = true
	_, ok := c.Get(req)
	assert.False(t, ok)

	got, ok := c.Get(req)
	require.True(t, ok, "the entry written after the expired read must survive")
	assert.Equal(t, "fresh", got.Response)
}

func TestSet_BoundedSize(t *testing.T) {
	c, clock := newTestCache(t, 3)

	for i := 0; i < 5; i++ {
		c.Set(&core.QueryRequest{Query: fmt.Sprintf("q%d", i)}, sampleResponse())
		clock.Advance(time.Millisecond)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(&core.QueryRequest{Query: "q0"})
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(&core.QueryRequest{Query: "q4"})
	assert.True(t, ok)
}

func TestDisabled(t *testing.T) {
	c := New(Config{Enabled: false, TTL: time.Minute, MaxItems: 10})
	req := &core.QueryRequest{Query: "Hello"}

	c.Set(req, sampleResponse())
	_, ok := c.Get(req)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.False(t, c.Enabled())
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				req := &core.QueryRequest{Query: fmt.Sprintf("q%d", (i*100+j)%80)}
				c.Set(req, sampleResponse())
				c.Get(req)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestFlush(t *testing.T) {
	c, _ := newTestCache(t, 10)
	req := &core.QueryRequest{Query: "q"}
	c.Set(req, sampleResponse())
	require.Equal(t, 1, c.Len())

	c.Flush()

	assert.Zero(t, c.Len())
	_, ok := c.Get(req)
	assert.False(t, ok)
}
