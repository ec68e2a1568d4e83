package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestAllow_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 60, Burst: 3, Now: clock.Now})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow())

	// 60 rpm refills one token per second.
	clock.Advance(500 * time.Millisecond)
	assert.False(t, l.Allow())
	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestAllow_RefillCappedAtBurst(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 600, Burst: 2, Now: clock.Now})

	clock.Advance(time.Hour)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestAllow_ZeroBurstAlwaysRejects(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 60, Burst: 0, Now: clock.Now})

	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow())
		clock.Advance(time.Minute)
	}
	assert.False(t, l.AllowClient("10.0.0.1"))
}

func TestAllow_ZeroRateNeverRefills(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 0, Burst: 2, Now: clock.Now})

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	clock.Advance(24 * time.Hour)
	assert.False(t, l.Allow())
}

func TestAllowClient_IndependentBuckets(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 0, Burst: 3, Now: clock.Now})

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowClient("1.1.1.1"))
	}
	assert.False(t, l.AllowClient("1.1.1.1"))

	assert.True(t, l.AllowClient("2.2.2.2"))
	assert.Equal(t, 2, l.Clients())

	// The global bucket is untouched by per-client admission.
	assert.True(t, l.Allow())
}

func TestAllowClient_CustomPredicate(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 10})

	var seen []string
	l.SetAllowClientFunc(func(id string) bool {
		seen = append(seen, id)
		return id == "trusted"
	})

	assert.True(t, l.AllowClient("trusted"))
	assert.False(t, l.AllowClient("other"))
	assert.Equal(t, []string{"trusted", "other"}, seen)
	assert.Zero(t, l.Clients(), "predicate path must not create buckets")

	l.SetAllowClientFunc(nil)
	assert.True(t, l.AllowClient("other"))
	assert.Equal(t, 1, l.Clients())
}

func TestAllowClient_DirectoryBounded(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 1})

	for i := 0; i <= MaxClients; i++ {
		l.AllowClient(fmt.Sprintf("client-%d", i))
		require.LessOrEqual(t, l.Clients(), MaxClients)
	}
	assert.Less(t, l.Clients(), MaxClients)
}

func TestAllowClient_PrunesAfterInterval(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 60, Burst: 1, Now: clock.Now})

	for i := 0; i < 150; i++ {
		l.AllowClient(fmt.Sprintf("client-%d", i))
	}
	require.Equal(t, 150, l.Clients())

	clock.Advance(pruneInterval)
	l.AllowClient("new-client")
	assert.Equal(t, 151-151/2, l.Clients())

	// Not stale anymore: growth alone below MaxClients does not prune.
	for i := 0; i < 50; i++ {
		l.AllowClient(fmt.Sprintf("late-%d", i))
	}
	assert.Equal(t, 151-151/2+50, l.Clients())
}

func TestAllowClient_SmallDirectoryNotPruned(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerMinute: 60, Burst: 1, Now: clock.Now})

	for i := 0; i < 50; i++ {
		l.AllowClient(fmt.Sprintf("client-%d", i))
	}
	clock.Advance(time.Hour)
	l.AllowClient("one-more")
	assert.Equal(t, 51, l.Clients())
}

func TestAllowClient_Concurrent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 0, Burst: 5})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AllowClient("shared") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
	assert.Equal(t, 1, l.Clients())
}
