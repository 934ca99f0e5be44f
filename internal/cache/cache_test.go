package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_GetSetExpiry(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	c := NewMemory[string](0, WithNow(clk.Now))

	c.Set("a", "one", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "one", v)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entries expire at their deadline")

	c.Set("b", "two", 0)
	_, ok = c.Get("b")
	assert.False(t, ok, "zero ttl stores nothing")

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
	assert.Equal(t, 1, st.Size)
}

func TestMemory_DeleteExpiredAndClear(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	c := NewMemory[int](0, WithNow(clk.Now))
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	c.Set("gone", 3, time.Hour)
	c.Delete("gone")

	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, c.DeleteExpired())
	st := c.Stats()
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, int64(1), st.Evictions)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestMemory_JanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemory[string](5 * time.Millisecond)
	c.Set("x", "y", time.Millisecond)
	require.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory[int](time.Minute)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Go(func() {
			for j := range 100 {
				c.Set("k", i*j, time.Minute)
				c.Get("k")
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int64(400), c.Stats().Sets)
}

func TestNop(t *testing.T) {
	var c Cache[string] = Nop[string]{}
	c.Set("k", "v", time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Delete("k")
	c.Clear()
	assert.Equal(t, Stats{}, c.Stats())
}
