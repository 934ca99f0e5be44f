// Package cache keeps short-lived values, such as node search results, in
// memory or in redis.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL cache of values of type V.
type Cache[V any] interface {
	// Get returns the value stored under key unless it expired.
	Get(key string) (V, bool)
	// Set stores value under key for ttl. A ttl <= 0 stores nothing.
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats counts cache traffic.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type counters struct {
	hits, misses, sets, evictions atomic.Int64
}

func (c *counters) snapshot(size int) Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Memory is an in-process Cache. A janitor goroutine drops expired entries
// when a cleanup interval is set; Stop ends it.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
	stats   counters

	stop     chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

// WithNow replaces the clock used for expiry.
func WithNow(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// NewMemory returns an empty Memory cache. cleanupInterval <= 0 disables the
// janitor; expired entries are then only skipped on read.
func NewMemory[V any](cleanupInterval time.Duration, opts ...MemoryOption) *Memory[V] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     o.now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		c.stats.misses.Add(1)
		var zero V
		return zero, false
	}
	c.stats.hits.Add(1)
	return e.value, true
}

func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	c.stats.sets.Add(1)
}

func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

func (c *Memory[V]) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return c.stats.snapshot(n)
}

// DeleteExpired drops expired entries and returns how many were removed.
func (c *Memory[V]) DeleteExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	c.stats.evictions.Add(int64(n))
	return n
}

// Stop ends the janitor. It is safe to call more than once.
func (c *Memory[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Memory[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Nop caches nothing.
type Nop[V any] struct{}

func (Nop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}
func (Nop[V]) Set(string, V, time.Duration) {}
func (Nop[V]) Delete(string)                {}
func (Nop[V]) Clear()                       {}
func (Nop[V]) Stats() Stats                 { return Stats{} }

var (
	_ Cache[int] = (*Memory[int])(nil)
	_ Cache[int] = Nop[int]{}
)
