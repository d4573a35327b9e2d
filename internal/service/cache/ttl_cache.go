package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// TTL is an in-process byte cache with per-key expiry. A background
// janitor evicts expired entries so the map does not grow unbounded
// between reads.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
	once    sync.Once
}

// NewTTL starts the cache with the given janitor sweep interval.
func NewTTL(sweepEvery time.Duration) *TTL {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := &TTL{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go c.janitor(sweepEvery)
	return c
}

// Get returns the value and whether it is present and unexpired.
func (c *TTL) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value. A ttl of zero means no expiry.
func (c *TTL) Set(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Delete removes keys.
func (c *TTL) Delete(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor. Idempotent.
func (c *TTL) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *TTL) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
