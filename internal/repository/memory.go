package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainrepo "TickLab/internal/domain/repository"
	"TickLab/internal/service/cache"
)

// MemoryCache is the in-process fallback state cache used when Redis is
// not configured. State survives restarts only through the record store.
type MemoryCache struct {
	ttl *cache.TTL
}

// NewMemoryCache builds a memory-backed state cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{ttl: cache.NewTTL(time.Minute)}
}

var _ domainrepo.StateCache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.ttl.Get(key)
	if !ok {
		return domainrepo.ErrCacheMiss
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	c.ttl.Set(key, raw, ttl)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	c.ttl.Delete(keys...)
	return nil
}

func (c *MemoryCache) Close() error {
	c.ttl.Close()
	return nil
}
