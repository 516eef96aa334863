// Package cache implements the two-tier (in-process LRU + Redis) cache
// described in spec §4.C: L1 -> L2 -> miss on read, write-through on write,
// delete-both on delete, with L2 outages degrading to L1-only service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// entry is what's stored in L1; the TTL is tracked alongside the LRU's own
// eviction policy because golang-lru/v2 has no native per-entry TTL.
type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expires)
}

// Cache is the two-tier cache. keys.go builds the key names, and
// GetJSON/SetJSON wrap Get/Set with a JSON codec.
type Cache struct {
	l1  *lru.Cache[string, entry]
	l2  *redis.Client
	ttl time.Duration
}

// New builds a Cache with an L1 capacity of size entries and ttl applied
// to both tiers. l2 may be nil, in which case the cache runs L1-only.
func New(size int, l2 *redis.Client, ttl time.Duration) (*Cache, error) {
	l1, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	return &Cache{l1: l1, l2: l2, ttl: ttl}, nil
}

// Get reads raw bytes for key: L1 first, then L2 (populating L1 on hit).
// Returns (nil, false, nil) on a clean miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if e, ok := c.l1.Get(key); ok {
		if !e.expired(time.Now()) {
			return e.value, true, nil
		}
		c.l1.Remove(key)
	}

	if c.l2 == nil {
		return nil, false, nil
	}

	val, err := c.l2.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		// L2 unavailable: degrade to L1-only, serve a miss rather than fail
		// the caller outright.
		log.Printf("cache: l2 get %q failed, degrading to l1-only: %v", key, err)
		return nil, false, nil
	}

	c.l1.Add(key, entry{value: val, expires: time.Now().Add(c.ttl)})
	return val, true, nil
}

// Set writes raw bytes to both tiers (write-through).
func (c *Cache) Set(ctx context.Context, key string, val []byte) error {
	c.l1.Add(key, entry{value: val, expires: time.Now().Add(c.ttl)})
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Set(ctx, key, val, c.ttl).Err(); err != nil {
		log.Printf("cache: l2 set %q failed, l1 still updated: %v", key, err)
	}
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.l1.Remove(key)
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Del(ctx, key).Err(); err != nil {
		log.Printf("cache: l2 delete %q failed: %v", key, err)
	}
	return nil
}

// GetJSON reads and JSON-decodes key into dest; ok is false on a clean miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON JSON-encodes value and writes it through both tiers.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.Set(ctx, key, raw)
}
