package filter

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSweepInterval is how often the background pass evicts expired entries.
const DefaultSweepInterval = time.Minute

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// MessageCache is a bounded LRU store with per-entry TTL. It memoizes
// expensive per-message derivations (extracted links, dedup hashes) keyed by
// chat and message id, and doubles as the dedup window index.
type MessageCache struct {
	cache *lru.Cache[string, cacheEntry]
}

// NewMessageCache creates a message cache holding at most size entries.
func NewMessageCache(size int) (*MessageCache, error) {
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create message cache: %w", err)
	}
	return &MessageCache{cache: cache}, nil
}

// Key builds the canonical chat+message cache key.
func Key(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// Set stores a value with its own TTL.
func (c *MessageCache) Set(key string, value any, ttl time.Duration) {
	c.cache.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(ttl)})
}

// Get returns a value, expiring it lazily when its TTL has passed.
func (c *MessageCache) Get(key string) (any, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Seen reports whether the key is present and unexpired, and refreshes it
// when absent. Used by the dedup gate: the first caller gets false, later
// callers inside the window get true.
func (c *MessageCache) Seen(key string, window time.Duration) bool {
	if _, ok := c.Get(key); ok {
		return true
	}
	c.Set(key, struct{}{}, window)
	return false
}

// Len returns the current entry count, expired entries included until swept.
func (c *MessageCache) Len() int {
	return c.cache.Len()
}

// Sweep removes all expired entries in one pass.
func (c *MessageCache) Sweep() int {
	removed := 0
	now := time.Now()
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// SweepLoop runs periodic sweeps until the context is cancelled.
func (c *MessageCache) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
