package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// CachedSearcher is a read-through cache over another Searcher. Entries
// are keyed by (category, hash of context and terms) and expire after a
// TTL, so repeated research of the same gap within a session, or across
// sessions of the same project, reuses results.
type CachedSearcher struct {
	inner Searcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	category string
	digest   string
}

type cacheEntry struct {
	results []Result
	expires time.Time
}

// NewCachedSearcher wraps inner with a TTL cache.
func NewCachedSearcher(inner Searcher, ttl time.Duration) *CachedSearcher {
	return &CachedSearcher{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Search implements Searcher. Failures of the inner searcher are never
// cached.
func (c *CachedSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	key := keyOf(q)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.expires) {
		out := make([]Result, len(entry.results))
		copy(out, entry.results)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	results, err := c.inner.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	stored := make([]Result, len(results))
	copy(stored, results)
	c.entries[key] = cacheEntry{results: stored, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return results, nil
}

// Purge drops expired entries.
func (c *CachedSearcher) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}

func keyOf(q Query) cacheKey {
	sum := sha256.Sum256([]byte(q.Context + "\x00" + strings.Join(q.Terms, "\x00")))
	return cacheKey{category: q.Category, digest: hex.EncodeToString(sum[:])}
}
