package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mnema-ai/mnema/pkg/types"
)

// QueryCache memoizes recent search results. Entries expire on read after a
// TTL; the LRU bound caps memory. The cache is safe for concurrent use.
type QueryCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
}

type cacheEntry struct {
	results  []types.SearchResult
	storedAt time.Time
}

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 2 * time.Minute
)

// NewQueryCache creates a cache holding up to size entries, each valid for
// ttl. Non-positive arguments fall back to the defaults.
func NewQueryCache(size int, ttl time.Duration) (*QueryCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &QueryCache{entries: entries, ttl: ttl}, nil
}

// Get returns the cached results for req, if present and fresh.
func (c *QueryCache) Get(req Request) ([]types.SearchResult, bool) {
	key := cacheKey(req)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	// Callers get their own copy so a mutated slice cannot poison the cache.
	out := make([]types.SearchResult, len(entry.results))
	copy(out, entry.results)
	return out, true
}

// Put stores the results for req.
func (c *QueryCache) Put(req Request, results []types.SearchResult) {
	stored := make([]types.SearchResult, len(results))
	copy(stored, results)
	c.entries.Add(cacheKey(req), cacheEntry{results: stored, storedAt: time.Now()})
}

// Purge drops every entry. Call after writes that must be visible to the
// next identical query.
func (c *QueryCache) Purge() {
	c.entries.Purge()
}

// Len reports the current number of cached entries, expired or not.
func (c *QueryCache) Len() int {
	return c.entries.Len()
}

// cacheKey hashes every request field that affects the result set. UseCache
// itself is excluded: it controls cache participation, not the answer.
func cacheKey(req Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%.6f\x00%.6f\x00%.6f\x00%d",
		req.UserID, req.Query, req.Mode,
		req.KeywordWeight, req.VectorWeight, req.Threshold, req.Limit)))
	return hex.EncodeToString(sum[:])
}
