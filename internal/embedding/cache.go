package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey hashes content+model the way the teacher's token cache keys its
// entries, truncated to 16 hex characters since full collision resistance is
// unnecessary for a bounded LRU.
func cacheKey(content, model string) string {
	sum := sha256.Sum256([]byte(content + "||" + model))
	return hex.EncodeToString(sum[:])[:16]
}

// vectorCache is a size-bounded LRU of embedding vectors, backed by
// hashicorp/golang-lru/v2 rather than the teacher's hand-rolled map+ticker
// (see DESIGN.md: internal/embedding). It additionally tracks hit/miss
// counts for parity with the teacher's cache.Stats() surface.
type vectorCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []float32]
	hits  int64
	misses int64
}

func newVectorCache(size int) *vectorCache {
	if size <= 0 {
		size = 1000
	}
	c, _ := lru.New[string, []float32](size)
	return &vectorCache{cache: c}
}

func (c *vectorCache) get(content, model string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(cacheKey(content, model))
	if ok {
		c.hits++
		out := make([]float32, len(v))
		copy(out, v)
		return out, true
	}
	c.misses++
	return nil, false
}

func (c *vectorCache) put(content, model string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	c.cache.Add(cacheKey(content, model), cp)
}

type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

func (c *vectorCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: c.cache.Len()}
}
