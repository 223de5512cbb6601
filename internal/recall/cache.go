package recall

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftlane/memoryengine/internal/model"
)

// cacheEntry pairs a cached Result with the wall-clock time it was written.
type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// resultCache is a TTL-aware cache of recall results, backed by
// hashicorp/golang-lru/v2 for eviction-order bookkeeping (same library the
// embedding service's vector cache uses, see DESIGN.md: internal/recall).
// The library bounds the cache at highWater entries and evicts least-
// recently-used automatically; cleanupLocked additionally drops TTL-expired
// entries and, once triggered, prunes max(100, count-lowWater) of the
// oldest survivors — a batch-cleanup policy the library itself doesn't
// provide.
type resultCache struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *cacheEntry]
	ttl       time.Duration
	highWater int
	lowWater  int
	cleaning  bool
	now       func() time.Time

	hits   int64
	misses int64
}

func newResultCache(ttl time.Duration, highWater, lowWater int) *resultCache {
	if highWater <= 0 {
		highWater = 1000
	}
	if lowWater <= 0 || lowWater >= highWater {
		lowWater = highWater / 2
	}
	c, _ := lru.New[string, *cacheEntry](highWater)
	return &resultCache{
		cache:     c,
		ttl:       ttl,
		highWater: highWater,
		lowWater:  lowWater,
		now:       time.Now,
	}
}

func cacheKey(q Query) string {
	types := append([]model.Type(nil), q.MemoryTypes...)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	connTypes := append([]model.ConnectionType(nil), q.ConnectionTypes...)
	sort.Slice(connTypes, func(i, j int) bool { return connTypes[i] < connTypes[j] })

	payload := struct {
		UserID         string
		AgentID        string
		Query          string
		MemoryTypes    []model.Type
		Limit          int
		MinRelevance   float64
		TimeRangeStart int64
		TimeRangeEnd   int64
		HasTimeRange   bool
		ConnTypes      []model.ConnectionType
	}{q.UserID, q.AgentID, optimizeQuery(q.Query), types, q.Limit, q.MinRelevance, q.TimeRangeStart, q.TimeRangeEnd, q.HasTimeRange, connTypes}

	b, _ := json.Marshal(payload)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// get returns a cached result if present and not expired.
func (c *resultCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		return Result{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.cache.Remove(key)
		c.misses++
		return Result{}, false
	}
	c.hits++
	return e.result, true
}

// put stores result under key and triggers a synchronous cleanup pass once
// the entry count reaches highWater. Only one cleanup runs at a time.
func (c *resultCache) put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, &cacheEntry{result: result, storedAt: c.now()})
	if c.cache.Len() >= c.highWater && !c.cleaning {
		c.cleaning = true
		c.cleanupLocked()
		c.cleaning = false
	}
}

// cleanupLocked first drops expired entries, then evicts the least-recently-
// used survivors (oldest-first, per the library's own ordering): at least
// 100 of them, and enough to bring the count down to lowWater.
func (c *resultCache) cleanupLocked() {
	if c.ttl > 0 {
		now := c.now()
		for _, k := range c.cache.Keys() {
			if e, ok := c.cache.Peek(k); ok && now.Sub(e.storedAt) > c.ttl {
				c.cache.Remove(k)
			}
		}
	}
	remove := c.cache.Len() - c.lowWater
	if remove < 100 {
		remove = 100
	}
	for i := 0; i < remove; i++ {
		if _, _, ok := c.cache.RemoveOldest(); !ok {
			break
		}
	}
}

func (c *resultCache) hitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
