package recall

import (
	"sort"
	"sync"

	"github.com/driftlane/memoryengine/internal/model"
)

const maxPopularQueries = 100

// metricsTracker accumulates the running recall statistics exposed by
// Service.Metrics (spec §4.9.12): total query count, a running average
// response time, cache hit rate (delegated to the result cache), a
// memory-type distribution of returned results, and a popular-queries list
// bounded to maxPopularQueries entries.
type metricsTracker struct {
	mu sync.Mutex

	totalQueries  int64
	avgRespMillis float64
	typeCounts    map[model.Type]int64
	popular       map[string]*PopularQuery
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{
		typeCounts: map[model.Type]int64{},
		popular:    map[string]*PopularQuery{},
	}
}

// record folds one completed query into the running totals.
func (m *metricsTracker) record(query string, elapsedMillis float64, results []UnifiedResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.avgRespMillis += (elapsedMillis - m.avgRespMillis) / float64(m.totalQueries)

	for _, r := range results {
		m.typeCounts[r.Memory.Type]++
	}

	key := optimizeQuery(query)
	if key == "" {
		return
	}
	pq, ok := m.popular[key]
	if !ok {
		if len(m.popular) >= maxPopularQueries {
			m.evictLeastPopularLocked()
		}
		pq = &PopularQuery{Query: key}
		m.popular[key] = pq
	}
	var avgRel float64
	for _, r := range results {
		avgRel += r.Relevance
	}
	if len(results) > 0 {
		avgRel /= float64(len(results))
	}
	pq.AvgRelevance = (pq.AvgRelevance*float64(pq.Count) + avgRel) / float64(pq.Count+1)
	pq.Count++
}

func (m *metricsTracker) evictLeastPopularLocked() {
	var minKey string
	var minCount int64 = -1
	for k, pq := range m.popular {
		if minCount < 0 || pq.Count < minCount {
			minCount = pq.Count
			minKey = k
		}
	}
	if minKey != "" {
		delete(m.popular, minKey)
	}
}

// snapshot returns the current Metrics, with cacheHitRate supplied by the
// caller (the result cache owns its own hit/miss counters).
func (m *metricsTracker) snapshot(cacheHitRate float64) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	dist := make(map[model.Type]int64, len(m.typeCounts))
	for k, v := range m.typeCounts {
		dist[k] = v
	}

	popular := make([]PopularQuery, 0, len(m.popular))
	for _, pq := range m.popular {
		popular = append(popular, *pq)
	}
	sort.Slice(popular, func(i, j int) bool { return popular[i].Count > popular[j].Count })

	return Metrics{
		TotalQueries:           m.totalQueries,
		AvgResponseTimeMillis:  m.avgRespMillis,
		CacheHitRate:           cacheHitRate,
		MemoryTypeDistribution: dist,
		PopularQueries:         popular,
	}
}
