package recall

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// TemporalSource exposes the most recently analyzed patterns for an agent,
// satisfied structurally by *temporal.Analyzer without importing that
// package directly (spec §4.9.9 temporal boost).
type TemporalSource interface {
	CachedPatterns(agentID string) []model.TemporalPattern
}

// Service implements C9 (SPEC_FULL.md §4.9): the hybrid recall pipeline.
type Service struct {
	store    storage.Memory
	embed    *embedding.Service
	graph    *graph.Graph
	emitter  *events.Emitter
	temporal TemporalSource

	cfg     config.RecallConfig
	connCfg config.ConnectionConfig

	cache   *resultCache
	metrics *metricsTracker

	now func() time.Time
}

// NewService wires a recall Service. sink and temporal are optional (nil is
// valid): without a sink, accessed events are simply not emitted; without a
// temporal source, the temporal-boost step (§4.9.9) is skipped.
func NewService(store storage.Memory, embed *embedding.Service, g *graph.Graph, sink storage.EventSink, temporalSrc TemporalSource, cfg config.RecallConfig, connCfg config.ConnectionConfig) *Service {
	return &Service{
		store:    store,
		embed:    embed,
		graph:    g,
		emitter:  events.New(sink),
		temporal: temporalSrc,
		cfg:      cfg,
		connCfg:  connCfg,
		cache:    newResultCache(cfg.CacheTTL, cfg.CacheHighWater, cfg.CacheLowWater),
		metrics:  newMetricsTracker(),
		now:      time.Now,
	}
}

// Metrics returns a snapshot of running recall statistics (spec §4.9.12).
func (s *Service) Metrics() Metrics {
	return s.metrics.snapshot(s.cache.hitRate())
}

var allMemoryTypes = []model.Type{model.TypeWorking, model.TypeEpisodic, model.TypeSemantic, model.TypeProcedural}

// Recall runs the full twelve-step hybrid recall pipeline (spec §4.9.3).
func (s *Service) Recall(ctx context.Context, q Query) (Result, error) {
	start := s.now()
	if err := validateQuery(q); err != nil {
		return Result{}, err
	}
	q.Query = optimizeQuery(q.Query)

	key := cacheKey(q)
	if s.cfg.CacheResults {
		if cached, ok := s.cache.get(key); ok {
			cached.FromCache = true
			s.metrics.record(q.Query, float64(s.now().Sub(start).Milliseconds()), cached.Memories)
			return cached, nil
		}
	}

	types := q.MemoryTypes
	if !q.HasMemoryTypes || len(types) == 0 {
		types = allMemoryTypes
	}

	var queryEmbedding []float32
	if s.embed != nil && s.cfg.EnableVectorSearch {
		if v, err := s.embed.Embed(ctx, q.Query); err != nil {
			log.Warn().Err(err).Msg("recall: query embedding failed, falling back to text-only search")
		} else {
			queryEmbedding = v
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = 50
	}
	searchLimit := limit * 3
	if searchLimit < 20 {
		searchLimit = 20
	}

	var results []UnifiedResult
	var tierErrors []tierError
	usedHybrid := false
	for _, t := range types {
		got, hybrid, err := s.searchTier(ctx, q, t, queryEmbedding, searchLimit)
		if err != nil {
			tierErrors = append(tierErrors, tierError{Tier: t, Err: err})
			continue
		}
		usedHybrid = usedHybrid || hybrid
		results = append(results, got...)
	}
	searchStrategy := "text"
	if usedHybrid {
		searchStrategy = "hybrid"
	}
	if len(results) == 0 && len(tierErrors) == len(types) && len(types) > 0 {
		return Result{}, model.NewError(model.KindStorage, "recall.Recall", fmt.Errorf("all %d tiers failed: %v", len(tierErrors), tierErrors))
	}
	for _, te := range tierErrors {
		log.Warn().Err(te.Err).Str("tier", string(te.Tier)).Msg("recall: tier search failed, continuing with remaining tiers")
	}

	if err := s.enrichConnections(ctx, q.UserID, results); err != nil {
		log.Warn().Err(err).Msg("recall: connection enrichment failed")
	}

	if q.wantsConnections() && s.connCfg.Enabled {
		results = s.enrichGraph(ctx, q, results)
	}
	if q.BoostCentralMemories {
		s.boostCentrality(results)
	}
	s.boostTemporal(q.AgentID, results)

	conversationContext := extractConversationContext(results)

	if q.wantsRelated() && s.cfg.EnableRelatedMemories {
		sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
		top := results
		if len(top) > 10 {
			top = top[:10]
		}
		discoverRelationships(top, s.cfg.MaxRelatedDepth)
	}

	minRelevance := s.cfg.MinRelevanceThreshold
	if q.HasMinRelevance {
		minRelevance = q.MinRelevance
	}
	filtered := results[:0]
	for _, r := range results {
		if r.Relevance >= minRelevance {
			filtered = append(filtered, r)
		}
	}
	results = filtered

	sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}

	result := Result{Memories: results, ConversationContext: conversationContext, SearchStrategy: searchStrategy}

	s.emitAccessed(ctx, q.UserID, q.AgentID, results)

	if s.cfg.CacheResults {
		s.cache.put(key, result)
	}
	s.metrics.record(q.Query, float64(s.now().Sub(start).Milliseconds()), results)

	return result, nil
}

func validateQuery(q Query) error {
	const op = "recall.Recall"
	if q.UserID == "" {
		return model.Validation(op, "userId is required")
	}
	if q.AgentID == "" {
		return model.Validation(op, "agentId is required")
	}
	if q.Query == "" {
		return model.Validation(op, "query is required")
	}
	if q.HasMinRelevance && (q.MinRelevance < 0 || q.MinRelevance > 1) {
		return model.Validation(op, "minRelevance must be in [0,1]")
	}
	if q.Limit > 1000 {
		return model.Validation(op, "limit must not exceed 1000")
	}
	return nil
}

// searchTier runs §4.9.4's per-tier search: hybrid vector+text search when
// the adapter and embedding config support it, otherwise a text-only
// fallback scored with this tier's specific relevance formula. The bool
// return reports whether this tier's results came from HybridSearch, so
// Recall can roll it up into Result.SearchStrategy.
func (s *Service) searchTier(ctx context.Context, q Query, typ model.Type, queryEmbedding []float32, limit int) ([]UnifiedResult, bool, error) {
	if queryEmbedding != nil && s.store.SupportsHybridSearch() {
		scored, err := s.store.HybridSearch(ctx, q.UserID, q.AgentID, q.Query, queryEmbedding, storage.VectorSearchOptions{
			Limit: limit, Type: typ, HasType: true,
		})
		if err != nil {
			return nil, false, model.NewError(model.KindStorage, "recall.searchTier", err)
		}
		out := make([]UnifiedResult, 0, len(scored))
		for _, sm := range scored {
			out = append(out, UnifiedResult{Memory: sm.Memory, Relevance: sm.Score, Metadata: map[string]any{"fromHybridSearch": true}})
		}
		return out, true, nil
	}

	memories, err := s.store.Recall(ctx, q.UserID, q.AgentID, q.Query, model.RecallOptions{
		Type: typ, Limit: limit, TimeRangeStart: q.TimeRangeStart, TimeRangeEnd: q.TimeRangeEnd, HasTimeRange: q.HasTimeRange,
	})
	if err != nil {
		return nil, false, model.NewError(model.KindStorage, "recall.searchTier", err)
	}

	now := s.now().UnixMilli()
	out := make([]UnifiedResult, 0, len(memories))
	for _, m := range memories {
		rel := tierRelevance(m, q, now, s.cfg.HybridSearchWeights.Normalize())
		if typ == model.TypeWorking && rel < 0.1 {
			continue
		}
		out = append(out, UnifiedResult{Memory: m, Relevance: rel, Metadata: map[string]any{}})
	}
	return out, false, nil
}

// tierRelevance implements the text-only fallback formula for each tier
// (spec §4.9.4), then folds it into the hybrid-weighted combination (spec
// §4.9.5) with a zero vector signal since no embedding search ran.
func tierRelevance(m *model.Memory, q Query, nowMs int64, weights config.HybridWeights) float64 {
	text := textRelevance(m.Content, q.Query, m.Keywords)
	temporal := temporalRelevance(m.CreatedAt, nowMs, q.TimeRangeStart, q.TimeRangeEnd, q.HasTimeRange)

	var fallback float64
	switch m.Type {
	case model.TypeWorking:
		fallback = text
	case model.TypeEpisodic:
		fallback = 0.7*text + 0.3*temporal
	case model.TypeSemantic:
		confidence := m.MetaFloat("confidence")
		fallback = math.Min(1, text+0.2*confidence)
	case model.TypeProcedural:
		confidence := m.MetaFloat("confidence")
		contextMatch := text
		fallback = (confidence + contextMatch) / 2
	default:
		fallback = text
	}

	procedural := 0.0
	if m.Type == model.TypeProcedural {
		procedural = math.Min(1, float64(m.AccessCount)/100)
	}
	combined := weights.Vector*0 + weights.Text*text + weights.Temporal*temporal + weights.Procedural*procedural
	return math.Max(fallback, combined)
}

// enrichConnections attaches stored connections to each result and boosts
// relevance by up to 0.3 based on connection count (spec §4.9.6).
func (s *Service) enrichConnections(ctx context.Context, userID string, results []UnifiedResult) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	conns, err := s.store.GetConnectionsForMemories(ctx, userID, ids)
	if err != nil {
		return model.NewError(model.KindStorage, "recall.enrichConnections", err)
	}
	byMemory := map[string][]*model.Connection{}
	for _, c := range conns {
		byMemory[c.SourceMemoryID] = append(byMemory[c.SourceMemoryID], c)
		byMemory[c.TargetMemoryID] = append(byMemory[c.TargetMemoryID], c)
	}
	for i := range results {
		own := byMemory[results[i].Memory.ID]
		if len(own) == 0 {
			continue
		}
		results[i].Connections = own
		boost := math.Min(0.3, 0.1*float64(len(own)))
		results[i].Relevance = math.Min(1, results[i].Relevance+boost)
	}
	return nil
}

// enrichGraph traverses the in-process connection graph from the top-5
// results by relevance, attaching newly discovered neighbors (spec §4.9.7).
func (s *Service) enrichGraph(ctx context.Context, q Query, results []UnifiedResult) []UnifiedResult {
	if s.graph == nil || len(results) == 0 {
		return results
	}
	hops := q.ConnectionHops
	if !q.HasConnectionHops || hops <= 0 {
		hops = s.cfg.DefaultConnectionHops
	}
	if hops <= 0 {
		hops = 1
	}

	seeds := append([]UnifiedResult(nil), results...)
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Relevance > seeds[j].Relevance })
	if len(seeds) > 5 {
		seeds = seeds[:5]
	}

	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Memory.ID] = true
	}

	typeFilter := map[model.ConnectionType]bool{}
	for _, t := range q.ConnectionTypes {
		typeFilter[t] = true
	}

	var additions []UnifiedResult
	for _, seed := range seeds {
		frontier := []string{seed.Memory.ID}
		for hop := 0; hop < hops; hop++ {
			var next []string
			for _, id := range frontier {
				for _, e := range s.graph.Neighbors(id, 0) {
					if len(typeFilter) > 0 && !typeFilter[e.Type] {
						continue
					}
					neighborID := e.To
					if e.To == id {
						neighborID = e.From
					}
					if seen[neighborID] {
						continue
					}
					seen[neighborID] = true
					mem, err := s.store.GetByID(ctx, q.UserID, neighborID)
					if err != nil || mem == nil {
						continue
					}
					additions = append(additions, UnifiedResult{
						Memory:    mem,
						Relevance: seed.Relevance * 0.7 * e.Strength,
						Metadata: map[string]any{
							"connectionSource":   seed.Memory.ID,
							"connectionType":     e.Type,
							"connectionStrength": e.Strength,
							"hopsFromQuery":      hop + 1,
						},
					})
					next = append(next, neighborID)
				}
			}
			frontier = next
		}
	}
	return append(results, additions...)
}

// boostCentrality multiplies relevance for memories with nonzero graph
// centrality (spec §4.9.8).
func (s *Service) boostCentrality(results []UnifiedResult) {
	if s.graph == nil || len(results) == 0 {
		return
	}
	central := s.graph.CentralMemories(len(results))
	scores := make(map[string]float64, len(central))
	for _, c := range central {
		scores[c.MemoryID] = c.Centrality
	}
	for i := range results {
		if c, ok := scores[results[i].Memory.ID]; ok && c > 0 {
			results[i].Relevance = math.Min(1, results[i].Relevance*(1+0.2*c))
		}
	}
}

// boostTemporal applies §4.9.9's pattern-driven boost: a daily pattern whose
// peak hours include the current hour, or a burst pattern, amplify the
// memories it covers.
func (s *Service) boostTemporal(agentID string, results []UnifiedResult) {
	if s.temporal == nil || len(results) == 0 {
		return
	}
	patterns := s.temporal.CachedPatterns(agentID)
	if len(patterns) == 0 {
		return
	}
	currentHour := s.now().UTC().Hour()

	byMemory := map[string]float64{}
	for _, p := range patterns {
		var boost float64
		switch p.Type {
		case model.PatternDaily:
			peaks, _ := p.Metadata["peakHours"].([]int)
			inPeak := false
			for _, h := range peaks {
				if h == currentHour {
					inPeak = true
					break
				}
			}
			if !inPeak {
				continue
			}
			boost = 0.3 * p.Confidence
		case model.PatternBurst:
			boost = 0.15 * p.Confidence
		default:
			continue
		}
		for _, id := range p.Memories {
			if boost > byMemory[id] {
				byMemory[id] = boost
			}
		}
	}
	if len(byMemory) == 0 {
		return
	}
	for i := range results {
		if boost, ok := byMemory[results[i].Memory.ID]; ok {
			results[i].Relevance = math.Min(1, results[i].Relevance*(1+boost))
		}
	}
}

// extractConversationContext returns the earliest
// metadata.originalConversationDate across all results, if any carry one
// (spec §4.9.3 step 8).
func extractConversationContext(results []UnifiedResult) string {
	var earliest string
	for _, r := range results {
		v := r.Memory.MetaString("originalConversationDate")
		if v == "" {
			continue
		}
		if earliest == "" || v < earliest {
			earliest = v
		}
	}
	return earliest
}

// emitAccessed fires a best-effort "accessed" event per returned memory
// (spec §4.9.3 step 12). The emitter itself handles the nil-sink and
// dispatch-failure cases; results are already computed and must still be
// returned regardless.
func (s *Service) emitAccessed(ctx context.Context, userID, agentID string, results []UnifiedResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Memory.ID)
	}
	s.emitter.Accessed(ctx, userID, agentID, ids)
}
