package connections

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/events"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/llm/providers"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

// TemporalHint lets the connection engine skip an LLM call when the
// temporal pattern analyzer (C8) has already established that two
// memories belong to the same recurring pattern (SPEC_FULL.md §4.7.2 step
// 3, "temporal-pattern free shortcut"). Nil is a valid, always-false hint.
type TemporalHint interface {
	SharesPattern(a, b *model.Memory) bool
}

// ProviderBuilder constructs an llm.Provider for a provider name; injected
// so tests can stub it out instead of hitting real SDKs.
type ProviderBuilder func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error)

// candidate is a memory scored against the source memory by some
// similarity signal (embedding cosine similarity or a search backend's own
// score), prior to triage.
type candidate struct {
	memory     *model.Memory
	similarity float64
}

// Engine implements C7: the full connection-discovery pipeline from
// candidate fetch through smart triage, optional LLM classification, graph
// update, and two-hop pattern augmentation (SPEC_FULL.md §4.7).
type Engine struct {
	store    storage.Memory
	embed    *embedding.Service
	graph    *graph.Graph
	cost     *cost.Tracker
	cfg      config.ConnectionConfig
	costCfg  config.CostControlConfig
	temporal TemporalHint
	emitter  *events.Emitter

	buildProvider ProviderBuilder
	providers     map[string]llm.Provider
}

func NewEngine(store storage.Memory, embed *embedding.Service, g *graph.Graph, tracker *cost.Tracker, cfg config.ConnectionConfig, costCfg config.CostControlConfig, temporal TemporalHint, sink storage.EventSink) *Engine {
	return &Engine{
		store:         store,
		embed:         embed,
		graph:         g,
		cost:          tracker,
		cfg:           cfg,
		costCfg:       costCfg,
		temporal:      temporal,
		emitter:       events.New(sink),
		buildProvider: defaultProviderBuilder,
		providers:     map[string]llm.Provider{},
	}
}

// WithProviderBuilder overrides provider construction, for tests.
func (e *Engine) WithProviderBuilder(b ProviderBuilder) *Engine {
	e.buildProvider = b
	return e
}

// Discover runs the full pipeline for one memory and returns the
// connections it persisted.
func (e *Engine) Discover(ctx context.Context, userID, agentID, memoryID string) ([]*model.Connection, error) {
	if !e.cfg.Enabled {
		return nil, nil
	}
	source, err := e.store.GetByID(ctx, userID, memoryID)
	if err != nil {
		return nil, model.NewError(model.KindStorage, "connections.Discover", err)
	}
	if source == nil {
		return nil, nil
	}

	candidates, err := e.fetchCandidates(ctx, userID, agentID, source)
	if err != nil {
		return nil, model.NewError(model.KindStorage, "connections.Discover", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].similarity > candidates[j].similarity })

	autoSimilar, autoRelated, llmBand := e.triage(candidates)

	connections := make([]*model.Connection, 0, len(autoSimilar)+len(autoRelated)+len(llmBand))
	connections = append(connections, e.buildAutoConnections(userID, source, autoSimilar, model.ConnSimilar, model.TriageAutoSimilar)...)
	connections = append(connections, e.buildAutoConnections(userID, source, autoRelated, model.ConnRelated, model.TriageAutoRelated)...)
	connections = append(connections, e.classifyBand(ctx, userID, agentID, source, llmBand)...)

	if len(connections) == 0 {
		return nil, nil
	}
	if err := e.store.CreateConnections(ctx, userID, connections); err != nil {
		return nil, model.NewError(model.KindStorage, "connections.Discover", err)
	}
	for _, c := range connections {
		e.graph.AddEdge(c)
	}

	twoHop := e.augmentTwoHop(userID, source, connections)
	if len(twoHop) > 0 {
		if err := e.store.CreateConnections(ctx, userID, twoHop); err != nil {
			log.Warn().Err(err).Msg("connections: failed to persist two-hop connections")
		} else {
			for _, c := range twoHop {
				e.graph.AddEdge(c)
			}
			connections = append(connections, twoHop...)
		}
	}

	e.emitConnected(ctx, userID, agentID, connections)
	return connections, nil
}

// fetchCandidates gathers candidate memories and a similarity score for
// each. It tries the adapter's cheapest, universally-supported path first
// and only reaches for richer search capabilities when that path comes up
// empty: a plain Recall, then a HybridSearch seeded with a generic recency
// query (not the source's own content, which would just re-rank Recall's
// own result set), then a pure vector search, then nothing at all
// (SPEC_FULL.md §4.7.2 step 1).
func (e *Engine) fetchCandidates(ctx context.Context, userID, agentID string, source *model.Memory) ([]candidate, error) {
	limit := e.cfg.MaxCandidates
	if limit <= 0 {
		limit = 50
	}
	var vec []float32
	if e.embed != nil {
		v, err := e.embed.Embed(ctx, source.Content)
		if err != nil {
			log.Warn().Err(err).Msg("connections: embed source failed, continuing without vector")
		} else {
			vec = v
		}
	}

	mems, err := e.store.Recall(ctx, userID, agentID, "", model.RecallOptions{Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	if len(mems) > 0 {
		out := make([]candidate, 0, len(mems))
		for _, m := range mems {
			if m.ID == source.ID {
				continue
			}
			sim := cosineSimilarity(vec, memoryEmbedding(m))
			out = append(out, candidate{memory: m, similarity: sim})
		}
		return out, nil
	}

	opts := storage.VectorSearchOptions{Limit: limit + 1}

	if e.store.SupportsHybridSearch() {
		scored, err := e.store.HybridSearch(ctx, userID, agentID, "", vec, opts)
		if err != nil {
			return nil, err
		}
		if len(scored) > 0 {
			return scoredToCandidates(scored, source.ID), nil
		}
	}

	if len(vec) > 0 && e.store.SupportsVectorSearch() {
		scored, err := e.store.SearchByVector(ctx, userID, agentID, vec, opts)
		if err != nil {
			return nil, err
		}
		return scoredToCandidates(scored, source.ID), nil
	}

	return nil, nil
}

func scoredToCandidates(scored []storage.ScoredMemory, excludeID string) []candidate {
	out := make([]candidate, 0, len(scored))
	for _, s := range scored {
		if s.Memory == nil || s.Memory.ID == excludeID {
			continue
		}
		out = append(out, candidate{memory: s.Memory, similarity: s.Score})
	}
	return out
}

func memoryEmbedding(m *model.Memory) []float32 {
	if m == nil || m.Metadata == nil {
		return nil
	}
	if v, ok := m.Metadata["embedding"].([]float32); ok {
		return v
	}
	return nil
}

// triage splits candidates into the three smart-triage bands (SPEC_FULL.md
// §4.7.2 step 3): scores at or above AutoSimilar/AutoRelated are classified
// without an LLM call; the remainder down to LLMRequired goes to the LLM
// band, capped to the cost-control batch size so only the strongest
// candidates in that band consume an LLM call.
func (e *Engine) triage(candidates []candidate) (autoSimilar, autoRelated, llmBand []candidate) {
	t := e.cfg.Thresholds
	for _, c := range candidates {
		switch {
		case c.similarity >= t.AutoSimilar:
			autoSimilar = append(autoSimilar, c)
		case c.similarity >= t.AutoRelated:
			autoRelated = append(autoRelated, c)
		case c.similarity >= t.LLMRequired:
			llmBand = append(llmBand, c)
		}
	}
	llmCap := e.costCfg.MaxLLMCallsPerBatch
	if llmCap > 0 && len(llmBand) > llmCap {
		llmBand = llmBand[:llmCap]
	}
	return autoSimilar, autoRelated, llmBand
}

func (e *Engine) buildAutoConnections(userID string, source *model.Memory, band []candidate, ct model.ConnectionType, method model.TriageMethod) []*model.Connection {
	out := make([]*model.Connection, 0, len(band))
	for _, c := range band {
		out = append(out, &model.Connection{
			UserID:         userID,
			SourceMemoryID: source.ID,
			TargetMemoryID: c.memory.ID,
			ConnectionType: ct,
			Strength:       c.similarity,
			Reason:         string(method),
			Metadata:       map[string]any{"triageMethod": string(method)},
		})
	}
	return out
}

// classifyBand runs the temporal-pattern shortcut and, failing that, LLM
// classification for each LLM-band candidate, falling back to a
// deterministic classification if the LLM call errors.
func (e *Engine) classifyBand(ctx context.Context, userID, agentID string, source *model.Memory, band []candidate) []*model.Connection {
	if len(band) == 0 {
		return nil
	}
	out := make([]*model.Connection, 0, len(band))
	var provider llm.Provider
	modelName := ""

	for _, c := range band {
		if e.temporal != nil && e.temporal.SharesPattern(source, c.memory) {
			out = append(out, &model.Connection{
				UserID:         userID,
				SourceMemoryID: source.ID,
				TargetMemoryID: c.memory.ID,
				ConnectionType: model.ConnRelated,
				Strength:       c.similarity,
				Reason:         string(model.TriageTemporalFree),
				Metadata:       map[string]any{"triageMethod": string(model.TriageTemporalFree)},
			})
			continue
		}

		if e.costCfg.PreferEmbeddingWhenSimilar && c.similarity >= e.cfg.Thresholds.AutoRelated {
			out = append(out, &model.Connection{
				UserID:         userID,
				SourceMemoryID: source.ID,
				TargetMemoryID: c.memory.ID,
				ConnectionType: model.ConnRelated,
				Strength:       c.similarity,
				Reason:         "embedding similarity preferred over LLM call",
				Metadata:       map[string]any{"triageMethod": string(model.TriageAutoRelated)},
			})
			continue
		}

		if !e.cost.CheckBudget(agentID, e.budgetFor(agentID)) {
			ct, strength, reason := fallbackClassify(source, c.memory)
			out = append(out, e.fallbackConnection(userID, source, c.memory, ct, strength, reason+" (monthly budget exhausted)"))
			continue
		}

		if provider == nil {
			p, name, err := e.resolveProviderFor(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("connections: could not build LLM provider, using deterministic fallback")
			} else {
				provider = p
				modelName = name
			}
		}
		if provider == nil {
			ct, strength, reason := fallbackClassify(source, c.memory)
			out = append(out, e.fallbackConnection(userID, source, c.memory, ct, strength, reason))
			continue
		}

		chosenModel := selectModel(e.cfg, greaterImportance(source, c.memory), len(source.Content)+len(c.memory.Content))
		if chosenModel == "" {
			chosenModel = modelName
		}
		ct, strength, reason, err := classifyPair(ctx, provider, chosenModel, e.cfg, source, c.memory)
		if err != nil {
			log.Warn().Err(err).Str("memoryId", c.memory.ID).Msg("connections: LLM classification failed, using deterministic fallback")
			ct, strength, reason = fallbackClassify(source, c.memory)
			out = append(out, e.fallbackConnection(userID, source, c.memory, ct, strength, reason))
			continue
		}
		out = append(out, &model.Connection{
			UserID:         userID,
			SourceMemoryID: source.ID,
			TargetMemoryID: c.memory.ID,
			ConnectionType: ct,
			Strength:       strength,
			Reason:         reason,
			Metadata:       map[string]any{"triageMethod": string(model.TriageLLMClassify), "model": chosenModel},
		})
	}
	return out
}

func (e *Engine) fallbackConnection(userID string, source, target *model.Memory, ct model.ConnectionType, strength float64, reason string) *model.Connection {
	return &model.Connection{
		UserID:         userID,
		SourceMemoryID: source.ID,
		TargetMemoryID: target.ID,
		ConnectionType: ct,
		Strength:       strength,
		Reason:         reason,
		Metadata:       map[string]any{"triageMethod": string(model.TriageLLMClassify), "fallback": true},
	}
}

func (e *Engine) budgetFor(agentID string) float64 {
	if !e.costCfg.HasMonthlyBudget {
		return 0
	}
	_ = agentID
	return e.costCfg.MonthlyBudget
}

func greaterImportance(a, b *model.Memory) float64 {
	if a.Importance > b.Importance {
		return a.Importance
	}
	return b.Importance
}

func (e *Engine) resolveProviderFor(ctx context.Context) (llm.Provider, string, error) {
	providerName := resolveProvider(e.cfg.Provider)
	if p, ok := e.providers[providerName]; ok {
		return p, providerName, nil
	}
	apiKey := resolveAPIKey("", providerName)
	if apiKey == "" {
		return nil, "", fmt.Errorf("no API key configured for provider %q", providerName)
	}
	p, err := e.buildProvider(ctx, providerName, apiKey, "", e.cfg.Model)
	if err != nil {
		return nil, "", err
	}
	e.providers[providerName] = p
	return p, providerName, nil
}

// augmentTwoHop looks, for each newly persisted edge, at the target's
// existing graph neighbors and proposes a weaker transitive connection
// back to the source when a strong second hop exists (SPEC_FULL.md §4.7.4).
// At most two two-hop connections are proposed per discovered edge to keep
// this from exploding combinatorially on dense graphs.
func (e *Engine) augmentTwoHop(userID string, source *model.Memory, fresh []*model.Connection) []*model.Connection {
	const minHopStrength = 0.5
	const maxPerEdge = 2
	var out []*model.Connection
	for _, edge := range fresh {
		if edge.Strength < minHopStrength {
			continue
		}
		hops := e.graph.Neighbors(edge.TargetMemoryID, minHopStrength)
		added := 0
		for _, hop := range hops {
			other := hop.To
			if other == edge.TargetMemoryID {
				other = hop.From
			}
			if other == source.ID || other == edge.TargetMemoryID {
				continue
			}
			if added >= maxPerEdge {
				break
			}
			combined := edge.Strength * hop.Strength
			out = append(out, &model.Connection{
				UserID:         userID,
				SourceMemoryID: source.ID,
				TargetMemoryID: other,
				ConnectionType: model.ConnRelated,
				Strength:       combined,
				Reason:         "two-hop traversal via " + edge.TargetMemoryID,
				Metadata:       map[string]any{"triageMethod": string(model.TriageTwoHop)},
			})
			added++
		}
	}
	return out
}

// GetConnectionPath finds the shortest node path between two memories in
// the in-process graph (spec §4.7.6), bounded by the graph's configured
// default traversal depth.
func (e *Engine) GetConnectionPath(src, dst string) ([]string, bool) {
	return e.graph.FindPath(src, dst, e.graph.DefaultMaxDepth(), 0)
}

// GetMemoryClusters returns connected components of at least minSize nodes
// (spec §4.7.6, default minSize 3).
func (e *Engine) GetMemoryClusters(minSize int) [][]string {
	if minSize <= 0 {
		minSize = 3
	}
	clusters := e.graph.Clusters(0)
	out := clusters[:0]
	for _, c := range clusters {
		if len(c) >= minSize {
			out = append(out, c)
		}
	}
	return out
}

// CentralMemory pairs a memory with its centrality normalized to [0,1]
// (spec §4.7.6).
type CentralMemory struct {
	MemoryID   string
	Centrality float64
}

// GetCentralMemories ranks the top limit memories by weighted-degree
// centrality, normalized by max(1, nodeCount-1) (spec §4.7.6).
func (e *Engine) GetCentralMemories(limit int) []CentralMemory {
	scores := e.graph.CentralMemories(limit)
	norm := math.Max(1, float64(e.graph.NodeCount()-1))
	out := make([]CentralMemory, len(scores))
	for i, s := range scores {
		out[i] = CentralMemory{MemoryID: s.MemoryID, Centrality: math.Min(1, s.Centrality/norm)}
	}
	return out
}

// FindConnectedMemories delegates to the storage adapter's own
// depth-limited traversal, preferred over an in-process-only graph walk
// since the adapter may hold connections the in-process graph has evicted
// under its per-node cap (spec §4.7.6).
func (e *Engine) FindConnectedMemories(ctx context.Context, userID, memoryID string, depth int) (storage.ConnectedResult, error) {
	return e.store.FindConnectedMemories(ctx, userID, memoryID, depth)
}

func (e *Engine) emitConnected(ctx context.Context, userID, agentID string, connections []*model.Connection) {
	e.emitter.Connected(ctx, userID, agentID, connections)
}

func defaultProviderBuilder(ctx context.Context, providerName, apiKey, baseURL, modelName string) (llm.Provider, error) {
	return providers.Build(ctx, providerName, apiKey, baseURL, modelName)
}
