package recall

import (
	"context"
	"testing"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

func baseRecallConfig() config.RecallConfig {
	return config.RecallConfig{
		DefaultLimit:          10,
		MinRelevanceThreshold: 0,
		HybridSearchWeights:   config.HybridWeights{Vector: 0.4, Text: 0.3, Temporal: 0.2, Procedural: 0.1},
		EnableVectorSearch:    false,
		EnableRelatedMemories: true,
		MaxRelatedDepth:       5,
		CacheResults:          true,
		DefaultConnectionHops: 1,
	}
}

func newTestService(store storage.Memory, g *graph.Graph, cfg config.RecallConfig) *Service {
	embedCfg := config.EmbeddingConfig{Enabled: true, CacheEnabled: false, Dimensions: 4}
	svc := embedding.NewService(embedCfg, embedding.NewMockProvider(4))
	if g == nil {
		g = graph.New(config.GraphConfig{MaxConnections: 50, MaxDepth: 6, StrengthThreshold: 0.1})
	}
	return NewService(store, svc, g, nil, nil, cfg, config.ConnectionConfig{Enabled: true})
}

func mustStoreMemory(t *testing.T, store storage.Memory, userID, agentID string, typ model.Type, content string) string {
	t.Helper()
	id, err := store.Store(context.Background(), userID, agentID, model.MemoryData{
		Type: typ, Content: content, Importance: 0.5, Resonance: 1,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return id
}

func TestRecallRequiresUserAndQuery(t *testing.T) {
	store := storage.NewInMemory(nil)
	svc := newTestService(store, nil, baseRecallConfig())
	if _, err := svc.Recall(context.Background(), Query{}); err == nil {
		t.Fatal("expected validation error for empty query")
	}
}

func TestRecallReturnsTextMatches(t *testing.T) {
	store := storage.NewInMemory(nil)
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "debugging the flaky payment gateway test")
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "unrelated note about lunch plans")

	svc := newTestService(store, nil, baseRecallConfig())
	res, err := svc.Recall(context.Background(), Query{UserID: "u1", AgentID: "a1", Query: "payment gateway test"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(res.Memories) == 0 {
		t.Fatal("expected at least one result")
	}
	if res.Memories[0].Memory.Content != "debugging the flaky payment gateway test" {
		t.Errorf("expected the payment gateway memory to rank first, got %q", res.Memories[0].Memory.Content)
	}
}

func TestRecallCachesRepeatQueries(t *testing.T) {
	store := storage.NewInMemory(nil)
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "a cached memory about rockets")

	svc := newTestService(store, nil, baseRecallConfig())
	q := Query{UserID: "u1", AgentID: "a1", Query: "rockets"}

	first, err := svc.Recall(context.Background(), q)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call should not be served from cache")
	}
	second, err := svc.Recall(context.Background(), q)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if !second.FromCache {
		t.Error("second identical call should be served from cache")
	}
}

func TestRecallMinRelevanceFiltersResults(t *testing.T) {
	store := storage.NewInMemory(nil)
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "completely unrelated filler content")

	svc := newTestService(store, nil, baseRecallConfig())
	res, err := svc.Recall(context.Background(), Query{
		UserID: "u1", AgentID: "a1", Query: "quantum tunneling diode physics",
		MinRelevance: 0.9, HasMinRelevance: true,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(res.Memories) != 0 {
		t.Errorf("expected no results above a 0.9 relevance floor for an unrelated query, got %d", len(res.Memories))
	}
}

func TestRecallUsesHybridSearchWhenEnabled(t *testing.T) {
	store := storage.NewInMemory(nil)
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "debugging the flaky payment gateway test")
	mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "unrelated note about lunch plans")

	cfg := baseRecallConfig()
	cfg.EnableVectorSearch = true
	svc := newTestService(store, nil, cfg)

	res, err := svc.Recall(context.Background(), Query{UserID: "u1", AgentID: "a1", Query: "payment gateway test"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if res.SearchStrategy != "hybrid" {
		t.Errorf("expected SearchStrategy %q, got %q", "hybrid", res.SearchStrategy)
	}
	if len(res.Memories) == 0 {
		t.Fatal("expected at least one result")
	}
	if fh, _ := res.Memories[0].Metadata["fromHybridSearch"].(bool); !fh {
		t.Error("expected top result's metadata to mark fromHybridSearch")
	}
}

func TestRecallGraphEnrichmentAttachesNeighbor(t *testing.T) {
	store := storage.NewInMemory(nil)
	seedID := mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "investigating the database outage")
	neighborID := mustStoreMemory(t, store, "u1", "a1", model.TypeEpisodic, "completely unrelated and should only appear via the graph")

	g := graph.New(config.GraphConfig{MaxConnections: 50, MaxDepth: 6, StrengthThreshold: 0.1})
	g.AddEdge(&model.Connection{ID: "c1", UserID: "u1", SourceMemoryID: seedID, TargetMemoryID: neighborID, ConnectionType: model.ConnRelated, Strength: 0.9})

	svc := newTestService(store, g, baseRecallConfig())
	res, err := svc.Recall(context.Background(), Query{UserID: "u1", AgentID: "a1", Query: "database outage"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	found := false
	for _, m := range res.Memories {
		if m.Memory.ID == neighborID {
			found = true
		}
	}
	if !found {
		t.Error("expected the graph-connected neighbor to be included via enrichment")
	}
}

func TestTextRelevancePhraseMatchScoresHighest(t *testing.T) {
	exact := textRelevance("the quick brown fox", "quick brown fox", nil)
	partial := textRelevance("the quick animal", "quick brown fox", nil)
	if exact <= partial {
		t.Errorf("expected phrase match (%f) to score higher than partial match (%f)", exact, partial)
	}
}

func TestTemporalRelevanceDecaysWithAge(t *testing.T) {
	now := int64(1_000_000_000)
	recent := temporalRelevance(now, now, 0, 0, false)
	old := temporalRelevance(now-120*86400*1000, now, 0, 0, false)
	if recent <= old {
		t.Errorf("expected recent (%f) to outscore old (%f)", recent, old)
	}
}

func TestJaccardIdenticalContentIsOne(t *testing.T) {
	if j := jaccard("alpha beta gamma", "alpha beta gamma"); j != 1 {
		t.Errorf("expected jaccard 1 for identical content, got %f", j)
	}
}

func TestLevenshteinSimilarityIdentical(t *testing.T) {
	if s := levenshteinSimilarity("abc", "abc"); s != 1 {
		t.Errorf("expected 1 for identical strings, got %f", s)
	}
}

func TestResultCacheHighWaterEvictsDownToLowWater(t *testing.T) {
	c := newResultCache(0, 4, 2)
	for i := 0; i < 5; i++ {
		c.put(string(rune('a'+i)), Result{})
	}
	c.mu.Lock()
	n := c.cache.Len()
	c.mu.Unlock()
	if n > 2 {
		t.Errorf("expected cleanup to bring entry count down to lowWater (2), got %d", n)
	}
}
