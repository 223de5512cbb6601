package system

import (
	"context"
	"testing"
	"time"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/connections"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/recall"
	"github.com/driftlane/memoryengine/internal/storage"
)

func testConfig() config.IntelligenceLayerConfig {
	return config.IntelligenceLayerConfig{
		Semantic: config.SemanticConfig{ConfidenceThreshold: 0.5},
		Working:  config.WorkingConfig{TTLSeconds: 60},
		Episodic: config.EpisodicConfig{DecayRate: 0.05},
		Recall: config.RecallConfig{
			DefaultLimit:        10,
			HybridSearchWeights: config.HybridWeights{Vector: 0.25, Text: 0.25, Temporal: 0.25, Procedural: 0.25},
		},
	}
}

func newTestSystem(t *testing.T) *MemorySystem {
	t.Helper()
	store := storage.NewInMemory(nil)
	embedCfg := config.EmbeddingConfig{Enabled: true, Dimensions: 4}
	svc := embedding.NewService(embedCfg, embedding.NewMockProvider(4))
	g := graph.New(config.GraphConfig{MaxConnections: 50, MaxDepth: 6, StrengthThreshold: 0.1})
	recallSvc := recall.NewService(store, svc, g, nil, nil, testConfig().Recall, config.ConnectionConfig{})
	return New(store, recallSvc, svc, nil, testConfig())
}

func TestStoreDefaultsToSemantic(t *testing.T) {
	sys := newTestSystem(t)
	id, err := sys.Store(context.Background(), "u1", "a1", "paris is the capital of france", "", false)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	m, err := sys.Semantic.GetByID(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m == nil || m.Type != model.TypeSemantic {
		t.Fatalf("expected a semantic memory, got %+v", m)
	}
}

func TestStoreRoutesToRequestedTier(t *testing.T) {
	sys := newTestSystem(t)
	id, err := sys.Store(context.Background(), "u1", "a1", "debugging session notes", model.TypeEpisodic, true)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m, err := sys.Episodic.GetByID(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m == nil || m.Type != model.TypeEpisodic {
		t.Fatalf("expected an episodic memory, got %+v", m)
	}
}

func TestStatsCountsStoredMemories(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	if _, err := sys.Store(ctx, "u1", "a1", "fact one", model.TypeSemantic, true); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := sys.Store(ctx, "u1", "a1", "fact two", model.TypeSemantic, true); err != nil {
		t.Fatalf("store: %v", err)
	}
	stats, err := sys.Stats(ctx, "u1", "", false)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("expected 2 memories, got %d", stats.TotalMemories)
	}
}

func TestStoreEnqueuesDiscoveryTask(t *testing.T) {
	sys := newTestSystem(t)
	q := connections.NewQueue(func(ctx context.Context, task connections.Task) {}, time.Hour)
	sys.WithQueue(q)

	id, err := sys.Store(context.Background(), "u1", "a1", "paris is the capital of france", model.TypeSemantic, true)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	if got := q.PendingCount(); got != 1 {
		t.Fatalf("expected Store to enqueue exactly one discovery task, got %d pending", got)
	}
}

func TestRecallQueryReturnsStoredMemory(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	if _, err := sys.Store(ctx, "u1", "a1", "the quarterly report is due friday", model.TypeSemantic, true); err != nil {
		t.Fatalf("store: %v", err)
	}
	result, err := sys.RecallQuery(ctx, recall.Query{UserID: "u1", AgentID: "a1", Query: "quarterly report"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(result.Memories) == 0 {
		t.Fatal("expected at least one recalled memory")
	}
}
