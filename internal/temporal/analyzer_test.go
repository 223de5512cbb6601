package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

func storeAt(t *testing.T, store storage.Memory, userID, agentID, content string, createdAt int64) string {
	t.Helper()
	id, err := store.Store(context.Background(), userID, agentID, model.MemoryData{
		Type: model.TypeEpisodic, Content: content, Importance: 0.5, Resonance: 1, CreatedAt: createdAt, UpdatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return id
}

func newTestAnalyzer(store storage.Memory, cfg config.TemporalConfig) *Analyzer {
	return New(store, cost.New(), cfg, config.CostControlConfig{}, config.ConnectionConfig{})
}

func TestAnalyzePatternsRequiresMinimumMemories(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := newTestAnalyzer(store, config.TemporalConfig{Enabled: true, MinMemoriesForAnalysis: 5})
	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		storeAt(t, store, "u1", "a1", "note", base+int64(i))
	}
	patterns, err := a.AnalyzePatterns(context.Background(), "u1", "a1", 0, 0, false)
	if err != nil {
		t.Fatalf("AnalyzePatterns: %v", err)
	}
	if patterns != nil {
		t.Errorf("expected nil patterns below minimum threshold, got %v", patterns)
	}
}

func TestAnalyzePatternsDetectsBurst(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := newTestAnalyzer(store, config.TemporalConfig{Enabled: true, MinMemoriesForAnalysis: 5})
	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		storeAt(t, store, "u1", "a1", "burst note", base+int64(i)*60_000) // 1 minute apart, all within 30 min window
	}
	patterns, err := a.AnalyzePatterns(context.Background(), "u1", "a1", 0, 0, false)
	if err != nil {
		t.Fatalf("AnalyzePatterns: %v", err)
	}
	found := false
	for _, p := range patterns {
		if p.Type == model.PatternBurst {
			found = true
			if len(p.Memories) != 5 {
				t.Errorf("expected 5 memories in burst, got %d", len(p.Memories))
			}
			if p.Confidence <= 0 || p.Confidence > 0.8 {
				t.Errorf("unexpected burst confidence: %f", p.Confidence)
			}
		}
	}
	if !found {
		t.Fatal("expected a burst pattern to be detected")
	}
}

func TestSharesPatternDetectsCommonBurst(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := newTestAnalyzer(store, config.TemporalConfig{Enabled: true, MinMemoriesForAnalysis: 5})
	base := time.Now().UnixMilli()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, storeAt(t, store, "u1", "a1", "burst note", base+int64(i)*60_000))
	}
	if _, err := a.AnalyzePatterns(context.Background(), "u1", "a1", 0, 0, false); err != nil {
		t.Fatalf("AnalyzePatterns: %v", err)
	}
	m1, _ := store.GetByID(context.Background(), "u1", ids[0])
	m2, _ := store.GetByID(context.Background(), "u1", ids[4])
	if !a.SharesPattern(m1, m2) {
		t.Error("expected SharesPattern to find the shared burst")
	}
}

func TestDetectActivityClustersRequiresMinimumSize(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := newTestAnalyzer(store, config.TemporalConfig{Enabled: true})
	base := time.Now().UnixMilli()
	storeAt(t, store, "u1", "a1", "one", base)
	storeAt(t, store, "u1", "a1", "two", base+1000)
	clusters, err := a.DetectActivityClusters(context.Background(), "u1", "a1", 0, 0, false)
	if err != nil {
		t.Fatalf("DetectActivityClusters: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("expected no clusters with only 2 memories, got %d", len(clusters))
	}
}

func TestDetectActivityClustersGroupsContiguousMemories(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := newTestAnalyzer(store, config.TemporalConfig{Enabled: true})
	base := time.Now().UnixMilli()
	for i := 0; i < 4; i++ {
		storeAt(t, store, "u1", "a1", "clustered", base+int64(i)*1000)
	}
	storeAt(t, store, "u1", "a1", "far away", base+int64(3*time.Hour/time.Millisecond))

	clusters, err := a.DetectActivityClusters(context.Background(), "u1", "a1", 0, 0, false)
	if err != nil {
		t.Fatalf("DetectActivityClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected exactly one cluster, got %d", len(clusters))
	}
	if len(clusters[0].MemoryIDs) != 4 {
		t.Errorf("expected 4 memories in the cluster, got %d", len(clusters[0].MemoryIDs))
	}
}

type stubTemporalProvider struct {
	resp llm.ObjectResponse
	err  error
}

func (s *stubTemporalProvider) GenerateObject(ctx context.Context, req llm.ObjectRequest) (llm.ObjectResponse, error) {
	return s.resp, s.err
}

func TestAugmentWithLLMSkipsWhenBudgetExhausted(t *testing.T) {
	store := storage.NewInMemory(nil)
	tracker := cost.New()
	a := New(store, tracker, config.TemporalConfig{Enabled: true, EnableLLMEnhancement: true, MinMemoriesForAnalysis: 5},
		config.CostControlConfig{HasMonthlyBudget: true, MonthlyBudget: 1.0}, config.ConnectionConfig{Provider: "openai", Model: "gpt-4o-mini"})
	tracker.TrackExtraction(context.Background(), cost.Extraction{AgentID: "a1", Operation: "x", Model: "m", CostUSD: 5})
	a.WithProviderBuilder(func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error) {
		t.Fatal("provider should not be built when budget is exhausted")
		return nil, nil
	})
	base := time.Now().UnixMilli()
	for i := 0; i < 20; i++ {
		storeAt(t, store, "u1", "a1", "note", base+int64(i)*1000)
	}
	patterns, err := a.AnalyzePatterns(context.Background(), "u1", "a1", 0, 0, false)
	if err != nil {
		t.Fatalf("AnalyzePatterns: %v", err)
	}
	_ = patterns
}

func TestAugmentWithLLMParsesValidResponse(t *testing.T) {
	store := storage.NewInMemory(nil)
	a := New(store, cost.New(), config.TemporalConfig{Enabled: true, EnableLLMEnhancement: true},
		config.CostControlConfig{}, config.ConnectionConfig{Provider: "openai", Model: "gpt-4o-mini"})
	t.Setenv("CONNECTION_API_KEY", "test-key")
	a.WithProviderBuilder(func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error) {
		return &stubTemporalProvider{resp: llm.ObjectResponse{JSON: `{"patterns":[{"type":"monthly","frequency":1,"confidence":0.7,"description":"month-end spike"}]}`}}, nil
	})
	base := time.Now().UnixMilli()
	memories := make([]*model.Memory, 0, 25)
	for i := 0; i < 25; i++ {
		id := storeAt(t, store, "u1", "a1", "note", base+int64(i)*1000)
		m, _ := store.GetByID(context.Background(), "u1", id)
		memories = append(memories, m)
	}
	out, err := a.augmentWithLLM(context.Background(), "a1", memories)
	if err != nil {
		t.Fatalf("augmentWithLLM: %v", err)
	}
	if len(out) != 1 || out[0].Type != model.PatternMonthly {
		t.Fatalf("unexpected augmentation result: %+v", out)
	}
}
