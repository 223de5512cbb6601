package connections

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/cost"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/graph"
	"github.com/driftlane/memoryengine/internal/llm"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

func baseConnectionConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		Enabled: true,
		Thresholds: config.ConnectionThresholds{
			AutoSimilar: 0.9,
			AutoRelated: 0.75,
			LLMRequired: 0.5,
		},
		MaxCandidates: 10,
		Model:         "gpt-4o-mini",
	}
}

func newTestEngine(t *testing.T, store storage.Memory, builder ProviderBuilder) *Engine {
	t.Helper()
	return newTestEngineWithConfig(t, store, baseConnectionConfig(), builder)
}

func newTestEngineWithConfig(t *testing.T, store storage.Memory, cfg config.ConnectionConfig, builder ProviderBuilder) *Engine {
	t.Helper()
	embedCfg := config.EmbeddingConfig{Enabled: true, CacheEnabled: false, Dimensions: 4, BatchSize: 10}
	svc := embedding.NewService(embedCfg, embedding.NewMockProvider(4))
	g := graph.New(config.GraphConfig{MaxConnections: 50, MaxDepth: 6, StrengthThreshold: 0.1})
	tracker := cost.New()
	eng := NewEngine(store, svc, g, tracker, cfg, config.CostControlConfig{MaxLLMCallsPerBatch: 5}, nil, nil)
	if builder != nil {
		eng.WithProviderBuilder(builder)
	}
	return eng
}

// mustStore writes a memory carrying a real embedding (from the same
// deterministic mock provider fetchCandidates uses), matching the write
// path tiers.base.embedInto exercises in production: similarity search and
// scoring only see a meaningful signal when the stored memory actually has
// a vector attached, not just the query side of the comparison.
func mustStore(t *testing.T, store storage.Memory, userID, agentID, content string, importance float64) string {
	t.Helper()
	vec, err := embedding.NewMockProvider(4).Embed(context.Background(), "", []string{content})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	id, err := store.Store(context.Background(), userID, agentID, model.MemoryData{
		Type: model.TypeEpisodic, Content: content, Importance: importance, Resonance: 1,
		Metadata: map[string]any{"embedding": vec[0]},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return id
}

func TestDiscoverAutoSimilarBandSkipsLLM(t *testing.T) {
	store := storage.NewInMemory(nil)
	ctx := context.Background()

	srcID := mustStore(t, store, "u1", "a1", "exactly the same content", 0.5)
	mustStore(t, store, "u1", "a1", "exactly the same content", 0.5)

	// Identical content embeds to an identical vector, so the cosine
	// similarity between the source's embedding and the candidate's stored
	// embedding is a full 1.0, above this config's 0.9 auto-similar
	// threshold.
	eng := newTestEngineWithConfig(t, store, baseConnectionConfig(), func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error) {
		t.Fatal("LLM provider should not be invoked for auto-similar candidates")
		return nil, nil
	})

	conns, err := eng.Discover(ctx, "u1", "a1", srcID)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(conns) == 0 {
		t.Fatal("expected at least one connection")
	}
	for _, c := range conns {
		if c.ConnectionType != model.ConnSimilar {
			t.Errorf("expected similar connection, got %s", c.ConnectionType)
		}
	}
}

type stubProvider struct {
	resp llm.ObjectResponse
	err  error
}

func (s *stubProvider) GenerateObject(ctx context.Context, req llm.ObjectRequest) (llm.ObjectResponse, error) {
	return s.resp, s.err
}

func TestDiscoverLLMBandUsesFallbackOnError(t *testing.T) {
	store := storage.NewInMemory(nil)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	srcID := mustStore(t, store, "u1", "a1", "alpha content about trains", 0.5)
	_ = now
	mustStore(t, store, "u1", "a1", "totally different unrelated subject matter here", 0.3)

	cfg := baseConnectionConfig()
	cfg.Thresholds.LLMRequired = -1 // force every candidate into the LLM band regardless of embedding similarity
	eng := newTestEngineWithConfig(t, store, cfg, func(ctx context.Context, providerName, apiKey, baseURL, model string) (llm.Provider, error) {
		return &stubProvider{err: context.DeadlineExceeded}, nil
	})
	// force an API key to exist so the provider is actually built
	t.Setenv("CONNECTION_API_KEY", "test-key")

	conns, err := eng.Discover(ctx, "u1", "a1", srcID)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	foundFallback := false
	for _, c := range conns {
		if fb, ok := c.Metadata["fallback"].(bool); ok && fb {
			foundFallback = true
		}
	}
	if !foundFallback {
		t.Errorf("expected at least one deterministic fallback connection, got %+v", conns)
	}
}

func TestClassifyPairParsesValidJSON(t *testing.T) {
	resp := llm.ObjectResponse{JSON: `{"type":"causes","strength":0.8,"reason":"a led to b"}`}
	p := &stubProvider{resp: resp}
	ct, strength, reason, err := classifyPair(context.Background(), p, "gpt-4o-mini", baseConnectionConfig(),
		&model.Memory{ID: "a", Content: "a"}, &model.Memory{ID: "b", Content: "b"})
	if err != nil {
		t.Fatalf("classifyPair: %v", err)
	}
	if ct != model.ConnCauses || strength != 0.8 || reason != "a led to b" {
		t.Errorf("unexpected result: %s %f %s", ct, strength, reason)
	}
}

func TestClassifyPairRejectsInvalidType(t *testing.T) {
	resp := llm.ObjectResponse{JSON: `{"type":"bogus","strength":0.8}`}
	p := &stubProvider{resp: resp}
	_, _, _, err := classifyPair(context.Background(), p, "gpt-4o-mini", baseConnectionConfig(),
		&model.Memory{ID: "a"}, &model.Memory{ID: "b"})
	if err == nil {
		t.Fatal("expected error for invalid connection type")
	}
}

func TestResolveProviderAndAPIKeyCascade(t *testing.T) {
	t.Setenv("CONNECTION_PROVIDER", "")
	t.Setenv("PRIME_PROVIDER", "anthropic")
	if got := resolveProvider(""); got != "anthropic" {
		t.Errorf("expected anthropic from PRIME_PROVIDER, got %s", got)
	}
	t.Setenv("CONNECTION_API_KEY", "ck")
	if got := resolveAPIKey("", "anthropic"); got != "ck" {
		t.Errorf("expected CONNECTION_API_KEY to win, got %s", got)
	}
}

func TestFallbackClassifyBucketsByTimeDelta(t *testing.T) {
	a := &model.Memory{CreatedAt: 1000}
	b := &model.Memory{CreatedAt: 1000 + int64(time.Minute/time.Millisecond)}
	ct, strength, _ := fallbackClassify(a, b)
	if ct != model.ConnRelated || strength != 0.5 {
		t.Errorf("expected close-in-time strong related, got %s %f", ct, strength)
	}
}

func TestQueueDeduplicatesPendingTasks(t *testing.T) {
	var processed []Task
	done := make(chan struct{}, 10)
	q := NewQueue(func(ctx context.Context, t Task) {
		processed = append(processed, t)
		done <- struct{}{}
	}, time.Millisecond)
	q.Start(context.Background())
	defer q.Stop()

	task := Task{UserID: "u1", AgentID: "a1", MemoryID: "m1"}
	q.Enqueue(task)
	q.Enqueue(task)
	q.Enqueue(task)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task to process")
	}
	time.Sleep(20 * time.Millisecond)
	if len(processed) != 1 {
		t.Errorf("expected exactly one processed task, got %d", len(processed))
	}
}

func TestGetConnectionPathFindsShortestRoute(t *testing.T) {
	eng := newTestEngine(t, storage.NewInMemory(nil), nil)
	eng.graph.AddEdge(&model.Connection{ID: "c1", SourceMemoryID: "a", TargetMemoryID: "b", ConnectionType: model.ConnRelated, Strength: 0.9})
	eng.graph.AddEdge(&model.Connection{ID: "c2", SourceMemoryID: "b", TargetMemoryID: "c", ConnectionType: model.ConnRelated, Strength: 0.9})

	path, ok := eng.GetConnectionPath("a", "c")
	if !ok {
		t.Fatal("expected a path to be found")
	}
	if len(path) != 3 || path[0] != "a" || path[2] != "c" {
		t.Errorf("unexpected path: %v", path)
	}
}

func TestGetMemoryClustersFiltersByMinSize(t *testing.T) {
	eng := newTestEngine(t, storage.NewInMemory(nil), nil)
	eng.graph.AddEdge(&model.Connection{ID: "c1", SourceMemoryID: "a", TargetMemoryID: "b", ConnectionType: model.ConnRelated, Strength: 0.9})
	eng.graph.AddEdge(&model.Connection{ID: "c2", SourceMemoryID: "b", TargetMemoryID: "c", ConnectionType: model.ConnRelated, Strength: 0.9})
	eng.graph.AddEdge(&model.Connection{ID: "c3", SourceMemoryID: "x", TargetMemoryID: "y", ConnectionType: model.ConnRelated, Strength: 0.9})

	clusters := eng.GetMemoryClusters(3)
	if len(clusters) != 1 {
		t.Fatalf("expected exactly one cluster of size >= 3, got %d", len(clusters))
	}
}

func TestGetCentralMemoriesNormalizesToUnitRange(t *testing.T) {
	eng := newTestEngine(t, storage.NewInMemory(nil), nil)
	eng.graph.AddEdge(&model.Connection{ID: "c1", SourceMemoryID: "hub", TargetMemoryID: "a", ConnectionType: model.ConnRelated, Strength: 1})
	eng.graph.AddEdge(&model.Connection{ID: "c2", SourceMemoryID: "hub", TargetMemoryID: "b", ConnectionType: model.ConnRelated, Strength: 1})

	scores := eng.GetCentralMemories(5)
	if len(scores) == 0 {
		t.Fatal("expected at least one scored memory")
	}
	for _, s := range scores {
		if s.Centrality < 0 || s.Centrality > 1 {
			t.Errorf("expected centrality in [0,1], got %f for %s", s.Centrality, s.MemoryID)
		}
	}
	if scores[0].MemoryID != "hub" {
		t.Errorf("expected hub to be the most central memory, got %s", scores[0].MemoryID)
	}
}

func TestFindConnectedMemoriesDelegatesToStore(t *testing.T) {
	store := storage.NewInMemory(nil)
	eng := newTestEngine(t, store, nil)
	ctx := context.Background()

	srcID := mustStore(t, store, "u1", "a1", "source", 0.5)
	dstID := mustStore(t, store, "u1", "a1", "target", 0.5)
	if err := store.CreateConnections(ctx, "u1", []*model.Connection{
		{SourceMemoryID: srcID, TargetMemoryID: dstID, ConnectionType: model.ConnRelated, Strength: 0.7},
	}); err != nil {
		t.Fatalf("CreateConnections: %v", err)
	}

	result, err := eng.FindConnectedMemories(ctx, "u1", srcID, 1)
	if err != nil {
		t.Fatalf("FindConnectedMemories: %v", err)
	}
	if len(result.Memories) != 1 || result.Memories[0].ID != dstID {
		t.Errorf("expected to find target memory, got %+v", result.Memories)
	}
}

func TestClassificationResultRoundtrip(t *testing.T) {
	r := classificationResult{Type: "similar", Strength: 0.9, Reason: "test"}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out classificationResult
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != r {
		t.Errorf("roundtrip mismatch: %+v != %+v", out, r)
	}
}
