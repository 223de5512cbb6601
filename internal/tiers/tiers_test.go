package tiers

import (
	"context"
	"testing"

	"github.com/driftlane/memoryengine/internal/config"
	"github.com/driftlane/memoryengine/internal/embedding"
	"github.com/driftlane/memoryengine/internal/model"
	"github.com/driftlane/memoryengine/internal/storage"
)

func TestSemanticStoreAttachesEmbedding(t *testing.T) {
	store := storage.NewInMemory(nil)
	embedSvc := embedding.NewService(config.EmbeddingConfig{Enabled: true, Dimensions: 4}, embedding.NewMockProvider(4))
	s := NewSemantic(store, config.SemanticConfig{ConfidenceThreshold: 0}).WithEmbedding(embedSvc)

	id, err := s.Store(context.Background(), "u1", "a1", "paris is the capital of france", 0.8, "geography")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m, err := store.GetByID(context.Background(), "u1", id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	vec, ok := m.Metadata["embedding"].([]float32)
	if !ok || len(vec) != 4 {
		t.Fatalf("expected a 4-dimensional stored embedding, got %v", m.Metadata["embedding"])
	}
}

func TestWorkingRequiresSessionID(t *testing.T) {
	w := NewWorking(storage.NewInMemory(nil), config.WorkingConfig{TTLSeconds: 60})
	if _, err := w.Store(context.Background(), "u1", "a1", "", "hello", 0.5); err == nil {
		t.Fatalf("expected sessionId validation error")
	}
}

func TestWorkingStoreAndFilterBySession(t *testing.T) {
	w := NewWorking(storage.NewInMemory(nil), config.WorkingConfig{TTLSeconds: 60})
	ctx := context.Background()
	if _, err := w.Store(ctx, "u1", "a1", "s1", "hello s1", 0.5); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := w.Store(ctx, "u1", "a1", "s2", "hello s2", 0.5); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := w.Recall(ctx, "u1", "a1", "s1", "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("expected only s1 memory, got %+v", got)
	}
}

func TestEpisodicRejectsLowImportance(t *testing.T) {
	e := NewEpisodic(storage.NewInMemory(nil), config.EpisodicConfig{ImportanceThreshold: 0.3, DecayRate: 0.05})
	_, err := e.Store(context.Background(), "u1", "a1", "s1", "trivial", 0.1, nil)
	if err == nil {
		t.Fatalf("expected importance threshold rejection")
	}
}

func TestEpisodicApplyDecayRemovesExhausted(t *testing.T) {
	store := storage.NewInMemory(nil)
	e := NewEpisodic(store, config.EpisodicConfig{ImportanceThreshold: 0, DecayRate: 0.6, CompressionAgeDays: 0})
	ctx := context.Background()
	id, err := e.Store(ctx, "u1", "a1", "s1", "fading memory", 0.5, []string{"tag"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if _, err := e.ApplyDecay(ctx, "u1", "a1"); err != nil {
		t.Fatalf("applyDecay: %v", err)
	}
	result, err := e.ApplyDecay(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("applyDecay: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected memory removed after two decay passes, got %+v", result)
	}
	m, err := e.GetByID(ctx, "u1", id)
	if err != nil || m != nil {
		t.Fatalf("expected memory gone after decay, got m=%v err=%v", m, err)
	}
}

func TestSemanticRejectsLowConfidence(t *testing.T) {
	s := NewSemantic(storage.NewInMemory(nil), config.SemanticConfig{ConfidenceThreshold: 0.5})
	_, err := s.Store(context.Background(), "u1", "a1", "maybe a fact", 0.2, "general")
	if err == nil {
		t.Fatalf("expected confidence threshold rejection")
	}
}

func TestSemanticStoreAndRecall(t *testing.T) {
	s := NewSemantic(storage.NewInMemory(nil), config.SemanticConfig{ConfidenceThreshold: 0.5})
	ctx := context.Background()
	id, err := s.Store(ctx, "u1", "a1", "the sky is blue", 0.9, "physics")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m, err := s.GetByID(ctx, "u1", id)
	if err != nil || m == nil {
		t.Fatalf("getById: m=%v err=%v", m, err)
	}
	if m.Type != model.TypeSemantic {
		t.Fatalf("expected semantic type, got %v", m.Type)
	}
}

func TestGetByIDReturnsNilForWrongTier(t *testing.T) {
	store := storage.NewInMemory(nil)
	sem := NewSemantic(store, config.SemanticConfig{ConfidenceThreshold: 0})
	ctx := context.Background()
	id, err := sem.Store(ctx, "u1", "a1", "a fact", 0.9, "cat")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	proc := NewProcedural(store, config.ProceduralConfig{})
	m, err := proc.GetByID(ctx, "u1", id)
	if err != nil {
		t.Fatalf("getById should not error on type mismatch: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil for a semantic memory fetched through the procedural facade, got %+v", m)
	}
}

func TestProceduralRecordOutcomeAndAdaptiveFiltering(t *testing.T) {
	store := storage.NewInMemory(nil)
	p := NewProcedural(store, config.ProceduralConfig{AdaptiveLearning: true, MinSuccessRate: 0.5})
	ctx := context.Background()

	id, err := p.Store(ctx, "u1", "a1", "on error retry", "retry with backoff")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.RecordOutcome(ctx, "u1", "a1", id, false); err != nil {
			t.Fatalf("recordOutcome: %v", err)
		}
	}

	got, err := p.Recall(ctx, "u1", "a1", "retry", model.RecallOptions{Limit: 10})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected low-success-rate pattern filtered out, got %+v", got)
	}

	if err := p.RecordOutcome(ctx, "u1", "a1", id, true); err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if err := p.RecordOutcome(ctx, "u1", "a1", id, true); err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if err := p.RecordOutcome(ctx, "u1", "a1", id, true); err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}
	if err := p.RecordOutcome(ctx, "u1", "a1", id, true); err != nil {
		t.Fatalf("recordOutcome: %v", err)
	}

	got, err = p.Recall(ctx, "u1", "a1", "retry", model.RecallOptions{Limit: 10})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected pattern to reappear once success rate improves, got %+v", got)
	}
}
